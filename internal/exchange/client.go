package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ahr999-autoinvest/internal/version"
)

// Options parameterise a REST venue client.
type Options struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	Timeout    time.Duration
}

type restClient struct {
	name    string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

func newRESTClient(name, baseURL, fallback string, timeout time.Duration, logger zerolog.Logger) restClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = fallback
	}
	return restClient{
		name:    name,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "exchange").Str("exchange", name).Logger(),
		now:     time.Now,
	}
}

// do issues the request and returns the body for any status; callers decide what a failure looks like.
func (c *restClient) do(ctx context.Context, method, path, rawQuery string, body []byte, headers http.Header) ([]byte, int, error) {
	endpoint := c.baseURL + path
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("exchange request")

	return payload, resp.StatusCode, nil
}

func httpError(name string, status int, payload []byte) error {
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", name, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", name, status)
}
