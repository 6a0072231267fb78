package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/indicator"
)

const (
	bitgetDefaultBaseURL = "https://api.bitget.com"
	bitgetSuccessCode    = "00000"
	bitgetCandleLimit    = 1000
)

// Bitget talks to the Bitget v2 spot REST API.
type Bitget struct {
	rest       restClient
	key        string
	secret     string
	passphrase string
}

// NewBitget constructs a Bitget client.
func NewBitget(opts Options, logger zerolog.Logger) *Bitget {
	return &Bitget{
		rest:       newRESTClient("bitget", opts.BaseURL, bitgetDefaultBaseURL, opts.Timeout, logger),
		key:        opts.APIKey,
		secret:     opts.APISecret,
		passphrase: opts.Passphrase,
	}
}

type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Name implements Exchange.
func (b *Bitget) Name() string { return "bitget" }

// Connect checks the server clock endpoint.
func (b *Bitget) Connect(ctx context.Context) error {
	if _, err := b.call(ctx, http.MethodGet, "/api/v2/spot/public/time", nil, nil, false); err != nil {
		return wrap(b.Name(), "connect", err)
	}
	return nil
}

// Ticker returns the 24h ticker.
func (b *Bitget) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	q := url.Values{}
	q.Set("symbol", VenueSymbol(symbol))
	data, err := b.call(ctx, http.MethodGet, "/api/v2/spot/market/tickers", q, nil, false)
	if err != nil {
		return Ticker{}, wrap(b.Name(), "ticker", err)
	}

	var rows []struct {
		LastPr      decimal.Decimal `json:"lastPr"`
		High24h     decimal.Decimal `json:"high24h"`
		Low24h      decimal.Decimal `json:"low24h"`
		BaseVolume  decimal.Decimal `json:"baseVolume"`
		QuoteVolume decimal.Decimal `json:"quoteVolume"`
		Change24h   decimal.Decimal `json:"change24h"`
		Ts          string          `json:"ts"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return Ticker{}, wrap(b.Name(), "ticker", fmt.Errorf("decode tickers: %w", err))
	}
	if len(rows) == 0 {
		return Ticker{}, wrap(b.Name(), "ticker", fmt.Errorf("no ticker for %s", symbol))
	}

	row := rows[0]
	t := Ticker{
		Symbol:      symbol,
		Last:        row.LastPr,
		High:        row.High24h,
		Low:         row.Low24h,
		BaseVolume:  row.BaseVolume,
		QuoteVolume: row.QuoteVolume,
		// change24h is a ratio
		ChangePct: row.Change24h.Mul(decimal.NewFromInt(100)),
	}
	if ms, err := strconv.ParseInt(row.Ts, 10, 64); err == nil {
		t.At = time.UnixMilli(ms).UTC()
	}
	return t, nil
}

// CurrentPrice returns the last traded price.
func (b *Bitget) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := b.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, wrap(b.Name(), "current_price", err)
	}
	if !t.Last.IsPositive() {
		return decimal.Decimal{}, wrap(b.Name(), "current_price", errors.New("ticker returned non-positive price"))
	}
	return t.Last, nil
}

// HistoricalPrices fetches daily closes, walking backwards with endTime until days are covered.
func (b *Bitget) HistoricalPrices(ctx context.Context, symbol string, days int) ([]indicator.PricePoint, error) {
	if days <= 0 {
		return nil, wrap(b.Name(), "historical_prices", errors.New("days must be positive"))
	}

	start := b.rest.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	points := make([]indicator.PricePoint, 0, days)
	var endTime int64

	for {
		limit := days - len(points)
		if limit > bitgetCandleLimit {
			limit = bitgetCandleLimit
		}
		if limit <= 0 {
			break
		}

		q := url.Values{}
		q.Set("symbol", VenueSymbol(symbol))
		q.Set("granularity", "1day")
		q.Set("limit", strconv.Itoa(limit))
		if endTime > 0 {
			q.Set("endTime", strconv.FormatInt(endTime, 10))
		}

		data, err := b.call(ctx, http.MethodGet, "/api/v2/spot/market/candles", q, nil, false)
		if err != nil {
			return nil, wrap(b.Name(), "historical_prices", err)
		}

		var rows [][]string
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("decode candles: %w", err))
		}
		if len(rows) == 0 {
			break
		}

		oldest := int64(-1)
		for _, row := range rows {
			if len(row) < 5 {
				return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("short candle row (%d fields)", len(row)))
			}
			ms, err := strconv.ParseInt(row[0], 10, 64)
			if err != nil {
				return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("parse candle time %q: %w", row[0], err))
			}
			closePx, err := strconv.ParseFloat(row[4], 64)
			if err != nil {
				return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("parse close %q: %w", row[4], err))
			}
			day := time.UnixMilli(ms).UTC()
			if day.Before(start) {
				continue
			}
			points = append(points, indicator.PricePoint{Day: day, Price: closePx})
			if oldest < 0 || ms < oldest {
				oldest = ms
			}
		}

		if oldest < 0 || len(rows) < limit {
			break
		}
		endTime = oldest - 1
	}

	return indicator.Normalize(points), nil
}

// Balance returns the available balance of currency.
func (b *Bitget) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("coin", strings.ToUpper(currency))
	data, err := b.call(ctx, http.MethodGet, "/api/v2/spot/account/assets", q, nil, true)
	if err != nil {
		return decimal.Decimal{}, wrap(b.Name(), "balance", err)
	}

	var rows []struct {
		Coin      string          `json:"coin"`
		Available decimal.Decimal `json:"available"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return decimal.Decimal{}, wrap(b.Name(), "balance", fmt.Errorf("decode assets: %w", err))
	}
	for _, row := range rows {
		if strings.EqualFold(row.Coin, currency) {
			return row.Available, nil
		}
	}
	return decimal.Zero, nil
}

// MarketBuy places a market buy; for market buys Bitget interprets size in the quote currency.
func (b *Bitget) MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (Order, error) {
	if !quoteAmount.IsPositive() {
		return Order{}, wrap(b.Name(), "market_buy", errors.New("quote amount must be positive"))
	}

	clientID := uuid.NewString()
	body, err := json.Marshal(map[string]string{
		"symbol":    VenueSymbol(symbol),
		"side":      "buy",
		"orderType": "market",
		"force":     "gtc",
		"size":      quoteAmount.String(),
		"clientOid": clientID,
	})
	if err != nil {
		return Order{}, wrap(b.Name(), "market_buy", err)
	}

	data, err := b.call(ctx, http.MethodPost, "/api/v2/spot/trade/place-order", nil, body, true)
	if err != nil {
		return Order{}, wrap(b.Name(), "market_buy", err)
	}

	var placed struct {
		OrderID   string `json:"orderId"`
		ClientOid string `json:"clientOid"`
	}
	if err := json.Unmarshal(data, &placed); err != nil {
		return Order{}, wrap(b.Name(), "market_buy", fmt.Errorf("decode order: %w", err))
	}

	order := Order{
		ID:            placed.OrderID,
		ClientOrderID: placed.ClientOid,
		Symbol:        symbol,
		Status:        "submitted",
		QuoteAmount:   quoteAmount,
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = clientID
	}

	if err := b.fillDetails(ctx, &order); err != nil {
		// the order is placed; fill details are informational
		b.rest.logger.Warn().Err(err).Str("order_id", order.ID).Msg("fetch order fill details failed")
	}
	return order, nil
}

func (b *Bitget) fillDetails(ctx context.Context, order *Order) error {
	q := url.Values{}
	q.Set("orderId", order.ID)
	data, err := b.call(ctx, http.MethodGet, "/api/v2/spot/trade/orderInfo", q, nil, true)
	if err != nil {
		return err
	}

	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("decode order info: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	info := rows[0]
	order.Raw = info
	if s, ok := info["status"].(string); ok {
		order.Status = s
	}
	if s, ok := info["baseVolume"].(string); ok {
		if v, err := decimal.NewFromString(s); err == nil {
			order.FilledBase = v
		}
	}
	if s, ok := info["priceAvg"].(string); ok {
		if v, err := decimal.NewFromString(s); err == nil {
			order.AvgPrice = v
		}
	}
	return nil
}

// call performs a request and unwraps the {code,msg,data} envelope.
func (b *Bitget) call(ctx context.Context, method, path string, q url.Values, body []byte, private bool) (json.RawMessage, error) {
	rawQuery := q.Encode()

	var headers http.Header
	if private {
		if b.key == "" || b.secret == "" || b.passphrase == "" {
			return nil, errors.New("api key, secret and passphrase required")
		}
		ts := strconv.FormatInt(b.rest.now().UnixMilli(), 10)
		headers = http.Header{}
		headers.Set("ACCESS-KEY", b.key)
		headers.Set("ACCESS-SIGN", bitgetSign(b.secret, ts, method, path, rawQuery, string(body)))
		headers.Set("ACCESS-TIMESTAMP", ts)
		headers.Set("ACCESS-PASSPHRASE", b.passphrase)
		headers.Set("locale", "en-US")
	}

	payload, status, err := b.rest.do(ctx, method, path, rawQuery, body, headers)
	if err != nil {
		return nil, err
	}

	var env bitgetEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		if status != http.StatusOK {
			return nil, httpError("bitget", status, payload)
		}
		return nil, fmt.Errorf("decode bitget response: %w", err)
	}
	if env.Code != bitgetSuccessCode {
		return nil, fmt.Errorf("bitget api error (%d): code=%s %s", status, env.Code, env.Msg)
	}
	return env.Data, nil
}

// bitgetSign is base64(HMAC-SHA256(timestamp + METHOD + path + ?query + body)).
func bitgetSign(secret, ts, method, path, rawQuery, body string) string {
	prehash := ts + strings.ToUpper(method) + path
	if rawQuery != "" {
		prehash += "?" + rawQuery
	}
	prehash += body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

var _ Exchange = (*Bitget)(nil)
