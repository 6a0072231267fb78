package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	binanceDefaultBaseURL = "https://api.binance.com"
	binanceKlineLimit     = 1000
	binanceRecvWindow     = "5000"
)

// Binance talks to the Binance spot REST API.
type Binance struct {
	rest   restClient
	key    string
	secret string
}

// NewBinance constructs a Binance client.
func NewBinance(opts Options, logger zerolog.Logger) *Binance {
	return &Binance{
		rest:   newRESTClient("binance", opts.BaseURL, binanceDefaultBaseURL, opts.Timeout, logger),
		key:    opts.APIKey,
		secret: opts.APISecret,
	}
}

// Name implements Exchange.
func (b *Binance) Name() string { return "binance" }

// Connect pings the API.
func (b *Binance) Connect(ctx context.Context) error {
	if _, err := b.public(ctx, "/api/v3/ping", nil); err != nil {
		return wrap(b.Name(), "connect", err)
	}
	return nil
}

// Ticker returns the 24h ticker.
func (b *Binance) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	q := url.Values{}
	q.Set("symbol", VenueSymbol(symbol))
	payload, err := b.public(ctx, "/api/v3/ticker/24hr", q)
	if err != nil {
		return Ticker{}, wrap(b.Name(), "ticker", err)
	}

	var raw struct {
		LastPrice          decimal.Decimal `json:"lastPrice"`
		HighPrice          decimal.Decimal `json:"highPrice"`
		LowPrice           decimal.Decimal `json:"lowPrice"`
		Volume             decimal.Decimal `json:"volume"`
		QuoteVolume        decimal.Decimal `json:"quoteVolume"`
		PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
		CloseTime          int64           `json:"closeTime"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Ticker{}, wrap(b.Name(), "ticker", fmt.Errorf("decode ticker: %w", err))
	}

	return Ticker{
		Symbol:      symbol,
		Last:        raw.LastPrice,
		High:        raw.HighPrice,
		Low:         raw.LowPrice,
		BaseVolume:  raw.Volume,
		QuoteVolume: raw.QuoteVolume,
		ChangePct:   raw.PriceChangePercent,
		At:          time.UnixMilli(raw.CloseTime).UTC(),
	}, nil
}

// CurrentPrice returns the last traded price.
func (b *Binance) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := b.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, wrap(b.Name(), "current_price", err)
	}
	if !t.Last.IsPositive() {
		return decimal.Decimal{}, wrap(b.Name(), "current_price", errors.New("ticker returned non-positive price"))
	}
	return t.Last, nil
}

// HistoricalPrices fetches daily closes covering the last days days, paging by 1000 candles.
func (b *Binance) HistoricalPrices(ctx context.Context, symbol string, days int) ([]indicator.PricePoint, error) {
	if days <= 0 {
		return nil, wrap(b.Name(), "historical_prices", errors.New("days must be positive"))
	}

	today := b.rest.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	points := make([]indicator.PricePoint, 0, days)
	cursor := start.UnixMilli()
	for {
		q := url.Values{}
		q.Set("symbol", VenueSymbol(symbol))
		q.Set("interval", "1d")
		q.Set("startTime", strconv.FormatInt(cursor, 10))
		q.Set("limit", strconv.Itoa(binanceKlineLimit))

		payload, err := b.public(ctx, "/api/v3/klines", q)
		if err != nil {
			return nil, wrap(b.Name(), "historical_prices", err)
		}

		var rows [][]json.RawMessage
		if err := json.Unmarshal(payload, &rows); err != nil {
			return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("decode klines: %w", err))
		}
		if len(rows) == 0 {
			break
		}

		var lastOpen int64
		for _, row := range rows {
			if len(row) < 5 {
				return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("short kline row (%d fields)", len(row)))
			}
			var openMs int64
			if err := json.Unmarshal(row[0], &openMs); err != nil {
				return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("decode open time: %w", err))
			}
			var closeStr string
			if err := json.Unmarshal(row[4], &closeStr); err != nil {
				return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("decode close: %w", err))
			}
			closePx, err := strconv.ParseFloat(closeStr, 64)
			if err != nil {
				return nil, wrap(b.Name(), "historical_prices", fmt.Errorf("parse close %q: %w", closeStr, err))
			}
			points = append(points, indicator.PricePoint{Day: time.UnixMilli(openMs).UTC(), Price: closePx})
			lastOpen = openMs
		}

		if len(rows) < binanceKlineLimit {
			break
		}
		cursor = lastOpen + 1
		if cursor > today.UnixMilli() {
			break
		}
	}

	return indicator.Normalize(points), nil
}

// Balance returns the free balance of currency.
func (b *Binance) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	payload, err := b.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return decimal.Decimal{}, wrap(b.Name(), "balance", err)
	}

	var raw struct {
		Balances []struct {
			Asset string          `json:"asset"`
			Free  decimal.Decimal `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return decimal.Decimal{}, wrap(b.Name(), "balance", fmt.Errorf("decode account: %w", err))
	}
	for _, bal := range raw.Balances {
		if strings.EqualFold(bal.Asset, currency) {
			return bal.Free, nil
		}
	}
	return decimal.Zero, nil
}

// MarketBuy spends quoteAmount of the quote currency.
func (b *Binance) MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (Order, error) {
	if !quoteAmount.IsPositive() {
		return Order{}, wrap(b.Name(), "market_buy", errors.New("quote amount must be positive"))
	}

	clientID := uuid.NewString()
	q := url.Values{}
	q.Set("symbol", VenueSymbol(symbol))
	q.Set("side", "BUY")
	q.Set("type", "MARKET")
	q.Set("quoteOrderQty", quoteAmount.String())
	q.Set("newClientOrderId", clientID)
	q.Set("newOrderRespType", "FULL")

	payload, err := b.signed(ctx, http.MethodPost, "/api/v3/order", q)
	if err != nil {
		return Order{}, wrap(b.Name(), "market_buy", err)
	}

	var raw struct {
		OrderID             int64           `json:"orderId"`
		ClientOrderID       string          `json:"clientOrderId"`
		Status              string          `json:"status"`
		ExecutedQty         decimal.Decimal `json:"executedQty"`
		CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Order{}, wrap(b.Name(), "market_buy", fmt.Errorf("decode order: %w", err))
	}
	var full map[string]any
	_ = json.Unmarshal(payload, &full)

	order := Order{
		ID:            strconv.FormatInt(raw.OrderID, 10),
		ClientOrderID: raw.ClientOrderID,
		Symbol:        symbol,
		Status:        raw.Status,
		QuoteAmount:   quoteAmount,
		FilledBase:    raw.ExecutedQty,
		Raw:           full,
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = clientID
	}
	if raw.ExecutedQty.IsPositive() {
		order.AvgPrice = raw.CummulativeQuoteQty.Div(raw.ExecutedQty)
	}
	return order, nil
}

func (b *Binance) public(ctx context.Context, path string, q url.Values) ([]byte, error) {
	payload, status, err := b.rest.do(ctx, http.MethodGet, path, q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, binanceError(status, payload)
	}
	return payload, nil
}

func (b *Binance) signed(ctx context.Context, method, path string, q url.Values) ([]byte, error) {
	if b.key == "" || b.secret == "" {
		return nil, errors.New("api key and secret required")
	}
	q.Set("timestamp", strconv.FormatInt(b.rest.now().UnixMilli(), 10))
	q.Set("recvWindow", binanceRecvWindow)
	encoded := q.Encode()
	rawQuery := encoded + "&signature=" + binanceSign(b.secret, encoded)

	headers := http.Header{}
	headers.Set("X-MBX-APIKEY", b.key)

	payload, status, err := b.rest.do(ctx, method, path, rawQuery, nil, headers)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, binanceError(status, payload)
	}
	return payload, nil
}

// binanceSign signs the encoded query; the signature is appended as the last parameter.
func binanceSign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func binanceError(status int, payload []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance api error (%d): code=%d %s", status, apiErr.Code, apiErr.Msg)
	}
	return httpError("binance", status, payload)
}

var _ Exchange = (*Binance)(nil)
