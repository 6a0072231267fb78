package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/config"
	"ahr999-autoinvest/internal/indicator"
)

// ErrCapability is the root of every exchange failure.
var ErrCapability = errors.New("exchange capability failure")

// Exchange is the set of venue operations the investor needs.
type Exchange interface {
	Name() string
	Connect(ctx context.Context) error
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	HistoricalPrices(ctx context.Context, symbol string, days int) ([]indicator.PricePoint, error)
	Balance(ctx context.Context, currency string) (decimal.Decimal, error)
	MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (Order, error)
	Ticker(ctx context.Context, symbol string) (Ticker, error)
}

// Order describes a placed market order. Fill fields are zero when the venue did not report them.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Status        string
	QuoteAmount   decimal.Decimal
	FilledBase    decimal.Decimal
	AvgPrice      decimal.Decimal
	Raw           map[string]any
}

// Ticker is a 24h market summary.
type Ticker struct {
	Symbol      string
	Last        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	BaseVolume  decimal.Decimal
	QuoteVolume decimal.Decimal
	ChangePct   decimal.Decimal
	At          time.Time
}

// CapabilityError wraps a venue failure with the operation that produced it.
type CapabilityError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Exchange, e.Op, e.Err)
}

// Unwrap exposes both ErrCapability and the underlying cause.
func (e *CapabilityError) Unwrap() []error {
	return []error{ErrCapability, e.Err}
}

func wrap(exchange, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return err
	}
	return &CapabilityError{Exchange: exchange, Op: op, Err: err}
}

// SplitSymbol parses BASE/QUOTE.
func SplitSymbol(symbol string) (string, string, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(symbol)), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid symbol %q, want BASE/QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// QuoteCurrency returns the part after the slash.
func QuoteCurrency(symbol string) string {
	_, quote, err := SplitSymbol(symbol)
	if err != nil {
		return ""
	}
	return quote
}

// VenueSymbol converts BASE/QUOTE to the concatenated form both venues use.
func VenueSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

// New builds the exchange selected by cfg.Exchange.Name.
func New(cfg *config.Config, logger zerolog.Logger) (Exchange, error) {
	return NewByName(cfg, cfg.Exchange.Name, logger)
}

// NewByName builds the named exchange using the credentials in cfg.
func NewByName(cfg *config.Config, name string, logger zerolog.Logger) (Exchange, error) {
	venue := cfg.Venue(name)
	opts := Options{
		BaseURL:    venue.BaseURL,
		APIKey:     venue.APIKey,
		APISecret:  venue.APISecret,
		Passphrase: venue.Passphrase,
		Timeout:    cfg.Exchange.RequestTimeout,
	}
	switch strings.ToLower(name) {
	case config.ExchangeBinance:
		return NewBinance(opts, logger), nil
	case config.ExchangeBitget:
		return NewBitget(opts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", name)
	}
}
