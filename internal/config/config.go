package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"ahr999-autoinvest/internal/indicator"
	"ahr999-autoinvest/internal/logging"
	"ahr999-autoinvest/internal/strategy"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Security  SecurityConfig  `mapstructure:"security"`
	AHR999    AHR999Config    `mapstructure:"ahr999"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	History   HistoryConfig   `mapstructure:"history"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StrategyConfig 定投/抄底参数。
type StrategyConfig struct {
	Symbol          string  `mapstructure:"symbol"`
	DCAThreshold    float64 `mapstructure:"dca_threshold"`
	BottomThreshold float64 `mapstructure:"bottom_threshold"`
	DCAAmount       float64 `mapstructure:"dca_amount"`
	BottomAmount    float64 `mapstructure:"bottom_amount"`
}

// SecurityConfig holds balance safety settings.
type SecurityConfig struct {
	MinBalance float64 `mapstructure:"min_balance"`
}

// AHR999Config parameterises the indicator model.
type AHR999Config struct {
	MADays             int       `mapstructure:"ma_days"`
	GenesisDate        time.Time `mapstructure:"genesis_date"`
	ModelSlope         float64   `mapstructure:"model_slope"`
	ModelIntercept     float64   `mapstructure:"model_intercept"`
	HistoryPaddingDays int       `mapstructure:"history_padding_days"`
}

// ExchangeConfig selects the trading venue.
type ExchangeConfig struct {
	Name           string        `mapstructure:"name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Binance        VenueConfig   `mapstructure:"binance"`
	Bitget         VenueConfig   `mapstructure:"bitget"`
}

// VenueConfig carries API credentials for one exchange.
type VenueConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
	BaseURL    string `mapstructure:"base_url"`
}

// SchedulerConfig governs the daily trigger.
type SchedulerConfig struct {
	Hour       int    `mapstructure:"hour"`
	Minute     int    `mapstructure:"minute"`
	Timezone   string `mapstructure:"timezone"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// HistoryConfig selects where investment records are kept.
type HistoryConfig struct {
	Backend         string `mapstructure:"backend"`
	Path            string `mapstructure:"path"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	AdvisoryLockKey int64  `mapstructure:"advisory_lock_key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

var (
	// ErrConfigNotFound indicates no configuration file could be located.
	ErrConfigNotFound = errors.New("config: file not found")
	// ErrMissingKey indicates a required key is absent from file and environment.
	ErrMissingKey = errors.New("config: required key missing")
)

// Supported values for exchange.name and history.backend.
const (
	ExchangeBinance = "binance"
	ExchangeBitget  = "bitget"

	HistoryJSON     = "json"
	HistoryPostgres = "postgres"
	HistorySQLite   = "sqlite"
)

// Load builds configuration from .env, file, environment, and defaults. The file is
// mandatory and every key in requiredKeys must be present in it or in the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("AHRINVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range requiredKeys {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}
	if err := checkRequired(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyCredentialEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return fmt.Errorf("%w: no config.yaml in the working directory, pass --config", ErrConfigNotFound)
		}
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrConfigNotFound, err)
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// requiredKeys have no defaults; trading amounts and thresholds must be stated explicitly.
var requiredKeys = []string{
	"strategy.symbol",
	"strategy.dca_threshold",
	"strategy.bottom_threshold",
	"strategy.dca_amount",
	"strategy.bottom_amount",
	"security.min_balance",
	"ahr999.ma_days",
	"exchange.name",
}

func checkRequired(v *viper.Viper) error {
	var missing []string
	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ahrinvest")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("ahr999.genesis_date", "2009-01-03")
	v.SetDefault("ahr999.model_slope", 5.84)
	v.SetDefault("ahr999.model_intercept", 17.01)
	v.SetDefault("ahr999.history_padding_days", 50)

	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.binance.base_url", "https://api.binance.com")
	v.SetDefault("exchange.bitget.base_url", "https://api.bitget.com")

	v.SetDefault("scheduler.hour", 0)
	v.SetDefault("scheduler.minute", 0)
	v.SetDefault("scheduler.timezone", "Asia/Shanghai")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("history.backend", HistoryJSON)
	v.SetDefault("history.path", "logs/investment_history.json")
	v.SetDefault("history.sqlite_path", "logs/investment_history.db")
	v.SetDefault("history.advisory_lock_key", int64(0x61687239))

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9108")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.DateOnly),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// applyCredentialEnv fills empty credentials from the conventional variable names.
func (c *Config) applyCredentialEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&c.Exchange.Binance.APIKey, "BINANCE_API_KEY")
	fill(&c.Exchange.Binance.APISecret, "BINANCE_API_SECRET")
	fill(&c.Exchange.Bitget.APIKey, "BITGET_API_KEY")
	fill(&c.Exchange.Bitget.APISecret, "BITGET_API_SECRET")
	fill(&c.Exchange.Bitget.Passphrase, "BITGET_PASSPHRASE")
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Strategy.Symbol) == "" {
		return fmt.Errorf("strategy.symbol must be set")
	}
	if !strings.Contains(c.Strategy.Symbol, "/") {
		return fmt.Errorf("strategy.symbol must look like BASE/QUOTE, got %q", c.Strategy.Symbol)
	}
	if c.Strategy.BottomThreshold <= 0 {
		return fmt.Errorf("%w: strategy.bottom_threshold must be greater than zero", strategy.ErrInvalidThreshold)
	}
	if c.Strategy.BottomThreshold >= c.Strategy.DCAThreshold {
		return fmt.Errorf("%w: strategy.bottom_threshold (%v) must be less than strategy.dca_threshold (%v)", strategy.ErrInvalidThreshold, c.Strategy.BottomThreshold, c.Strategy.DCAThreshold)
	}
	if c.Strategy.DCAAmount <= 0 || c.Strategy.BottomAmount <= 0 {
		return fmt.Errorf("strategy.dca_amount and strategy.bottom_amount must be greater than zero")
	}
	if c.Security.MinBalance < 0 {
		return fmt.Errorf("security.min_balance cannot be negative")
	}
	if c.AHR999.MADays <= 0 {
		return fmt.Errorf("ahr999.ma_days must be greater than zero")
	}
	if c.AHR999.HistoryPaddingDays < 0 {
		return fmt.Errorf("ahr999.history_padding_days cannot be negative")
	}
	switch strings.ToLower(c.Exchange.Name) {
	case ExchangeBinance, ExchangeBitget:
	default:
		return fmt.Errorf("exchange.name %q 不受支持 (binance|bitget)", c.Exchange.Name)
	}
	if c.Scheduler.Hour < 0 || c.Scheduler.Hour > 23 || c.Scheduler.Minute < 0 || c.Scheduler.Minute > 59 {
		return fmt.Errorf("scheduler.hour/minute out of range: %02d:%02d", c.Scheduler.Hour, c.Scheduler.Minute)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	switch c.History.Backend {
	case HistoryJSON:
		if c.History.Path == "" {
			return fmt.Errorf("history.path must be set for the json backend")
		}
	case HistorySQLite:
		if c.History.SQLitePath == "" {
			return fmt.Errorf("history.sqlite_path must be set for the sqlite backend")
		}
	case HistoryPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("history.backend %q 不受支持 (json|postgres|sqlite)", c.History.Backend)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ValidateCredentials checks the selected exchange has API keys.
func (c *Config) ValidateCredentials() error {
	venue := c.Venue(c.Exchange.Name)
	if venue.APIKey == "" || venue.APISecret == "" {
		return fmt.Errorf("missing API credentials for %s", c.Exchange.Name)
	}
	if strings.EqualFold(c.Exchange.Name, ExchangeBitget) && venue.Passphrase == "" {
		return fmt.Errorf("missing API passphrase for %s", c.Exchange.Name)
	}
	return nil
}

// Venue returns the credentials block for the named exchange.
func (c *Config) Venue(name string) VenueConfig {
	switch strings.ToLower(name) {
	case ExchangeBitget:
		return c.Exchange.Bitget
	default:
		return c.Exchange.Binance
	}
}

// Location resolves scheduler.timezone; falls back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HistoryDays is how many days of closes to request for the moving average.
func (c *Config) HistoryDays() int {
	return c.AHR999.MADays + c.AHR999.HistoryPaddingDays
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Model returns the indicator calibration, with unset fields taking the defaults.
func (c *Config) Model() indicator.Model {
	model := indicator.DefaultModel()
	if !c.AHR999.GenesisDate.IsZero() {
		model.Genesis = c.AHR999.GenesisDate
	}
	if c.AHR999.ModelSlope != 0 {
		model.Slope = c.AHR999.ModelSlope
	}
	if c.AHR999.ModelIntercept != 0 {
		model.Intercept = c.AHR999.ModelIntercept
	}
	return model
}

// Policy builds the decision policy from the strategy section.
func (c *Config) Policy() (*strategy.Policy, error) {
	return strategy.NewPolicy(
		strategy.Thresholds{Bottom: c.Strategy.BottomThreshold, DCA: c.Strategy.DCAThreshold},
		decimal.NewFromFloat(c.Strategy.BottomAmount),
		decimal.NewFromFloat(c.Strategy.DCAAmount),
	)
}
