package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ahr999-autoinvest/internal/strategy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

const requiredYAML = `
strategy:
  symbol: BTC/USDT
  dca_threshold: 1.2
  bottom_threshold: 0.45
  dca_amount: 100
  bottom_amount: 200
security:
  min_balance: 0
ahr999:
  ma_days: 200
exchange:
  name: binance
`

// withRequired returns the minimal valid file with one fragment replaced.
func withRequired(old, repl string) string {
	return strings.Replace(requiredYAML, old, repl, 1)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, requiredYAML))
	if err != nil {
		t.Fatalf("最小配置应通过校验: %v", err)
	}
	if cfg.Strategy.Symbol != "BTC/USDT" || cfg.AHR999.MADays != 200 {
		t.Fatalf("unexpected values: %+v", cfg.Strategy)
	}
	if !cfg.AHR999.GenesisDate.Equal(time.Date(2009, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("genesis date should decode from default, got %v", cfg.AHR999.GenesisDate)
	}
	if cfg.Exchange.RequestTimeout != 10*time.Second {
		t.Fatalf("request timeout should decode, got %v", cfg.Exchange.RequestTimeout)
	}
	if cfg.HistoryDays() != 250 {
		t.Fatalf("history days should include padding, got %d", cfg.HistoryDays())
	}
	if cfg.History.Backend != HistoryJSON || cfg.Scheduler.Timezone != "Asia/Shanghai" {
		t.Fatalf("ambient defaults missing: %+v %+v", cfg.History, cfg.Scheduler)
	}
}

func TestLoadRejectsMissingRequiredKeys(t *testing.T) {
	noStrategy := writeConfig(t, "security:\n  min_balance: 0\nahr999:\n  ma_days: 200\nexchange:\n  name: binance\n")
	_, err := Load(noStrategy)
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("缺少 strategy 段应报错, 实际 %v", err)
	}
	if !strings.Contains(err.Error(), "strategy.dca_amount") {
		t.Fatalf("错误应指明缺失的键: %v", err)
	}

	for _, key := range requiredKeys {
		leaf := key[strings.Index(key, ".")+1:]
		lines := strings.Split(requiredYAML, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), leaf+":") {
				continue
			}
			kept = append(kept, line)
		}
		_, err := Load(writeConfig(t, strings.Join(kept, "\n")))
		if !errors.Is(err, ErrMissingKey) || !strings.Contains(err.Error(), key) {
			t.Fatalf("缺少 %s 应报错, 实际 %v", key, err)
		}
	}
}

func TestLoadRequiresConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("指定文件不存在应报错, 实际 %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	if _, err := Load(""); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("工作目录无 config.yaml 时应报错, 实际 %v", err)
	}
}

func TestLoadRequiredKeysFromEnv(t *testing.T) {
	path := writeConfig(t, withRequired("  dca_amount: 100\n", ""))
	t.Setenv("AHRINVEST_STRATEGY_DCA_AMOUNT", "75")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("环境变量提供的必填键应生效: %v", err)
	}
	if cfg.Strategy.DCAAmount != 75 {
		t.Fatalf("期望 75, 实际 %v", cfg.Strategy.DCAAmount)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
strategy:
  symbol: ETH/USDT
  dca_threshold: 1.0
  bottom_threshold: 0.5
  dca_amount: 50
  bottom_amount: 150
security:
  min_balance: 20
ahr999:
  ma_days: 100
exchange:
  name: bitget
  bitget:
    api_key: k
    api_secret: s
    passphrase: p
scheduler:
  hour: 9
  minute: 30
  timezone: UTC
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Strategy.Symbol != "ETH/USDT" || cfg.Strategy.BottomAmount != 150 || cfg.Security.MinBalance != 20 {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Strategy, cfg.Security)
	}
	if err := cfg.ValidateCredentials(); err != nil {
		t.Fatalf("credentials present, got %v", err)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("location should be UTC")
	}
}

func TestValidateThresholdOrdering(t *testing.T) {
	path := writeConfig(t, withRequired("dca_threshold: 1.2", "dca_threshold: 0.4"))

	_, err := Load(path)
	if !errors.Is(err, strategy.ErrInvalidThreshold) {
		t.Fatalf("期望 ErrInvalidThreshold, 实际 %v", err)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cases := map[string]string{
		"exchange":  withRequired("name: binance", "name: kraken"),
		"backend":   requiredYAML + "history:\n  backend: mongo\n",
		"timezone":  requiredYAML + "scheduler:\n  timezone: Mars/Olympus\n",
		"ma_days":   withRequired("ma_days: 200", "ma_days: 0"),
		"postgres":  requiredYAML + "history:\n  backend: postgres\n",
		"symbol":    withRequired("symbol: BTC/USDT", "symbol: BTCUSDT"),
		"telegram":  requiredYAML + "alerting:\n  telegram:\n    enabled: true\n",
		"min_floor": withRequired("min_balance: 0", "min_balance: -1"),
		"amount":    withRequired("dca_amount: 100", "dca_amount: 0"),
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: 非法配置应报错", name)
		}
	}
}

func TestValidateCredentialsMissing(t *testing.T) {
	cfg := &Config{Exchange: ExchangeConfig{Name: ExchangeBitget, Bitget: VenueConfig{APIKey: "k", APISecret: "s"}}}
	if err := cfg.ValidateCredentials(); err == nil {
		t.Fatal("bitget without passphrase should fail")
	}
	cfg.Exchange.Name = ExchangeBinance
	if err := cfg.ValidateCredentials(); err == nil {
		t.Fatal("binance without keys should fail")
	}
}

func TestModelAndPolicyFromConfig(t *testing.T) {
	path := writeConfig(t, withRequired("  ma_days: 200\n", "  ma_days: 200\n  model_slope: 5.5\n"))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	m := cfg.Model()
	if m.Slope != 5.5 || m.Intercept != 17.01 {
		t.Fatalf("模型参数错误: %+v", m)
	}

	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("构造策略失败: %v", err)
	}
	if d := p.Decide(0.3); d.Action != strategy.ActionBottom || d.Amount.String() != "200" {
		t.Fatalf("抄底决策错误: %+v", d)
	}
}
