package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/alerting"
	"ahr999-autoinvest/internal/config"
	"ahr999-autoinvest/internal/exchange"
	"ahr999-autoinvest/internal/indicator"
	"ahr999-autoinvest/internal/storage"
	"ahr999-autoinvest/internal/strategy"
)

var testNow = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

type fakeExchange struct {
	mu         sync.Mutex
	price      float64
	history    float64
	balance    decimal.Decimal
	priceErr   error
	balanceErr error
	buyErr     error
	buys       []decimal.Decimal
	balances   int
}

func (f *fakeExchange) Name() string                      { return "fake" }
func (f *fakeExchange) Connect(ctx context.Context) error { return nil }

func (f *fakeExchange) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f.priceErr != nil {
		return decimal.Decimal{}, f.priceErr
	}
	return decimal.NewFromFloat(f.price), nil
}

func (f *fakeExchange) HistoricalPrices(ctx context.Context, symbol string, days int) ([]indicator.PricePoint, error) {
	points := make([]indicator.PricePoint, days)
	start := testNow.Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	for i := range points {
		points[i] = indicator.PricePoint{Day: start.AddDate(0, 0, i), Price: f.history}
	}
	return points, nil
}

func (f *fakeExchange) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances++
	if f.balanceErr != nil {
		return decimal.Decimal{}, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeExchange) MarketBuy(ctx context.Context, symbol string, quote decimal.Decimal) (exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return exchange.Order{}, f.buyErr
	}
	f.buys = append(f.buys, quote)
	return exchange.Order{ID: "order-" + quote.String(), Status: "FILLED", QuoteAmount: quote}, nil
}

func (f *fakeExchange) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return exchange.Ticker{Symbol: symbol, Last: decimal.NewFromFloat(f.price)}, nil
}

type memStore struct {
	records   []storage.InvestmentRecord
	appendErr error
	loadErr   error
}

func (m *memStore) LoadRecords(ctx context.Context) ([]storage.InvestmentRecord, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]storage.InvestmentRecord(nil), m.records...), nil
}

func (m *memStore) AppendRecord(ctx context.Context, rec storage.InvestmentRecord) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Close() error { return nil }

type lockingStore struct {
	memStore
	held bool
}

func (l *lockingStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, n alerting.Notification) error {
	c.notes = append(c.notes, n)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Strategy.Symbol = "BTC/USDT"
	cfg.Strategy.BottomThreshold = 0.45
	cfg.Strategy.DCAThreshold = 1.2
	cfg.Strategy.BottomAmount = 200
	cfg.Strategy.DCAAmount = 100
	cfg.AHR999.MADays = 200
	cfg.AHR999.HistoryPaddingDays = 10
	cfg.Scheduler.Timezone = "UTC"
	return cfg
}

// priceForValue picks a flat history and price so the indicator lands near target.
func priceForValue(target float64) (price, history float64) {
	model := indicator.DefaultModel()
	fitted := model.FittedPrice(model.AgeDays(testNow))
	// with a flat history equal to the price, value = price / fitted
	p := target * fitted
	return p, p
}

func newTestService(t *testing.T, cfg *config.Config, ex *fakeExchange, store storage.HistoryStore, notifier alerting.Notifier) *Service {
	t.Helper()
	svc, err := New(cfg, Deps{
		Exchange: ex,
		Recorder: storage.NewRecorder(store, time.UTC),
		Notifier: notifier,
		Now:      func() time.Time { return testNow },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}
	return svc
}

func TestExecuteIdempotentPerDay(t *testing.T) {
	price, hist := priceForValue(0.8)
	ex := &fakeExchange{price: price, history: hist, balance: decimal.NewFromInt(1000)}
	store := storage.NewFileStore(filepath.Join(t.TempDir(), "history.json"), time.UTC)
	svc := newTestService(t, testConfig(), ex, store, nil)

	first, err := svc.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("第一次执行失败: %v", err)
	}
	if first.State != StateDone || !first.Success || first.Action != strategy.ActionDCA {
		t.Fatalf("第一次应成功 DCA: %+v", first)
	}

	second, err := svc.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("第二次执行不应报错: %v", err)
	}
	if second.State != StateBlocked || second.Reason != ReasonAlreadyInvestedToday || second.Success {
		t.Fatalf("第二次应被阻断: %+v", second)
	}

	records, _ := store.LoadRecords(context.Background())
	if len(records) != 1 {
		t.Fatalf("当日应只有 1 条记录, 实际 %d", len(records))
	}
	if len(ex.buys) != 1 {
		t.Fatalf("应只下单一次, 实际 %d", len(ex.buys))
	}
	if records[0].OrderReference == nil || *records[0].OrderReference != "order-100" {
		t.Fatalf("订单号未记录: %+v", records[0].OrderReference)
	}
	wantBase := decimal.NewFromInt(100).Div(decimal.NewFromFloat(first.Snapshot.CurrentPrice))
	if !records[0].AmountBase.Equal(wantBase) {
		t.Fatalf("买入数量应为 amount/price: %s != %s", records[0].AmountBase, wantBase)
	}
}

func TestExecuteSimulateIsPure(t *testing.T) {
	for _, target := range []float64{0.2, 0.8, 1.5} {
		price, hist := priceForValue(target)
		ex := &fakeExchange{price: price, history: hist, balance: decimal.NewFromInt(1000)}
		store := &memStore{records: []storage.InvestmentRecord{{Timestamp: testNow, Action: strategy.ActionDCA}}}
		svc := newTestService(t, testConfig(), ex, store, nil)

		res, err := svc.Execute(context.Background(), true)
		if err != nil {
			t.Fatalf("模拟执行失败: %v", err)
		}
		if res.Reason == ReasonAlreadyInvestedToday {
			t.Fatalf("模拟不应受当日记录阻断")
		}
		if !res.Success || !res.DryRun {
			t.Fatalf("模拟应成功且标记 dry run: %+v", res)
		}
		if len(ex.buys) != 0 {
			t.Fatalf("模拟不应下单")
		}
		if len(store.records) != 1 {
			t.Fatalf("模拟不应写入记录")
		}
	}
}

func TestExecuteHoldSkipsBalance(t *testing.T) {
	price, hist := priceForValue(1.8)
	ex := &fakeExchange{price: price, history: hist, balance: decimal.Zero}
	svc := newTestService(t, testConfig(), ex, &memStore{}, nil)

	res, err := svc.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if res.State != StateDone || res.Action != strategy.ActionHold || !res.Success {
		t.Fatalf("应为 HOLD 完成: %+v", res)
	}
	if ex.balances != 0 {
		t.Fatalf("HOLD 不应查询余额")
	}
}

func TestExecuteBalanceGating(t *testing.T) {
	cases := []struct {
		name       string
		balance    int64
		minBalance float64
		simulate   bool
		want       Reason
	}{
		{"insufficient", 50, 0, false, ReasonInsufficientBalance},
		{"insufficient simulate", 50, 0, true, ReasonInsufficientBalance},
		{"below floor", 150, 500, false, ReasonBelowMinBalance},
		{"exact amount passes", 100, 100, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price, hist := priceForValue(0.8)
			ex := &fakeExchange{price: price, history: hist, balance: decimal.NewFromInt(tc.balance)}
			cfg := testConfig()
			cfg.Security.MinBalance = tc.minBalance
			store := &memStore{}
			svc := newTestService(t, cfg, ex, store, nil)

			res, err := svc.Execute(context.Background(), tc.simulate)
			if err != nil {
				t.Fatalf("执行失败: %v", err)
			}
			if res.Reason != tc.want {
				t.Fatalf("期望原因 %q, 实际 %q", tc.want, res.Reason)
			}
			if tc.want != "" {
				if res.State != StateBlocked || res.Success {
					t.Fatalf("应为阻断: %+v", res)
				}
				if len(ex.buys) != 0 || len(store.records) != 0 {
					t.Fatalf("阻断时不应下单或记录")
				}
			} else if len(ex.buys) != 1 {
				t.Fatalf("余额充足应下单")
			}
		})
	}
}

func TestExecuteCapabilityFailure(t *testing.T) {
	price, hist := priceForValue(0.8)
	capErr := &exchange.CapabilityError{Exchange: "fake", Op: "balance", Err: errors.New("timeout")}
	ex := &fakeExchange{price: price, history: hist, balanceErr: capErr}
	notifier := &captureNotifier{}
	svc := newTestService(t, testConfig(), ex, &memStore{}, notifier)

	res, err := svc.Execute(context.Background(), false)
	if !errors.Is(err, exchange.ErrCapability) {
		t.Fatalf("应传播能力错误: %v", err)
	}
	if res.State != StateFailed || res.Success {
		t.Fatalf("应为 FAILED: %+v", res)
	}
	if len(ex.buys) != 0 {
		t.Fatalf("失败时不应下单")
	}
	if len(notifier.notes) != 1 || notifier.notes[0].State != string(StateFailed) {
		t.Fatalf("失败应发送通知: %+v", notifier.notes)
	}
}

func TestExecuteInsufficientData(t *testing.T) {
	price, hist := priceForValue(0.8)
	ex := &fakeExchange{price: price, history: hist, balance: decimal.NewFromInt(1000)}
	cfg := testConfig()
	svc := newTestService(t, cfg, ex, &memStore{}, nil)
	svc.historyDays = cfg.AHR999.MADays - 1

	res, err := svc.Execute(context.Background(), false)
	if !errors.Is(err, indicator.ErrInsufficientData) {
		t.Fatalf("应返回数据不足错误: %v", err)
	}
	if res.State != StateFailed || ex.balances != 0 {
		t.Fatalf("数据不足应在查询余额前失败: %+v", res)
	}
}

func TestExecutePersistenceFailureKeepsTrade(t *testing.T) {
	price, hist := priceForValue(0.3)
	ex := &fakeExchange{price: price, history: hist, balance: decimal.NewFromInt(1000)}
	store := &memStore{appendErr: errors.New("disk full")}
	svc := newTestService(t, testConfig(), ex, store, nil)

	res, err := svc.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("记录失败不应使执行失败: %v", err)
	}
	if res.State != StateDone || res.Action != strategy.ActionBottom {
		t.Fatalf("应为 DONE BOTTOM: %+v", res)
	}
	if !errors.Is(res.RecordErr, storage.ErrPersistence) {
		t.Fatalf("RecordErr 应为 ErrPersistence: %v", res.RecordErr)
	}
	if len(ex.buys) != 1 || !ex.buys[0].Equal(decimal.NewFromInt(200)) {
		t.Fatalf("应已下单 200: %+v", ex.buys)
	}
}

func TestExecuteUnreadableHistoryFailsOpen(t *testing.T) {
	price, hist := priceForValue(0.8)
	ex := &fakeExchange{price: price, history: hist, balance: decimal.NewFromInt(1000)}
	store := &memStore{loadErr: errors.New("corrupt")}
	svc := newTestService(t, testConfig(), ex, store, nil)

	res, err := svc.Execute(context.Background(), false)
	if err != nil || res.State != StateDone {
		t.Fatalf("历史不可读时应继续执行: %+v %v", res, err)
	}
}

func TestExecuteSkipsWhenLockHeld(t *testing.T) {
	price, hist := priceForValue(0.8)
	ex := &fakeExchange{price: price, history: hist, balance: decimal.NewFromInt(1000)}
	cfg := testConfig()
	cfg.History.AdvisoryLockKey = 42
	svc := newTestService(t, cfg, ex, &lockingStore{held: true}, nil)

	res, err := svc.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("锁被占用不应报错: %v", err)
	}
	if res.State != StateBlocked || res.Reason != ReasonLockHeld {
		t.Fatalf("应因锁被跳过: %+v", res)
	}
	if len(ex.buys) != 0 {
		t.Fatalf("锁被占用时不应下单")
	}
}

func TestExecuteTransitions(t *testing.T) {
	price, hist := priceForValue(0.8)
	ex := &fakeExchange{price: price, history: hist, balance: decimal.NewFromInt(1000)}
	svc := newTestService(t, testConfig(), ex, &memStore{}, nil)

	res, err := svc.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	want := []State{StateIdle, StateChecking, StateReady, StateExecuting, StateDone}
	if len(res.Transitions) != len(want) {
		t.Fatalf("状态序列错误: %v", res.Transitions)
	}
	for i := range want {
		if res.Transitions[i] != want[i] {
			t.Fatalf("状态序列错误: %v", res.Transitions)
		}
	}
}

func TestNewRejectsBadThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.BottomThreshold = 1.5
	_, err := New(cfg, Deps{Exchange: &fakeExchange{}, Recorder: storage.NewRecorder(&memStore{}, time.UTC)}, zerolog.Nop())
	if !errors.Is(err, strategy.ErrInvalidThreshold) {
		t.Fatalf("应返回阈值错误: %v", err)
	}
}
