package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ahr999-autoinvest/internal/alerting"
	"ahr999-autoinvest/internal/config"
	"ahr999-autoinvest/internal/exchange"
	"ahr999-autoinvest/internal/indicator"
	"ahr999-autoinvest/internal/metrics"
	"ahr999-autoinvest/internal/scheduler"
	"ahr999-autoinvest/internal/storage"
	"ahr999-autoinvest/internal/strategy"
)

// State is a step of the execution state machine.
type State string

const (
	StateIdle      State = "IDLE"
	StateChecking  State = "CHECKING"
	StateReady     State = "READY"
	StateBlocked   State = "BLOCKED"
	StateExecuting State = "EXECUTING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// Reason explains a BLOCKED outcome.
type Reason string

const (
	ReasonAlreadyInvestedToday Reason = "already_invested_today"
	ReasonInsufficientBalance  Reason = "insufficient_balance"
	ReasonBelowMinBalance      Reason = "below_min_balance"
	ReasonLockHeld             Reason = "execution_in_progress"
)

// Result is the structured outcome of one Execute call.
type Result struct {
	State       State
	Success     bool
	Reason      Reason
	Action      strategy.Action
	DryRun      bool
	Snapshot    *indicator.Snapshot
	Decision    *strategy.Decision
	Balance     decimal.Decimal
	Required    decimal.Decimal
	AmountBase  decimal.Decimal
	Order       *exchange.Order
	Record      *storage.InvestmentRecord
	RecordErr   error
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
	Transitions []State
}

func (r *Result) enter(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Deps are the collaborators of a Service. Exchange and Recorder are required.
type Deps struct {
	Exchange  exchange.Exchange
	Recorder  *storage.Recorder
	Notifier  alerting.Notifier
	Metrics   *metrics.Metrics
	Scheduler *scheduler.Scheduler
	Now       func() time.Time
}

// Service runs the daily investment decision against one exchange.
type Service struct {
	exchange  exchange.Exchange
	recorder  *storage.Recorder
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
	now       func() time.Time

	policy      *strategy.Policy
	model       indicator.Model
	symbol      string
	quote       string
	maDays      int
	historyDays int
	minBalance  decimal.Decimal

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the execution service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Exchange == nil {
		return nil, errors.New("exchange not configured")
	}
	if deps.Recorder == nil {
		return nil, errors.New("recorder not configured")
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	quote := exchange.QuoteCurrency(cfg.Strategy.Symbol)
	if quote == "" {
		return nil, fmt.Errorf("cannot derive quote currency from %q", cfg.Strategy.Symbol)
	}

	now := deps.Now
	if now == nil {
		loc := cfg.Location()
		now = func() time.Time { return time.Now().In(loc) }
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Recorder.Store().(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		exchange:    deps.Exchange,
		recorder:    deps.Recorder,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		scheduler:   deps.Scheduler,
		logger:      logger.With().Str("component", "service").Logger(),
		now:         now,
		policy:      policy,
		model:       cfg.Model(),
		symbol:      cfg.Strategy.Symbol,
		quote:       quote,
		maDays:      cfg.AHR999.MADays,
		historyDays: cfg.HistoryDays(),
		minBalance:  decimal.NewFromFloat(cfg.Security.MinBalance),
		locker:      locker,
		lockKey:     cfg.History.AdvisoryLockKey,
	}, nil
}

// Policy returns the decision policy in use.
func (s *Service) Policy() *strategy.Policy {
	return s.policy
}

// Run executes on every scheduler firing until ctx is cancelled.
func (s *Service) Run(ctx context.Context, simulate bool) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, fired time.Time) error {
		_, err := s.Execute(ctx, simulate)
		return err
	})
}

// Snapshot fetches prices and computes the current indicator.
func (s *Service) Snapshot(ctx context.Context) (indicator.Snapshot, error) {
	history, err := s.exchange.HistoricalPrices(ctx, s.symbol, s.historyDays)
	if err != nil {
		return indicator.Snapshot{}, fmt.Errorf("fetch price history: %w", err)
	}
	price, err := s.exchange.CurrentPrice(ctx, s.symbol)
	if err != nil {
		return indicator.Snapshot{}, fmt.Errorf("fetch current price: %w", err)
	}

	snap, err := indicator.Compute(s.symbol, history, price.InexactFloat64(), s.maDays, s.model, s.now())
	if err != nil {
		return indicator.Snapshot{}, err
	}
	s.metrics.ObserveSnapshot(snap.Value, snap.CurrentPrice)
	return snap, nil
}

// Execute runs one pass of the state machine. Blocked outcomes are not errors;
// the returned error is non-nil only for FAILED results.
func (s *Service) Execute(ctx context.Context, simulate bool) (Result, error) {
	res := Result{DryRun: simulate, StartedAt: s.now()}
	res.enter(StateIdle)

	if !simulate {
		unlock, proceed, err := s.acquireLock(ctx)
		if err != nil {
			return s.fail(ctx, res, err)
		}
		if !proceed {
			s.logger.Warn().Msg("skip execution because advisory lock held elsewhere")
			return s.block(ctx, res, ReasonLockHeld), nil
		}
		if unlock != nil {
			defer unlock()
		}
	}

	res.enter(StateChecking)
	if !simulate {
		invested, err := s.recorder.HasInvestedToday(ctx, res.StartedAt)
		if err != nil {
			s.logger.Warn().Err(err).Msg("investment history unreadable, continuing")
		}
		if invested {
			return s.block(ctx, res, ReasonAlreadyInvestedToday), nil
		}
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return s.fail(ctx, res, err)
	}
	res.Snapshot = &snap

	decision := s.policy.Decide(snap.Value)
	res.Decision = &decision
	res.Action = decision.Action
	res.Required = decision.Amount
	s.logger.Info().
		Float64("ahr999", snap.Value).
		Str("action", string(decision.Action)).
		Str("amount", decision.Amount.String()).
		Str("reason", decision.Reason).
		Msg("decision")

	res.enter(StateReady)
	if decision.Amount.IsZero() {
		return s.done(ctx, res), nil
	}

	balance, err := s.exchange.Balance(ctx, s.quote)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("fetch balance: %w", err))
	}
	res.Balance = balance
	if balance.LessThan(decision.Amount) {
		return s.block(ctx, res, ReasonInsufficientBalance), nil
	}
	if balance.LessThan(s.minBalance) {
		return s.block(ctx, res, ReasonBelowMinBalance), nil
	}

	res.enter(StateExecuting)
	price := decimal.NewFromFloat(snap.CurrentPrice)
	res.AmountBase = decision.Amount.Div(price)

	if simulate {
		s.logger.Info().
			Str("symbol", s.symbol).
			Str("amount", decision.Amount.String()).
			Msg("dry run, order not placed")
		return s.done(ctx, res), nil
	}

	order, err := s.exchange.MarketBuy(ctx, s.symbol, decision.Amount)
	if err != nil {
		// the order may or may not exist on the venue; no retry here
		return s.fail(ctx, res, fmt.Errorf("market buy: %w", err))
	}
	res.Order = &order

	s.logger.Info().
		Str("exchange", s.exchange.Name()).
		Str("symbol", s.symbol).
		Str("amount_base", res.AmountBase.String()).
		Str("price", price.String()).
		Str("total", decision.Amount.String()).
		Float64("ahr999", snap.Value).
		Str("order_id", order.ID).
		Msg("trade executed")

	rec := s.buildRecord(res.StartedAt, snap, decision, res.AmountBase, price, order)
	res.Record = &rec
	if err := s.recorder.Append(ctx, rec); err != nil {
		res.RecordErr = err
		s.metrics.ObservePersistFailure()
		s.logger.Error().Err(err).Str("order_id", order.ID).Msg("trade executed but record not saved")
	}

	return s.done(ctx, res), nil
}

func (s *Service) buildRecord(at time.Time, snap indicator.Snapshot, decision strategy.Decision, base, price decimal.Decimal, order exchange.Order) storage.InvestmentRecord {
	var ref *string
	if order.ID != "" {
		id := order.ID
		ref = &id
	}
	details := map[string]any{
		"exchange":        s.exchange.Name(),
		"symbol":          s.symbol,
		"current_price":   snap.CurrentPrice,
		"ma_price":        snap.MovingAverage,
		"fitted_price":    snap.FittedPrice,
		"age_days":        snap.AgeDays,
		"ma_days":         snap.WindowDays,
		"reason":          decision.Reason,
		"client_order_id": order.ClientOrderID,
		"order_status":    order.Status,
	}
	if order.FilledBase.IsPositive() {
		details["filled_base"] = order.FilledBase.String()
	}
	if order.AvgPrice.IsPositive() {
		details["avg_fill_price"] = order.AvgPrice.String()
	}
	return storage.InvestmentRecord{
		Timestamp:      at,
		IndicatorValue: snap.Value,
		Action:         decision.Action,
		AmountQuote:    decision.Amount,
		AmountBase:     base,
		ExecutionPrice: price,
		OrderReference: ref,
		Details:        details,
	}
}

func (s *Service) done(ctx context.Context, res Result) Result {
	res.enter(StateDone)
	res.Success = true
	return s.finish(ctx, res)
}

func (s *Service) block(ctx context.Context, res Result, reason Reason) Result {
	res.enter(StateBlocked)
	res.Reason = reason
	s.logger.Warn().
		Str("reason", string(reason)).
		Str("balance", res.Balance.String()).
		Str("required", res.Required.String()).
		Msg("execution blocked")
	return s.finish(ctx, res)
}

func (s *Service) fail(ctx context.Context, res Result, err error) (Result, error) {
	res.enter(StateFailed)
	res.Err = err
	s.logger.Error().Err(err).Msg("execution failed")
	return s.finish(ctx, res), err
}

func (s *Service) finish(ctx context.Context, res Result) Result {
	res.FinishedAt = s.now()

	invested := 0.0
	if res.Order != nil {
		invested = res.Required.InexactFloat64()
	}
	s.metrics.ObserveExecution(string(res.State), string(res.Action), string(res.Reason), invested, res.StartedAt)

	// HOLD is routine and not worth a message.
	if s.notifier != nil && !(res.State == StateDone && res.Action == strategy.ActionHold) {
		if err := s.notifier.Notify(ctx, s.notification(res)); err != nil {
			s.logger.Error().Err(err).Msg("failed to dispatch notification")
		}
	}
	return res
}

func (s *Service) notification(res Result) alerting.Notification {
	note := alerting.Notification{
		At:         res.StartedAt,
		Exchange:   s.exchange.Name(),
		Symbol:     s.symbol,
		State:      string(res.State),
		Action:     string(res.Action),
		Reason:     string(res.Reason),
		Amount:     res.Required,
		AmountBase: res.AmountBase,
		Balance:    res.Balance,
		DryRun:     res.DryRun,
	}
	if res.Snapshot != nil {
		note.Indicator = res.Snapshot.Value
		note.Price = decimal.NewFromFloat(res.Snapshot.CurrentPrice)
	}
	if res.Order != nil {
		note.OrderID = res.Order.ID
	}
	if res.Err != nil {
		note.Error = res.Err.Error()
	}
	if res.RecordErr != nil {
		note.RecordErr = res.RecordErr.Error()
	}
	return note
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
