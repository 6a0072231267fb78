package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ahr999-autoinvest/internal/alerting"
	"ahr999-autoinvest/internal/config"
	"ahr999-autoinvest/internal/exchange"
	"ahr999-autoinvest/internal/metrics"
	"ahr999-autoinvest/internal/scheduler"
	"ahr999-autoinvest/internal/service"
	"ahr999-autoinvest/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// overridable in tests
	exchangeFactory func(name string) (exchange.Exchange, error)
	now             func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	a := &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
	a.exchangeFactory = func(name string) (exchange.Exchange, error) {
		return exchange.NewByName(a.Config, name, logger)
	}
	return a
}

func (a *App) newExchange() (exchange.Exchange, error) {
	return a.exchangeFactory(a.Config.Exchange.Name)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openRecorder(ctx context.Context) (*storage.Recorder, func(), error) {
	store, err := storage.Open(ctx, a.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("open history store: %w", err)
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close history store")
		}
	}
	return storage.NewRecorder(store, a.Config.Location()), closer, nil
}

func (a *App) newService(ex exchange.Exchange, rec *storage.Recorder, m *metrics.Metrics, sched *scheduler.Scheduler) (*service.Service, error) {
	return service.New(a.Config, service.Deps{
		Exchange:  ex,
		Recorder:  rec,
		Notifier:  a.newNotifier(),
		Metrics:   m,
		Scheduler: sched,
		Now:       a.now,
	}, a.Logger)
}

// Execute runs the strategy once and prints the result.
func (a *App) Execute(ctx context.Context, dryRun bool) error {
	if !dryRun {
		if err := a.Config.ValidateCredentials(); err != nil {
			return err
		}
	}

	ex, err := a.newExchange()
	if err != nil {
		return err
	}
	if err := ex.Connect(ctx); err != nil {
		return err
	}

	rec, closeRec, err := a.openRecorder(ctx)
	if err != nil {
		return err
	}
	defer closeRec()

	svc, err := a.newService(ex, rec, nil, nil)
	if err != nil {
		return err
	}

	res, err := svc.Execute(ctx, dryRun)
	a.printResult(res)
	if err != nil {
		return err
	}
	if res.RecordErr != nil {
		return res.RecordErr
	}
	return nil
}

// Run executes the strategy on the daily schedule until interrupted.
func (a *App) Run(ctx context.Context, dryRun bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !dryRun {
		if err := a.Config.ValidateCredentials(); err != nil {
			return err
		}
	}

	ex, err := a.newExchange()
	if err != nil {
		return err
	}
	if err := ex.Connect(ctx); err != nil {
		return err
	}

	rec, closeRec, err := a.openRecorder(ctx)
	if err != nil {
		return err
	}
	defer closeRec()

	sched, err := scheduler.New(scheduler.Options{
		Hour:       a.Config.Scheduler.Hour,
		Minute:     a.Config.Scheduler.Minute,
		Location:   a.Config.Location(),
		RunOnStart: a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		m = metrics.New()
	}

	svc, err := a.newService(ex, rec, m, sched)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("exchange", ex.Name()).
		Str("symbol", a.Config.Strategy.Symbol).
		Bool("dry_run", dryRun).
		Str("spec", sched.Spec()).
		Msg("starting investment scheduler")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx, dryRun)
	})
	if m != nil {
		g.Go(func() error {
			return m.Serve(gctx, a.Config.Metrics.Listen, a.Logger)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("investment scheduler stopped")
	return nil
}

// ExportOptions hold parameters for exporting the indicator series.
type ExportOptions struct {
	Days      int
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the history listing.
type ShowOptions struct {
	Limit int
}

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	Days     int
	Horizons []int
}
