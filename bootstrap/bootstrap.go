// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file when one exists, with
// USAGEGATE_* environment variables as overrides or full fallback.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/clock"
	apihttp "github.com/artpar/usagegate/adapters/http"
	"github.com/artpar/usagegate/adapters/idgen"
	"github.com/artpar/usagegate/adapters/memory"
	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/adapters/sqlite"
	"github.com/artpar/usagegate/app"
	"github.com/artpar/usagegate/config"
	"github.com/artpar/usagegate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Holder     *config.Holder
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Limiter  *app.Limiter
	Billing  *app.Billing
	Identity *app.Identity

	counters ports.CounterStore

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath is the YAML config file. When the file does not
	// exist, configuration is built from environment variables and
	// hot reload is disabled.
	ConfigPath string
}

// New creates and initializes the application.
func New(opts Options) (*App, error) {
	a := &App{stopCh: make(chan struct{})}

	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.Config = cfg
	a.Logger = setupLogger(cfg.Logging)

	// Config file gets hot reload; env-only deployments do not.
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			holder, err := config.NewHolder(opts.ConfigPath, a.Logger)
			if err != nil {
				return nil, err
			}
			a.Holder = holder
			a.Config = holder.Get()
			a.Logger.Info().Str("path", opts.ConfigPath).Msg("configuration loaded from file")
		}
	}
	if a.Holder == nil {
		a.Logger.Info().Msg("configuration loaded from environment")
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initServices(); err != nil {
		return nil, err
	}
	a.initHTTPServer()

	if a.Holder != nil {
		a.wireReload()
	}

	return a, nil
}

func (a *App) initServices() error {
	cfg := a.Config

	plans, err := cfg.DomainPlans()
	if err != nil {
		return fmt.Errorf("plans: %w", err)
	}
	pricing, err := cfg.Pricing()
	if err != nil {
		return fmt.Errorf("pricing: %w", err)
	}

	var (
		counters ports.CounterStore
		ledger   ports.LedgerStore
		cycles   ports.CycleStore
		payments ports.PaymentStore
		subjects ports.SubjectStore
		keys     ports.KeyStore
	)

	switch cfg.Database.Driver {
	case "memory":
		counters = memory.NewCounterStore(memory.CounterStoreConfig{
			NumShards: cfg.RateLimit.CacheShards,
		})
		ledger = memory.NewLedgerStore()
		cycles = memory.NewCycleStore()
		payments = memory.NewPaymentStore()
		subjects = memory.NewSubjectStore()
		keys = memory.NewKeyStore()
		a.Logger.Info().Msg("using in-memory stores")
	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.DB = db
		counters = sqlite.NewCounterStore(db)
		ledger = sqlite.NewLedgerStore(db)
		cycles = sqlite.NewCycleStore(db)
		payments = sqlite.NewPaymentStore(db)
		subjects = sqlite.NewSubjectStore(db)
		keys = sqlite.NewKeyStore(db)
		a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
	}
	a.counters = counters

	clk := clock.Real{}
	limiterCfg := app.LimiterConfig{
		Plans:       plans,
		CacheShards: cfg.RateLimit.CacheShards,
	}
	billingCfg := app.BillingConfig{
		Plans:             plans,
		CapabilityPricing: pricing,
	}
	if a.Metrics != nil {
		m := a.Metrics
		limiterCfg.OnCacheHit = m.CacheHits.Inc
		limiterCfg.OnCacheMiss = m.CacheMisses.Inc
		billingCfg.OnLedgerAppend = func(capability string) {
			m.LedgerAppends.WithLabelValues(capability).Inc()
		}
		billingCfg.OnCycleClosed = m.CyclesClosed.Inc
	}

	a.Limiter = app.NewLimiter(app.LimiterDeps{
		Counters: counters,
		Clock:    clk,
		Logger:   a.Logger,
	}, limiterCfg)

	a.Billing = app.NewBilling(app.BillingDeps{
		Ledger:   ledger,
		Cycles:   cycles,
		Payments: payments,
		Subjects: subjects,
		Clock:    clk,
		IDGen:    idgen.UUID{},
		Logger:   a.Logger,
	}, billingCfg)

	a.Identity = app.NewIdentity(app.IdentityDeps{
		Keys:     keys,
		Subjects: subjects,
		Clock:    clk,
		Logger:   a.Logger,
	}, cfg.Keys.Prefix)

	return nil
}

func (a *App) initHTTPServer() {
	cfg := a.Config

	h := apihttp.NewHandler(a.Limiter, a.Billing, a.Identity, a.Logger, apihttp.HandlerConfig{
		KeyHeader: cfg.Keys.Header,
		Metrics:   a.Metrics,
		Clock:     clock.Real{},
	})
	router := apihttp.NewRouter(h, a.Logger, apihttp.RouterConfig{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		Timeout:        cfg.Server.WriteTimeout,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// wireReload pushes plan and pricing changes into the running services.
// Non-reloadable sections (server, database, keys) need a restart.
func (a *App) wireReload() {
	a.Holder.OnChange(func(cfg *config.Config) {
		plans, err := cfg.DomainPlans()
		if err != nil {
			a.Logger.Error().Err(err).Msg("reload: invalid plans, keeping old catalog")
			return
		}
		pricing, err := cfg.Pricing()
		if err != nil {
			a.Logger.Error().Err(err).Msg("reload: invalid pricing, keeping old table")
			return
		}
		a.Limiter.UpdatePlans(plans)
		a.Billing.UpdatePricing(plans, pricing)
		a.Logger.Info().Int("plans", len(plans)).Msg("plan catalog reloaded")
	})
}

// Run starts the HTTP server and maintenance loops and blocks until
// shutdown.
func (a *App) Run() error {
	if a.Holder != nil {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.Holder.WatchSignals()
	}

	a.startMaintenance()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// startMaintenance launches the cache sweep, counter cleanup, and
// cycle close loops.
func (a *App) startMaintenance() {
	cfg := a.Config

	a.runEvery(cfg.RateLimit.SweepInterval, func(context.Context) {
		if removed := a.Limiter.SweepCache(); removed > 0 {
			a.Logger.Debug().Int("removed", removed).Msg("swept stale cache entries")
		}
	})

	a.runEvery(cfg.RateLimit.CleanupInterval, func(ctx context.Context) {
		removed, err := a.counters.Cleanup(ctx, time.Now().UTC())
		if err != nil {
			a.Logger.Error().Err(err).Msg("counter cleanup failed")
			return
		}
		if removed > 0 {
			a.Logger.Debug().Int64("removed", removed).Msg("cleaned up expired counters")
		}
	})

	a.runEvery(cfg.Billing.CloseInterval, func(ctx context.Context) {
		closed, err := a.Billing.CloseElapsedCycles(ctx, time.Now().UTC())
		if err != nil {
			a.Logger.Error().Err(err).Msg("cycle close failed")
			return
		}
		if closed > 0 {
			a.Logger.Info().Int("closed", closed).Msg("closed elapsed billing cycles")
		}
	})
}

func (a *App) runEvery(interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				fn(ctx)
				cancel()
			case <-a.stopCh:
				return
			}
		}
	}()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	close(a.stopCh)
	a.wg.Wait()

	if a.Holder != nil {
		a.Holder.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
