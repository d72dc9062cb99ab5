package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/config"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/binanceclient"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/logger"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/mirror"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/adapters/sqlite"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/app"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/execution"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ledger"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/metrics"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/risk"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/rotation"
	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/signals"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Run the rotation cycle until interrupted",
	Long: `Run the rotation service: reconcile the position book from the fill
journal, then cycle continuously. Each cycle quotes every symbol, executes
the classified exits in priority order, and scans for new entries.

Configuration comes from the environment (or a .env file); the flags below
override it.`,
	RunE: runRotate,
}

var (
	rotateDryRun   bool
	rotateInterval time.Duration
)

func init() {
	rootCmd.AddCommand(rotateCmd)

	rotateCmd.Flags().BoolVar(&rotateDryRun, "dry-run", false, "classify and log, place no orders")
	rotateCmd.Flags().DurationVar(&rotateInterval, "interval", 0, "cycle interval override (e.g. 30s, 5m)")
}

func runRotate(cmd *cobra.Command, args []string) error {
	if rotateDryRun {
		// Set before LoadConfig so API key validation relaxes like it does
		// for DRY_RUN=true in the environment.
		os.Setenv("DRY_RUN", "true")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if rotateInterval > 0 {
		cfg.CycleInterval = rotateInterval
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "error closing database")
		}
	}()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		return fmt.Errorf("create exchange client: %w", err)
	}

	signalProvider, err := signals.New(signals.Config{
		Interval: cfg.SignalInterval,
		Lookback: cfg.SignalLookback,
	}, client, appLogger)
	if err != nil {
		return fmt.Errorf("create signal provider: %w", err)
	}

	riskEngine := risk.New(cfg.RiskParameters())
	rotationEngine := rotation.New(rotation.Thresholds{
		TakeProfitPct: cfg.TakeProfitPct,
		StopLossPct:   cfg.StopLossPct,
		StaleAfter:    cfg.StaleAfter,
		StaleMovePct:  cfg.StaleMovePct,
		MaxHoldTime:   cfg.MaxHoldTime,
		MinScore:      cfg.MinScore,
		DustThreshold: cfg.DustThreshold,
	}, appLogger)
	led := ledger.New(appLogger)

	gateway, err := execution.New(execution.Config{
		MaxRetries:         cfg.MaxRetries,
		BreakerMaxFailures: cfg.BreakerMaxFailures,
		BreakerCooldown:    cfg.BreakerCooldown,
		PlaceRestingTP:     cfg.PlaceRestingTP,
		DryRun:             cfg.DryRun,
	}, client, led, repo, repo, rotationEngine, appLogger)
	if err != nil {
		return fmt.Errorf("create execution gateway: %w", err)
	}

	mirrorWriter, err := mirror.NewWriter(cfg.MirrorPath)
	if err != nil {
		return fmt.Errorf("create mirror writer: %w", err)
	}

	mets := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.CheckDB(ctx, repo.DB())

	gateway.OnRetry = func(string) { mets.OrderRetries.Inc() }
	gateway.OnBreakerOpen = func(symbol string) { mets.BreakerTrips.WithLabelValues(symbol).Inc() }

	var server *metrics.Server
	if cfg.MetricsAddr != "" {
		server = metrics.NewServer(cfg.MetricsAddr, mets, health)
		server.Start(func(err error) {
			appLogger.Error(ctx, err, "metrics server failed")
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				appLogger.Error(shutdownCtx, err, "error stopping metrics server")
			}
		}()

		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					health.CheckDB(ctx, repo.DB())
				}
			}
		}()
	}

	service, err := app.New(app.Config{
		Symbols:         cfg.Symbols,
		QuoteCurrency:   cfg.QuoteCurrency,
		CycleInterval:   cfg.CycleInterval,
		MaxTradesPerDay: cfg.MaxTradesPerDay,
		EntryScoreMin:   cfg.EntryScoreMin,
		MinQuoteBalance: cfg.MinQuoteBalance,
	}, app.Deps{
		Logger:    appLogger,
		Exchange:  client,
		Positions: repo,
		Trades:    repo,
		Signals:   signalProvider,
		Risk:      riskEngine,
		Rotation:  rotationEngine,
		Executor:  gateway,
		Ledger:    led,
		Metrics:   mets,
		Health:    health,
		Mirror:    mirrorWriter,
	})
	if err != nil {
		return fmt.Errorf("create rotation service: %w", err)
	}

	return service.Start(ctx)
}
