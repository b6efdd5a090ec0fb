package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentrail/meterbank/internal/agent"
	"github.com/agentrail/meterbank/internal/api"
	"github.com/agentrail/meterbank/internal/auth"
	"github.com/agentrail/meterbank/internal/config"
	"github.com/agentrail/meterbank/internal/engine"
	"github.com/agentrail/meterbank/internal/guardrail"
	"github.com/agentrail/meterbank/internal/ledger"
	"github.com/agentrail/meterbank/internal/metrics"
	"github.com/agentrail/meterbank/internal/quote"
	"github.com/agentrail/meterbank/internal/registry"
	"github.com/agentrail/meterbank/internal/reservation"
	"github.com/agentrail/meterbank/internal/settlement"
	"github.com/agentrail/meterbank/internal/sweep"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Meterbank settlement server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	params := cfg.PricingParams()

	agentStore := agent.NewStore(pool)
	toolStore := registry.NewStore(pool)
	ledgerStore := ledger.NewStore(pool)
	quoteStore := quote.NewStore(pool)
	reservationStore := reservation.NewStore(pool, params)
	settlementStore := settlement.NewStore(pool, params)

	guardrails := guardrail.NewEngine(ledgerStore)
	quoteService := quote.NewService(quoteStore, toolStore, params)
	reservationService := reservation.NewService(reservationStore, toolStore, params)
	settlementService := settlement.NewService(settlementStore, settlement.NewLoggingRail())
	engineService := engine.NewService(agentStore, toolStore, guardrails, ledgerStore, quoteService, reservationStore, params)

	authService := auth.NewService(agentStore)

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	sweeper := sweep.NewSweeper(quoteStore, reservationStore, cfg.Sweep.Interval)
	sweeper.OnSweep(func(quotes, reservations int64) {
		m.AddSweepExpired("quote", quotes)
		m.AddSweepExpired("reservation", reservations)
	})
	go sweeper.Start(ctx)

	router := api.NewRouter(api.RouterDeps{
		Engine:         engineService,
		Quotes:         quoteService,
		Reservations:   reservationService,
		Settlements:    settlementService,
		LedgerStore:    ledgerStore,
		ToolStore:      toolStore,
		AgentStore:     agentStore,
		Auth:           authService,
		Metrics:        m,
		DBPool:         pool,
		AdminKeyHash:   cfg.Admin.KeyHash,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sweeper.Stop()

	return srv.Shutdown(shutdownCtx)
}
