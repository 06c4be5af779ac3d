package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"HouseLedger/internal/bet"
	"HouseLedger/internal/config"
	"HouseLedger/internal/ingestion"
	"HouseLedger/internal/ledger"
	"HouseLedger/internal/observability"
	"HouseLedger/internal/oracle"
	"HouseLedger/internal/persistence"
	"HouseLedger/internal/reconciler"
	"HouseLedger/internal/report"
	"HouseLedger/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := observability.NewLoggerWithLevel("main", level)
	log.Info().Msg("HouseLedger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker("postgres", "nats")

	// --- Postgres ---
	db, err := persistence.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect")
	}
	defer db.Close()
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLoggerWithLevel("migrate", level))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	health.SetReady("postgres", true)

	// --- Core components ---
	led := ledger.NewPostgres(db)
	bets := bet.NewPostgresStore(db, led)
	feed := oracle.NewFeed(cfg.Settlement.PriceRetention)
	watcher := report.NewWatcher()

	recon := reconciler.New(led, watcher, reconciler.Config{
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		BaseBackoff: cfg.Reconcile.BaseBackoff,
		MaxBackoff:  cfg.Reconcile.MaxBackoff,
	}, observability.NewLoggerWithLevel("reconciler", level), metrics)

	admission := bet.NewAdmission(bets, feed, bet.AdmissionConfig{
		Asset:         cfg.Betting.Asset,
		RoundDuration: cfg.Betting.RoundDuration,
	}, observability.NewLoggerWithLevel("admission", level), metrics)

	settler := bet.NewSettler(bets, feed, bet.SettlerConfig{
		Asset:          cfg.Betting.Asset,
		ScanInterval:   cfg.Settlement.ScanInterval,
		GraceWindow:    cfg.Settlement.GraceWindow,
		MaxSettleDelay: cfg.Settlement.MaxSettleDelay,
		BatchSize:      cfg.Settlement.BatchSize,
	}, observability.NewLoggerWithLevel("settler", level), metrics)

	reporter := report.NewReporter(led, watcher, cfg.Reconcile.Interval,
		observability.NewLoggerWithLevel("reporter", level), metrics)

	// --- NATS ---
	natsLog := observability.NewLoggerWithLevel("nats", level)
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLog)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, natsLog); err != nil {
		log.Fatal().Err(err).Msg("ensure NATS streams")
	}

	rawEvents := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawEvents, natsLog)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}
	health.SetReady("nats", true)

	dispatcher := ingestion.NewDispatcher(rawEvents, recon, feed,
		observability.NewLoggerWithLevel("dispatcher", level))

	// --- HTTP API ---
	srv := server.New(led, led, admission, bets, reporter,
		observability.NewLoggerWithLevel("http", level), metrics)
	apiServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// --- Metrics and health endpoints ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", health.LivenessHandler)
	metricsMux.HandleFunc("/readyz", health.ReadinessHandler)
	metricsServer := &http.Server{
		Addr:              cfg.HTTP.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// --- Start goroutines ---
	errChan := make(chan error, 4)

	go dispatcher.Run(ctx)
	go settler.Run(ctx)
	go reporter.Run(ctx)

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.HTTP.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	log.Info().
		Str("http", cfg.HTTP.Addr).
		Str("metrics", cfg.HTTP.MetricsAddr).
		Str("asset", cfg.Betting.Asset).
		Msg("HouseLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	health.SetAllNotReady()
	cancel()
	subscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown")
	}

	log.Info().Msg("HouseLedger shutdown complete")
}
