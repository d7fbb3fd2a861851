package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MentalVibez/fleetdex/internal/agent"
	"github.com/MentalVibez/fleetdex/internal/api"
	"github.com/MentalVibez/fleetdex/internal/cache"
	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/events"
	"github.com/MentalVibez/fleetdex/internal/metrics"
	"github.com/MentalVibez/fleetdex/internal/orchestrator"
	"github.com/MentalVibez/fleetdex/internal/scheduler"
	"github.com/MentalVibez/fleetdex/internal/scoring"
	"github.com/MentalVibez/fleetdex/internal/selfheal"
	"github.com/MentalVibez/fleetdex/internal/store"
	"github.com/MentalVibez/fleetdex/internal/trend"
	"github.com/MentalVibez/fleetdex/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting fleetdex", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cfg.Cache)
		if err != nil {
			logger.Warn("valkey cache unavailable, continuing without it", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.URL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Queue)
		if err != nil {
			logger.Warn("event broker unavailable, alert events disabled", slog.Any("error", err))
		} else {
			publisher = amqpPublisher
			defer amqpPublisher.Close()
		}
	}

	inventory := store.NewInventoryRepo(db)
	snapshots := store.NewSnapshotStore(db)
	scores := store.NewScoreStore(db)
	ledger := store.NewAlertLedger(db, publisher, logger)

	agentClient := agent.NewClient(cfg.Agent)
	engine := scoring.NewEngine(scores, utils.ComponentLogger(logger, "scoring"))
	evaluator := scoring.NewThresholdEvaluator(ledger, cfg.Scoring, utils.ComponentLogger(logger, "thresholds"))
	predictor := trend.NewPredictor(snapshots, ledger, cfg.Trend, utils.ComponentLogger(logger, "trend"))
	healer := selfheal.NewEngine(agentClient, ledger, cfg.SelfHeal, utils.ComponentLogger(logger, "selfheal"))

	scanner := orchestrator.NewScanOrchestrator(
		inventory,
		agentClient,
		snapshots,
		engine,
		evaluator,
		cfg.Agent,
		cfg.Scan.Concurrency,
		utils.ComponentLogger(logger, "scan"),
	)
	sweep := orchestrator.NewPredictiveSweep(inventory, predictor, utils.ComponentLogger(logger, "sweep"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(cacheProvider, utils.ComponentLogger(logger, "scheduler"))
	scanMinutes := scheduler.MinuteSet(cfg.Scan.IntervalMinutes, logger)
	scanJob := scheduler.Job{
		Name: "fleet-scan",
		Spec: scheduler.CronSpec(scanMinutes),
		Run: func(jobCtx context.Context) error {
			started := time.Now()
			report, err := scanner.ScanAll(jobCtx)
			if err != nil {
				return err
			}
			metrics.ObserveScanBatch(report.Scanned, report.Errors, report.Skipped, time.Since(started))
			publishOpenAlertCount(jobCtx, ledger, logger)
			return nil
		},
	}
	sweepJob := scheduler.Job{
		Name: "predictive-sweep",
		Spec: scheduler.CronSpec([]int{0}),
		Run: func(jobCtx context.Context) error {
			report, err := sweep.Run(jobCtx)
			if err != nil {
				return err
			}
			metrics.ObserveSweep(report.EndpointsAnalyzed, report.AlertsCreatedOrUpdated)
			publishOpenAlertCount(jobCtx, ledger, logger)
			return nil
		},
	}
	if err := sched.Add(ctx, scanJob); err != nil {
		logger.Error("failed to schedule fleet scan", slog.Any("error", err))
		os.Exit(1)
	}
	if err := sched.Add(ctx, sweepJob); err != nil {
		logger.Error("failed to schedule predictive sweep", slog.Any("error", err))
		os.Exit(1)
	}
	sched.Start()

	handlers := api.NewHandlers(
		inventory,
		snapshots,
		scores,
		ledger,
		predictor,
		scanner,
		healer,
		cacheProvider,
		cfg.Scoring,
		cfg.Cache.ScoreTTL,
		utils.ComponentLogger(logger, "api"),
	)
	server := api.NewServer(cfg.Server, handlers, utils.ComponentLogger(logger, "api"))

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	sched.Stop()
	server.Shutdown(context.Background())

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("fleetdex stopped")
}

func publishOpenAlertCount(ctx context.Context, ledger *store.AlertLedger, logger *slog.Logger) {
	n, err := ledger.CountOpen(ctx)
	if err != nil {
		logger.Warn("open alert count unavailable", slog.Any("error", err))
		return
	}
	metrics.SetOpenAlerts(n)
}
