package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/classify"
	"gitlab.com/timkado/api/wa-group-etl/internal/config"
	"gitlab.com/timkado/api/wa-group-etl/internal/healthcheck"
	"gitlab.com/timkado/api/wa-group-etl/internal/jetstream"
	"gitlab.com/timkado/api/wa-group-etl/internal/ledger"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
	"gitlab.com/timkado/api/wa-group-etl/internal/planner"
	"gitlab.com/timkado/api/wa-group-etl/internal/sheets"
	"gitlab.com/timkado/api/wa-group-etl/internal/source"
	"gitlab.com/timkado/api/wa-group-etl/internal/storage"
	"gitlab.com/timkado/api/wa-group-etl/internal/usecase"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
	"gitlab.com/timkado/api/wa-group-etl/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig(os.Getenv("WA_ETL_CONFIG"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.InitializeWith(logger.Options{
		Level:  cfg.LogLevel,
		Fields: map[string]interface{}{"service": "wa-group-etl", "environment": cfg.Environment},
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting WA Group ETL",
		zap.String("environment", cfg.Environment),
		zap.String("students_group", cfg.Groups.Students),
		zap.String("sales_group", cfg.Groups.Sales),
		zap.String("database_driver", cfg.Database.Driver),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
	)
	logger.Log.Debug("Effective configuration", zap.Stringer("config", cfg))

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	// Document store
	store, err := storage.Open(mainCtx, cfg.StorageOptions())
	if err != nil {
		logger.Log.Fatal("Failed to open document store", zap.Error(err))
	}

	// Spreadsheets
	sheetClient, err := sheets.NewClient(mainCtx, cfg.SheetsClientConfig())
	if err != nil {
		logger.Log.Fatal("Failed to initialize Sheets client", zap.Error(err))
	}

	// Chat client; a failed start is retried by the first run
	whatsapp := source.NewWhatsAppSource(cfg.Browser)
	if err := whatsapp.Start(mainCtx); err != nil {
		logger.Log.Warn("Browser not available at startup", zap.Error(err))
	}

	// Event publication
	var publisher usecase.EventPublisher = jetstream.NopPublisher{}
	var jsClient *jetstream.Client
	if cfg.NATS.Enabled {
		jsClient, publisher, err = initPublisher(mainCtx, cfg)
		if err != nil {
			logger.Log.Fatal("Failed to initialize event publisher", zap.Error(err))
		}
	}

	// Core
	classifier, err := classify.New(cfg.Keywords.Practice, cfg.Keywords.Message, cfg.Lessons.HintPattern)
	if err != nil {
		logger.Log.Fatal("Invalid classification settings", zap.Error(err))
	}
	plan := planner.New(
		planner.WithCollections(cfg.Database.Students.Collection, cfg.Database.Sales.Collection),
		planner.WithClock(utils.Now),
	)
	students := usecase.NewStudentPipeline(
		whatsapp, sheetClient, sheetClient, store,
		classifier, ledger.NewReconciler(cfg.LessonOrder(), utils.Now), plan,
		cfg.Groups.Students, cfg.Groups.MessageCount,
	)
	sales := usecase.NewSalesPipeline(
		whatsapp, sheetClient, publisher, store, plan,
		cfg.Sales.Labels, cfg.Sales.Identifier,
		cfg.Groups.Sales, cfg.Groups.MessageCount,
	)
	runner := usecase.NewRunner(students, sales, store, publisher)

	scheduler, err := usecase.NewScheduler(runner, cfg.Schedule, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize scheduler", zap.Error(err))
	}

	// Create health check server
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.AddReadyCheck("store", store.Ping)
	healthServer.AddReadyCheck("browser", whatsapp.Ping)
	if jsClient != nil {
		healthServer.AddReadyCheck("nats", func(context.Context) error {
			if !jsClient.NatsConn().IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		})
	}
	healthServer.Handle("/runs", runner)

	// Register metrics handler if enabled BEFORE starting the server
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	healthServer.Start()
	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
		zap.String("runs", fmt.Sprintf("http://localhost:%d/runs", cfg.Server.Port)),
	)

	scheduler.Start(mainCtx)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// The scheduler goes first so no run starts against closed resources
	stopComponent("scheduler", scheduler.Stop)

	var wg sync.WaitGroup
	shutdown := func(name string, fn func()) {
		wg.Add(1)
		utils.SafeGo(func() {
			defer wg.Done()
			stopComponent(name, fn)
		}, func(r interface{}, stack []byte) {
			logger.Log.Error("[shutdown] Panic while stopping "+name,
				zap.Any("panic", r),
				zap.ByteString("stack", stack),
			)
			wg.Done()
		})
	}

	shutdown("health check server", func() {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		}
	})
	shutdown("browser", func() {
		if err := whatsapp.Close(); err != nil {
			logger.Log.Error("[shutdown] Error closing browser", zap.Error(err))
		}
	})
	shutdown("document store", func() {
		if err := store.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close document store", zap.Error(err))
		}
	})
	if jsClient != nil {
		shutdown("JetStream connection", jsClient.Close)
	}

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("WA Group ETL shutdown complete")
}

func stopComponent(name string, fn func()) {
	logger.Log.Info("[shutdown] Stopping " + name)
	start := time.Now()
	fn()
	logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
}

// initPublisher connects to NATS and makes sure the event stream exists.
func initPublisher(ctx context.Context, cfg *config.Config) (*jetstream.Client, *jetstream.Publisher, error) {
	client, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	publisher := jetstream.NewPublisher(client, cfg.NATS.Publisher)
	if err := publisher.EnsureStream(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to set up event stream: %w", err)
	}
	logger.Log.Info("Event publisher ready",
		zap.String("stream", cfg.NATS.Publisher.Stream),
		zap.String("run_log_subject", cfg.NATS.Publisher.RunLogSubject),
		zap.String("lead_subject", cfg.NATS.Publisher.LeadSubject),
	)
	return client, publisher, nil
}
