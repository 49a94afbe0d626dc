package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/caresync/internal/config"
	"github.com/jwalitptl/caresync/internal/handler/carereceiver"
	"github.com/jwalitptl/caresync/internal/handler/caserecord"
	synchandler "github.com/jwalitptl/caresync/internal/handler/casesync"
	"github.com/jwalitptl/caresync/internal/handler/health"
	"github.com/jwalitptl/caresync/internal/middleware"
	"github.com/jwalitptl/caresync/internal/repository/postgres"
	"github.com/jwalitptl/caresync/internal/router"
	careReceiverService "github.com/jwalitptl/caresync/internal/service/carereceiver"
	caseRecordService "github.com/jwalitptl/caresync/internal/service/caserecord"
	"github.com/jwalitptl/caresync/internal/service/casesync"
	"github.com/jwalitptl/caresync/pkg/logger"
	"github.com/jwalitptl/caresync/pkg/metrics"
	"github.com/jwalitptl/caresync/pkg/validator"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Console: cfg.Log.Console,
	})
	log.Logger = appLogger.ZL

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg, "caresync", "api")

	// Initialize repositories
	base := postgres.NewBaseRepository(db)
	idempotencyRepo := postgres.NewIdempotencyRepository(base)
	receiptRepo := postgres.NewReceiptRepository(base)
	caseRecordRepo := postgres.NewCaseRecordRepository(base)
	careReceiverRepo := postgres.NewCareReceiverRepository(base)

	// Initialize services
	ledger := casesync.NewLedger(idempotencyRepo, cfg.Sync.ReplayCacheTTL)
	syncSvc := casesync.NewService(ledger, receiptRepo, caseRecordRepo, appLogger, m)
	caseRecordSvc := caseRecordService.NewService(caseRecordRepo, appLogger, m)
	careReceiverSvc := careReceiverService.NewService(careReceiverRepo, appLogger, m)

	// Initialize handlers
	v := validator.New()
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Security.AllowedOrigins

	routerCfg := router.RouterConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit: middleware.RateLimiterConfig{
			RPS:   cfg.RateLimit.RequestsPerSecond,
			Burst: cfg.RateLimit.Burst,
		},
		CORSConfig: cors,
		SizeLimit:  middleware.SizeLimitConfig{MaxBodySize: cfg.Server.MaxBodyBytes},
		Gatherer:   reg,
		Metrics:    m,
	}
	if cfg.Monitoring.PrometheusEnabled {
		routerCfg.MetricsPath = cfg.Monitoring.MetricsPath
	}

	r := router.NewRouter(routerCfg,
		health.NewHandler(db),
		synchandler.NewHandler(syncSvc, v),
		caserecord.NewHandler(caseRecordSvc, v),
		carereceiver.NewHandler(careReceiverSvc),
	)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// Start server
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
