package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/api"
	"github.com/disparo-io/disparo/internal/campaign"
	"github.com/disparo-io/disparo/internal/circuitbreaker"
	"github.com/disparo-io/disparo/internal/config"
	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/events"
	"github.com/disparo-io/disparo/internal/jobs"
	"github.com/disparo-io/disparo/internal/metrics"
	"github.com/disparo-io/disparo/internal/observ"
	"github.com/disparo-io/disparo/internal/redis"
	"github.com/disparo-io/disparo/internal/schedule"
	"github.com/disparo-io/disparo/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// gatewaySessions adapts the transport manager to the pipeline's resolver
// interface.
type gatewaySessions struct {
	manager *transport.Manager
}

func (g gatewaySessions) Session(ctx context.Context, conn *db.Whatsapp) (campaign.Sender, error) {
	return g.manager.Session(ctx, conn)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting disparo dispatcher",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.String("database", cfg.DBName),
	)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	campaigns := db.NewCampaignRepository(database, logger)
	contacts := db.NewContactRepository(database, logger)
	shippings := db.NewShippingRepository(database, logger)
	settings := db.NewSettingsRepository(database, logger)
	schedules := db.NewScheduleRepository(database, logger)

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("gateway"), logger)
	manager := transport.NewManager(transport.Config{
		BaseURL: cfg.GatewayURL,
		Token:   cfg.GatewayToken,
		Timeout: cfg.GatewayTimeout,
	}, breaker, logger)
	sessions := gatewaySessions{manager: manager}

	publisher := events.NewPublisher(redisClient.Raw(), logger)
	limiter := redis.NewSendLimiter(redisClient, logger, redis.SendLimitConfig{
		Limit:  cfg.SendLimit,
		Window: cfg.SendWindow,
	})

	queue := jobs.New("dispatch", redisClient.Raw(), logger)

	pipeline := campaign.NewPipeline(
		campaigns, contacts, shippings, settings,
		queue, sessions, publisher, logger,
		campaign.Config{
			BatchSize:    cfg.CampaignBatchSize,
			BatchPause:   cfg.CampaignBatchPause,
			Lookahead:    cfg.CampaignLookahead,
			ScanInterval: cfg.CampaignScanInterval,
			PublicDir:    cfg.PublicDir,
		},
	)
	pipeline.Register(queue)

	monitor := schedule.NewMonitor(
		schedules, contacts, campaigns,
		queue, sessions, limiter, publisher, logger,
		schedule.Config{
			Window:       cfg.ScheduleWindow,
			SendDelay:    cfg.ScheduleSendDelay,
			ScanInterval: cfg.ScheduleScanInterval,
			PublicDir:    cfg.PublicDir,
		},
	)
	monitor.Register(queue)

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer queue.Stop()

	queue.EnqueueRepeating(ctx, campaign.JobVerifyCampaigns, nil, cfg.CampaignScanInterval)
	queue.EnqueueRepeating(ctx, schedule.JobVerifySchedules, nil, cfg.ScheduleScanInterval)

	go housekeeping(ctx, queue, logger)

	logger.Info("dispatch pipeline started",
		zap.Duration("campaign_scan_interval", cfg.CampaignScanInterval),
		zap.Duration("schedule_scan_interval", cfg.ScheduleScanInterval),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.Recoverer(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	handler := api.NewHandler(logger, campaigns, queue, publisher)
	handler.RegisterRoutes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// housekeeping periodically removes old completed and failed jobs and
// exports queue depths.
func housekeeping(ctx context.Context, queue *jobs.Queue, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := queue.Clean(ctx, 24*time.Hour, 7*24*time.Hour)
			if err != nil {
				logger.Error("queue cleanup", zap.Error(err))
			} else if removed > 0 {
				logger.Info("queue cleanup", zap.Int("removed", removed))
			}

			depths, err := queue.Depths(ctx)
			if err != nil {
				logger.Error("queue depths", zap.Error(err))
				continue
			}
			for bucket, depth := range depths {
				metrics.SetQueueDepth("dispatch", bucket, depth)
			}
		}
	}
}
