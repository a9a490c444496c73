package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/checks"
	"github.com/checkeligibility/platform/pkg/common/config"
	"github.com/checkeligibility/platform/pkg/common/database"
	"github.com/checkeligibility/platform/pkg/common/kafka"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/determination"
	"github.com/checkeligibility/platform/pkg/fingerprint"
	"github.com/checkeligibility/platform/pkg/gateway/middleware"
	"github.com/checkeligibility/platform/pkg/observability/metrics"
	"github.com/checkeligibility/platform/pkg/queue"
	"github.com/checkeligibility/platform/pkg/ratelimit"
	"github.com/checkeligibility/platform/pkg/worker"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()
	rdb := database.GetRedis(cfg)
	defer database.CloseRedis()

	repo := checks.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate check tables")
	}
	cache := fingerprint.NewCache(db, cfg.FingerprintCacheTTL)
	if err := cache.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate fingerprint cache")
	}
	events := ratelimit.NewRepository(db)
	if err := events.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate rate limit tables")
	}

	var publisher audit.Publisher
	if cfg.AuditKafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.AuditTopic)
		defer producer.Close()
		publisher = producer
	}
	recorder := audit.NewRecorder(db, publisher, "eligibility-worker")
	if err := recorder.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate audit tables")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sources, err := determination.LoadSources(cfg.DeterminationSourcesFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load determination sources")
	}
	resolver, err := determination.Build(ctx, sources, determination.Options{
		Timeout:      cfg.DeterminationTimeout,
		TokenURL:     cfg.DeterminationTokenURL,
		ClientID:     cfg.DeterminationClientID,
		ClientSecret: cfg.DeterminationSecret,
	})
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to build determination sources")
	}

	workQueue := queue.NewRedisQueue(rdb, "eligibility")
	processor := worker.NewProcessor(repo, cache, resolver, workQueue, cfg.WorkerDrainSize, recorder)

	var wg sync.WaitGroup
	every := func(name string, interval time.Duration, job func(context.Context) error) {
		if interval <= 0 {
			logger.Log.WithField("job", name).Warn("non-positive interval, job disabled")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Log.WithError(err).WithField("job", name).Warn("worker job failed")
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	every("drain", cfg.WorkerPollInterval, func(ctx context.Context) error {
		if depth, err := workQueue.Len(ctx, cfg.CheckQueueName); err == nil {
			metrics.ObserveQueueDepth(depth)
		}
		for {
			ids, err := processor.DrainQueue(ctx, cfg.CheckQueueName)
			if err != nil || len(ids) == 0 {
				return err
			}
		}
	})
	every("stale-sweep", cfg.WorkerStaleLease/2, func(ctx context.Context) error {
		_, err := processor.ReleaseStale(ctx, cfg.CheckQueueName, cfg.WorkerStaleLease)
		return err
	})
	every("rate-limit-retention", time.Hour, func(ctx context.Context) error {
		purged, err := events.PurgeBefore(ctx, time.Now().Add(-cfg.RateLimitRetention))
		if err == nil && purged > 0 {
			logger.Log.WithField("purged", purged).Info("expired rate limit events removed")
		}
		return err
	})

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.RequeueTopic, cfg.KafkaGroupID)
	defer consumer.Close()
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := consumer.Consume(ctx, worker.RequeueHandler(repo, workQueue, cfg.CheckQueueName, recorder))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("requeue consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.WorkerHTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":          cfg.ServerHost,
			"port":          cfg.WorkerHTTPPort,
			"queue":         cfg.CheckQueueName,
			"poll_interval": cfg.WorkerPollInterval.String(),
		}).Info("Eligibility Worker started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Eligibility Worker...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Eligibility Worker stopped")
}
