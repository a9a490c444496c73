package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/checkeligibility/platform/pkg/audit"
	"github.com/checkeligibility/platform/pkg/bulk"
	"github.com/checkeligibility/platform/pkg/checks"
	"github.com/checkeligibility/platform/pkg/common/config"
	"github.com/checkeligibility/platform/pkg/common/database"
	"github.com/checkeligibility/platform/pkg/common/kafka"
	"github.com/checkeligibility/platform/pkg/common/logger"
	"github.com/checkeligibility/platform/pkg/gateway/middleware"
	"github.com/checkeligibility/platform/pkg/observability/metrics"
	"github.com/checkeligibility/platform/pkg/queue"
	"github.com/checkeligibility/platform/pkg/ratelimit"
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

	var publisher audit.Publisher
	if cfg.AuditKafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.AuditTopic)
		defer producer.Close()
		publisher = producer
	}
	recorder := audit.NewRecorder(db, publisher, "eligibility-api")
	if err := recorder.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate audit tables")
	}

	var limiter ratelimit.Admitter
	switch cfg.RateLimitBackend {
	case "redis":
		limiter = ratelimit.NewRedisLimiter(rdb, "ratelimit")
	default:
		events := ratelimit.NewRepository(db)
		if err := events.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate rate limit tables")
		}
		limiter = ratelimit.NewLimiter(events)
	}
	singleGuard := ratelimit.NewGuard(limiter, ratelimit.Policy{
		Name:   "check",
		Limit:  cfg.SingleCheckRateLimit,
		Window: cfg.SingleCheckRateWindow,
	}, recorder, cfg.RateLimitFailOpen)
	bulkGuard := ratelimit.NewGuard(limiter, ratelimit.Policy{
		Name:   "bulk-check",
		Limit:  cfg.BulkCheckRateLimit,
		Window: cfg.BulkCheckRateWindow,
	}, recorder, cfg.RateLimitFailOpen)

	workQueue := queue.NewRedisQueue(rdb, "eligibility")
	validator := checks.NewValidator()
	links := checks.Links{BaseURL: cfg.PublicBaseURL}

	service := checks.NewService(repo, validator, workQueue, cfg.CheckQueueName, singleGuard, recorder, links)
	orchestrator := bulk.NewOrchestrator(repo, validator, workQueue, cfg.CheckQueueName, bulkGuard, recorder, links)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"redis unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(middleware.OrganizationScope)
	api.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	checks.NewHTTPHandler(service, cfg.MaxRequestBody).Register(api)
	bulk.NewHTTPHandler(orchestrator, cfg.BulkRecordLimit, cfg.MaxRequestBody).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      middleware.CORS(router),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":               cfg.ServerHost,
			"port":               cfg.ServerPort,
			"rate_limit_backend": cfg.RateLimitBackend,
		}).Info("Eligibility API started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Eligibility API...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Eligibility API stopped")
}
