package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jinwoo-ahn/wallet-auth-nonce/internal/auth"
	"github.com/jinwoo-ahn/wallet-auth-nonce/internal/common/handler"
	"github.com/jinwoo-ahn/wallet-auth-nonce/internal/common/middleware"
	"github.com/jinwoo-ahn/wallet-auth-nonce/internal/config"
	"github.com/jinwoo-ahn/wallet-auth-nonce/internal/metrics"
	"github.com/jinwoo-ahn/wallet-auth-nonce/internal/worker"
	pkgdb "github.com/jinwoo-ahn/wallet-auth-nonce/pkg/db"
	"github.com/jinwoo-ahn/wallet-auth-nonce/pkg/nonce"
	pkgredis "github.com/jinwoo-ahn/wallet-auth-nonce/pkg/redis"
)

func main() {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting nonce engine",
		zap.String("environment", cfg.Server.Environment),
		zap.String("backend", cfg.Nonce.Backend),
		zap.String("addr", cfg.Server.Addr()),
	)

	store, probes, closeStore, err := initStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize nonce store", zap.Error(err))
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	service := nonce.NewService(store, nonce.Config{
		TTL:                 cfg.Nonce.TTL,
		TimestampTolerance:  cfg.Nonce.TimestampTolerance,
		MaxGenerateAttempts: cfg.Nonce.MaxGenerateAttempts,
	}, m, logger)

	cleanup := worker.NewCleanupWorker(service, cfg.Worker.CleanupInterval, cfg.Worker.CleanupTimeout, logger)
	cleanup.Start()
	defer cleanup.Stop()

	router := setupRouter(cfg, logger, service, registry, probes)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("addr", cfg.Server.Addr()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func initLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// initStore builds the configured nonce store backend plus its readiness
// probes and teardown. Connectivity is verified fail-fast here.
func initStore(cfg *config.Config, logger *zap.Logger) (nonce.Store, []handler.Probe, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cfg.Nonce.Backend {
	case config.BackendRedis:
		rdb := pkgredis.New(pkgredis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := pkgredis.Ping(ctx, rdb); err != nil {
			return nil, nil, nil, err
		}
		store := nonce.NewRedisStoreWithSlack(rdb, cfg.Nonce.StoreTTLSlack, logger)
		probes := []handler.Probe{{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}}
		return store, probes, func() { rdb.Close() }, nil

	case config.BackendMySQL:
		db, err := pkgdb.New(pkgdb.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Name:            cfg.Database.Name,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pkgdb.Ping(ctx, db); err != nil {
			return nil, nil, nil, err
		}
		store := nonce.NewSQLStoreWithSlack(db, cfg.Nonce.StoreTTLSlack, logger)
		probes := []handler.Probe{{
			Name:  "mysql",
			Check: func(ctx context.Context) error { return db.PingContext(ctx) },
		}}
		return store, probes, func() { db.Close() }, nil

	default:
		// Memory backend: single-process test/dev execution only.
		logger.Warn("using in-memory nonce store, records do not survive restarts")
		return nonce.NewMemoryStore(), nil, func() {}, nil
	}
}

func setupRouter(cfg *config.Config, logger *zap.Logger, service *nonce.Service, registry *prometheus.Registry, probes []handler.Probe) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	healthHandler := handler.NewHealthHandler(probes...)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	authHandler := auth.NewHandler(service, cfg.Nonce.TTL)

	v1 := router.Group("/api/v1")
	{
		authHandler.RegisterRoutes(v1)
	}

	return router
}
