package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiawesome/diffex/diffex-service/internal/cache"
	"github.com/weiawesome/diffex/diffex-service/internal/config"
	"github.com/weiawesome/diffex/diffex-service/internal/handler"
	"github.com/weiawesome/diffex/diffex-service/internal/invalidation"
	"github.com/weiawesome/diffex/diffex-service/internal/metrics"
	"github.com/weiawesome/diffex/diffex-service/internal/repository"
	"github.com/weiawesome/diffex/diffex-service/internal/service"
	"github.com/weiawesome/diffex/pkg/database"
	pkglog "github.com/weiawesome/diffex/pkg/log"
	"github.com/weiawesome/diffex/pkg/pubsub"
	"github.com/weiawesome/diffex/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load("./config")
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "diffex-service",
	})
	logger := pkglog.L()

	instanceID := uuid.New().String()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database using GORM
	db, err := database.New(cfg.Database.ToDatabase())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db, repository.Models()...); err != nil {
			logger.Fatal().Err(err).Msg("failed to auto-migrate")
		}
		logger.Info().Msg("database migration completed")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.Noop()
	if cfg.Metrics.Enabled {
		pc, err := metrics.NewPrometheusCollector(registry)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to register metrics")
		}
		collector = pc
	}

	store := repository.NewInstrumentedStore(repository.NewGormBackingStore(db), collector)

	// Initialize result cache
	var (
		resultCache cache.ResultCache
		memCache    *cache.MemoryResultCache
	)
	switch cfg.Cache.Driver {
	case "redis":
		redisCache, err := cache.NewRedisResultCache(cfg.Redis, cache.RedisOptions{
			Prefix:  cfg.Cache.Prefix,
			TTL:     cfg.Cache.TTL,
			Enabled: cfg.Cache.Enabled,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		resultCache = redisCache
		logger.Info().Str("address", cfg.Redis.Address).Msg("redis result cache connected")
	default:
		memCache = cache.NewMemoryResultCache(cache.MemoryOptions{
			Capacity:        cfg.Cache.Capacity,
			TopHitsCapacity: cfg.Cache.TopHitsCapacity,
			TTL:             cfg.Cache.TTL,
			Enabled:         cfg.Cache.Enabled,
		})
		resultCache = memCache
	}
	defer resultCache.Close()

	// Warm start from the last snapshot
	var snapshots storage.Storage
	if cfg.Snapshot.Enabled && memCache != nil {
		snapshots, err = storage.New(ctx, cfg.Snapshot.Config)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create snapshot storage")
		}
		if cfg.Snapshot.LoadOnStart {
			if _, err := cache.LoadSnapshot(ctx, memCache, snapshots, cfg.Snapshot.Key); err != nil {
				if errors.Is(err, cache.ErrSnapshotNotFound) {
					logger.Info().Str("key", cfg.Snapshot.Key).Msg("no cache snapshot to load")
				} else {
					logger.Warn().Err(err).Msg("failed to load cache snapshot")
				}
			}
		}
	}

	// Initialize service
	aggregator := service.NewResultAggregator(store, resultCache, collector, service.AggregatorConfig{
		Limits:                 cfg.Batch.Limits(),
		Concurrency:            cfg.Batch.Concurrency,
		FillNonSignificant:     cfg.Aggregation.FillNonSignificant,
		DiffExpressedThreshold: cfg.Aggregation.DiffExpressedThreshold,
	})
	topHits := service.NewTopHitsFinder(store, resultCache, collector)
	diffExService := service.NewDiffExService(aggregator, topHits, resultCache)

	// Invalidation events
	var publisher *invalidation.Publisher
	if cfg.PubSub.Enabled {
		ps, err := pubsub.NewPubSub(cfg.PubSub.Config)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to create pubsub")
		}
		defer ps.Close()

		listener := invalidation.NewListener(ps, diffExService, instanceID)
		if err := listener.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start invalidation listener")
		}
		defer listener.Stop()

		publisher = invalidation.NewPublisher(ps, instanceID)
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(diffExService, publisher, cfg.TopHits)

	// Setup Gin router
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger, "/health", cfg.Metrics.Path))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "cache_enabled": diffExService.CacheEnabled()})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	// Register routes
	httpHandler.RegisterRoutes(r)

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Info().
			Str("addr", addr).
			Str("cache_driver", cfg.Cache.Driver).
			Str("db_driver", cfg.Database.Driver).
			Str("instance_id", instanceID).
			Msg("diffex-service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	if snapshots != nil && cfg.Snapshot.SaveOnShutdown {
		if _, err := cache.SaveSnapshot(shutdownCtx, memCache, snapshots, cfg.Snapshot.Key); err != nil {
			logger.Error().Err(err).Msg("failed to save cache snapshot")
		}
	}

	logger.Info().Msg("server exited")
}
