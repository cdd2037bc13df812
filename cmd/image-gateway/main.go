package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/api/handlers/health"
	"github.com/aliskhannn/image-gateway/internal/api/handlers/image"
	"github.com/aliskhannn/image-gateway/internal/api/handlers/preset"
	"github.com/aliskhannn/image-gateway/internal/api/router"
	"github.com/aliskhannn/image-gateway/internal/api/server"
	"github.com/aliskhannn/image-gateway/internal/cache"
	"github.com/aliskhannn/image-gateway/internal/config"
	"github.com/aliskhannn/image-gateway/internal/infra/kafka/consumer"
	"github.com/aliskhannn/image-gateway/internal/infra/kafka/producer"
	warmmsg "github.com/aliskhannn/image-gateway/internal/kafka/handlers/warm"
	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/netguard"
	"github.com/aliskhannn/image-gateway/internal/parser"
	"github.com/aliskhannn/image-gateway/internal/processor"
	presetrepo "github.com/aliskhannn/image-gateway/internal/repository/preset"
	"github.com/aliskhannn/image-gateway/internal/response"
	imagesvc "github.com/aliskhannn/image-gateway/internal/service/image"
	presetsvc "github.com/aliskhannn/image-gateway/internal/service/preset"
	"github.com/aliskhannn/image-gateway/internal/storage/origin"
)

// warmQueue stays a nil interface when Kafka is disabled.
type warmQueue interface {
	Produce(ctx context.Context, req model.WarmRequest) error
}

// presetStore stays a nil interface when no database is configured.
type presetStore interface {
	List(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, name, query string) error
}

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Retry strategy for origin reads and Kafka.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Request parser with static presets from the config file.
	guard := netguard.Policy{AllowedHosts: cfg.Transform.WatermarkHosts}
	p := parser.New(parser.Limits{
		MaxDimension:  cfg.Transform.MaxDimension,
		MaxOperations: cfg.Transform.MaxOperations,
		MaxSigma:      cfg.Transform.MaxSigma,
	}, guard, nil)
	if err := p.LoadPresets(cfg.Presets); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid preset in config")
	}

	// Connect to PostgreSQL (master and slaves) when presets are persisted.
	var (
		db      *dbpg.DB
		presets presetStore
	)
	if cfg.Database.Master.Host != "" {
		opts := &dbpg.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}

		slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
		for _, s := range cfg.Database.Slaves {
			slaveDSNs = append(slaveDSNs, s.DSN())
		}

		var err error
		db, err = dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		presets = presetrepo.NewRepository(db)
	}

	presetService := presetsvc.NewService(p, presets)
	if err := presetService.Load(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load presets")
	}

	// Origin object store (MinIO / S3).
	storage, err := origin.NewStorage(
		cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Region, cfg.Storage.UseSSL,
		origin.Options{
			FetchTimeout:  cfg.Storage.FetchTimeout,
			MaxObjectSize: cfg.Storage.MaxObjectSize,
			Strategy:      strategy,
		},
	)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	// Transform pipeline.
	fetcher := processor.NewFetcher(guard, cfg.Transform.WatermarkTimeout, cfg.Transform.WatermarkMaxBytes, cfg.Transform.MaxPixels)
	imageProcessor := processor.New(processor.Options{
		MaxPixels:        cfg.Transform.MaxPixels,
		DefaultQuality:   cfg.Transform.DefaultQuality,
		PipelineTimeout:  cfg.Transform.PipelineTimeout,
		CropPolicy:       cfg.Transform.CropPolicy,
		WatermarkFailure: cfg.Transform.WatermarkFailure,
		WatermarkFont:    cfg.Transform.WatermarkFont,
		MaxConcurrent:    int64(cfg.Transform.MaxConcurrent),
		ThrottleWait:     cfg.Transform.ThrottleWait,
	}, fetcher)

	// Cache: memory, optionally backed by Redis.
	var (
		store cache.Store = cache.NewMemoryStore(cfg.Cache.Capacity, cfg.Cache.TTL)
		rdb   *redis.Client
	)
	if cfg.Cache.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			zlog.Logger.Warn().Err(err).Msg("redis unreachable, remote tier degrades to misses")
		}
		store = cache.NewTieredStore(store, cache.NewRedisStore(rdb, cfg.Cache.Redis.TTL))
	}

	manager := cache.New(store, cache.Options{
		Shards:        cfg.Cache.Shards,
		BuildTimeout:  cfg.Cache.BuildTimeout,
		MaxEntryBytes: cfg.Cache.MaxEntryBytes,
	})
	notFound := cache.NewNegativeCache(cfg.Cache.Capacity, cfg.Cache.NotFoundTTL)

	assembler := response.New(cfg.Headers, cfg.Compression)

	// Warm queue.
	var (
		queue warmQueue
		prod  *producer.Producer
	)
	if cfg.Kafka.Enabled {
		prod = producer.New(&cfg.Kafka, strategy)
		queue = prod
	}

	service := imagesvc.NewService(p, storage, imageProcessor, manager, notFound, assembler, queue)

	imgHandler := image.NewHandler(service, assembler)
	presetHandler := preset.NewHandler(presetService)

	// Kafka consumer warming the cache from queued requests.
	var (
		wg   sync.WaitGroup
		cons *consumer.Consumer
	)
	if cfg.Kafka.Enabled {
		cons = consumer.New(&cfg.Kafka, strategy, warmmsg.NewHandler(service))
		wg.Add(1)
		go cons.Consume(ctx, &wg)
	}

	// Start HTTP server in a separate goroutine.
	r := router.Setup(imgHandler, presetHandler, health.NewHandler(manager))
	s := server.New(cfg.Server, r)
	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Graceful shutdown with timeout for HTTP server and in-flight builds.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	if err := manager.Close(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to drain cache builds")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if db != nil {
		if err := db.Master.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close master DB")
		}
		for i, slave := range db.Slaves {
			if err := slave.Close(); err != nil {
				zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
			}
		}
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close redis client")
		}
	}

	// Close Kafka producer and consumer clients.
	if prod != nil {
		if err := prod.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if cons != nil {
		if err := cons.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
		}
	}
}
