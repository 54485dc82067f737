// Command scribeflow runs the transcription pipeline service: HTTP API,
// stage trigger consumer and the orchestrator, in one process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/skillsenselab/scribeflow/internal/analysis"
	"github.com/skillsenselab/scribeflow/internal/analysis/ollama"
	"github.com/skillsenselab/scribeflow/internal/api"
	"github.com/skillsenselab/scribeflow/internal/config"
	"github.com/skillsenselab/scribeflow/internal/events"
	"github.com/skillsenselab/scribeflow/internal/jobstore"
	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/metrics"
	"github.com/skillsenselab/scribeflow/internal/orchestrator"
	"github.com/skillsenselab/scribeflow/internal/quota"
	"github.com/skillsenselab/scribeflow/internal/resilience"
	"github.com/skillsenselab/scribeflow/internal/status"
	"github.com/skillsenselab/scribeflow/internal/storage"
	"github.com/skillsenselab/scribeflow/internal/storage/local"
	"github.com/skillsenselab/scribeflow/internal/storage/s3"
	"github.com/skillsenselab/scribeflow/internal/transcription"
	"github.com/skillsenselab/scribeflow/internal/transcription/cloudflare"
	"github.com/skillsenselab/scribeflow/internal/transcription/fasterwhisper"
	"github.com/skillsenselab/scribeflow/internal/transcription/whisper"
	"github.com/skillsenselab/scribeflow/internal/usage"
)

func main() {
	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		logger.NewDefault("scribeflow").Fatal("configuration invalid", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}

	log := logger.New(&cfg.Logging, cfg.Name)
	logger.SetGlobalLogger(log)

	if err := run(&cfg, log); err != nil {
		log.Fatal("service exited", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(registry)

	breakers := resilience.NewBreakers(resilience.CircuitBreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Cooldown:    cfg.Breaker.Cooldown,
		MaxCooldown: cfg.Breaker.MaxCooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			collector.BreakerTransition(name, to.String())
			log.Warn("breaker state changed", map[string]interface{}{
				logger.FieldProvider: name,
				"from":               from.String(),
				"to":                 to.String(),
			})
		},
	})

	blobs, err := newBlobClient(ctx, cfg)
	if err != nil {
		return err
	}

	bus, err := newBus(cfg, log)
	if err != nil {
		return err
	}

	limiter := newLimiter(cfg, log)

	store := jobstore.NewMemoryStore(log)
	statusSvc := status.NewService(store)

	router := transcription.NewRouter(cfg.Providers.Router, []transcription.Provider{
		whisper.NewProvider(cfg.Providers.Whisper),
		cloudflare.NewProvider(cfg.Providers.Cloudflare),
		fasterwhisper.NewProvider(cfg.Providers.FasterWhisper),
	}, breakers, log)

	engine := analysis.NewEngine(cfg.Analysis, ollama.NewProvider(cfg.Providers.Ollama), breakers, log)

	orch := orchestrator.New(cfg.Orchestrator, store, router, engine, blobs, bus, limiter, collector, log)

	handlers := api.NewHandlers(store, blobs, limiter, bus, statusSvc, collector, log)
	rateLimiter := quota.NewSlidingWindow(cfg.RateLimit)
	go rateLimiter.Janitor(ctx, time.Minute)
	engineRouter := api.NewRouter(handlers, rateLimiter, registry, log, cfg.Debug)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      engineRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)

	go func() {
		log.Info("consuming stage triggers", map[string]interface{}{
			"backend": cfg.Events.Backend,
		})
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	go func() {
		log.Info("http server listening", map[string]interface{}{
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown incomplete", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	if closer, ok := bus.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	log.Info("shutdown complete")
	return nil
}

func newBlobClient(ctx context.Context, cfg *config.Config) (*storage.BlobClient, error) {
	switch cfg.Storage.Backend {
	case config.BackendS3:
		backend, err := s3.NewStorage(ctx, &cfg.Storage.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewBlobClient(backend, "s3"), nil
	default:
		backend, err := local.NewStorage(cfg.Storage.BasePath)
		if err != nil {
			return nil, err
		}
		return storage.NewBlobClient(backend, "local"), nil
	}
}

func newBus(cfg *config.Config, log *logger.Logger) (events.Bus, error) {
	if cfg.Events.Backend == config.BackendKafka {
		return events.NewKafkaBus(cfg.Events.Kafka, log)
	}
	return events.NewMemoryBus(cfg.Events.Buffer), nil
}

func newLimiter(cfg *config.Config, log *logger.Logger) *quota.Limiter {
	recorder := usage.NewMemoryRecorder(log)
	if cfg.Quota.Backend == config.BackendRedis {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:         cfg.Quota.Redis.Addr,
			Password:     cfg.Quota.Redis.Password,
			DB:           cfg.Quota.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		return quota.NewLimiter(quota.NewRedisStore(rdb, cfg.Quota.Redis.KeyPrefix, cfg.Quota.Defaults), recorder, log)
	}
	return quota.NewLimiter(quota.NewMemoryStore(cfg.Quota.Defaults), recorder, log)
}
