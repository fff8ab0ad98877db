// Command sentrel runs the Sentry-protocol ingestion gateway: it accepts
// SDK event submissions over HTTP and indexes them into OpenSearch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentrel/sentrel/internal/auth"
	"github.com/sentrel/sentrel/internal/batcher"
	"github.com/sentrel/sentrel/internal/config"
	"github.com/sentrel/sentrel/internal/enrich"
	"github.com/sentrel/sentrel/internal/handlers"
	"github.com/sentrel/sentrel/internal/indexer"
	"github.com/sentrel/sentrel/internal/logging"
	"github.com/sentrel/sentrel/internal/middleware"
	"github.com/sentrel/sentrel/internal/pipeline"
	"github.com/sentrel/sentrel/internal/queue"
	"github.com/sentrel/sentrel/internal/server"
	"github.com/sentrel/sentrel/internal/transform"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).
		With(logging.Service(cfg.AppName))
	logging.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("fatal error", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osClient, err := indexer.NewOpenSearchClient(indexer.Config{
		Hosts:         cfg.OpenSearch.Hosts,
		Username:      cfg.OpenSearch.Username,
		Password:      cfg.OpenSearch.Password,
		UseSSL:        cfg.OpenSearch.UseSSL,
		TLSSkipVerify: !cfg.OpenSearch.VerifyCerts,
		CACertPath:    cfg.OpenSearch.CACerts,
		MaxRetries:    3,
	})
	if err != nil {
		return fmt.Errorf("opensearch client: %w", err)
	}

	ix := indexer.New(osClient, indexer.Config{
		Hosts:          cfg.OpenSearch.Hosts,
		IndexPrefix:    cfg.OpenSearch.IndexPrefix,
		WorkerPoolSize: cfg.OpenSearch.WorkerPoolSize,
		Timeout:        30 * time.Second,
	})

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := ix.Initialize(initCtx); err != nil {
		log.Warn("opensearch bootstrap incomplete, continuing", "error", err.Error())
	}
	cancel()

	geoipPath := ""
	if cfg.GeoIP.Enabled {
		geoipPath = cfg.GeoIP.DatabasePath
	}
	enricher := enrich.New(geoipPath)
	defer enricher.Close()

	pipe := pipeline.New(transform.New(), enricher, ix)

	// Event path: distributed queue when enabled and reachable, otherwise
	// the in-process batcher.
	var (
		sink  handlers.EventSink
		q     *queue.Queue
		batch *batcher.Batcher
	)
	if cfg.Queue.Enabled {
		q, err = queue.New(ctx, cfg.Queue.URL, cfg.Queue.Subject)
		if err != nil {
			log.Warn("queue unavailable, falling back to in-process batching", "error", err.Error())
		} else if err := q.StartWorker(ctx, pipe); err != nil {
			log.Warn("queue worker failed to start, falling back to in-process batching", "error", err.Error())
			q.Close()
			q = nil
		}
	}
	if q != nil {
		sink = q
	} else {
		batch = batcher.New(batcher.Config{
			MaxBatchSize:  cfg.Ingestion.BatchSize,
			FlushInterval: cfg.Ingestion.BatchTimeout,
			MaxPending:    cfg.Ingestion.MaxPending,
		}, func(ctx context.Context, events []batcher.Event) {
			pipe.ProcessBatch(ctx, events)
		})
		batch.Start()
		sink = batch
	}

	authenticator := auth.New(cfg.Auth.Required, cfg.Auth.AllowedPublicKeys)
	ingest := handlers.NewIngest(log, authenticator, sink, cfg.Ingestion.ProjectIDs, cfg.Ingestion.MaxRequestSize)

	var pinger handlers.Pinger
	if q != nil {
		pinger = q
	}
	var batchStatus handlers.BatchStatus
	if batch != nil {
		batchStatus = batch
	}
	ops := handlers.NewOps(log, cfg.AppName, ix, pinger, batchStatus)

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RedisURL != "" {
			redisOpts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
			if err != nil {
				return fmt.Errorf("invalid ratelimit.redis_url: %w", err)
			}
			limiter = middleware.NewRedisLimiter(redis.NewClient(redisOpts), cfg.RateLimit.Requests, cfg.RateLimit.Window)
			log.Info("distributed rate limiting enabled")
		} else {
			limiter = middleware.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		}
	}

	origins := cfg.CORS.AllowedOrigins
	if len(origins) == 0 && cfg.Debug {
		origins = []string{"*"}
	}

	router := server.NewRouter(server.Options{
		Ingest:  ingest,
		Ops:     ops,
		CORS:    middleware.DefaultCORSConfig(origins),
		Limiter: limiter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server drain incomplete", "error", err.Error())
	}
	if batch != nil {
		batch.Stop(shutdownCtx)
	}
	if q != nil {
		q.Close()
	}

	log.Info("shutdown complete")
	return nil
}
