package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scribe/internal/audit/handler"
	"scribe/internal/audit/ingest"
	"scribe/internal/audit/query"
	"scribe/internal/audit/queue"
	"scribe/internal/audit/queue/memq"
	"scribe/internal/audit/queue/redisq"
	dynamostore "scribe/internal/audit/store/dynamo"
	"scribe/internal/jwtauth"
	"scribe/internal/platform/config"
	"scribe/internal/platform/dynamo"
	"scribe/internal/platform/httpserver"
	"scribe/internal/platform/logger"
	"scribe/internal/platform/metrics"
	platformredis "scribe/internal/platform/redis"
	httptransport "scribe/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal/audit packages.
func main() {
	log := logger.New()

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dynamoClient, err := dynamo.New(ctx, cfg.Store)
	if err != nil {
		log.Error("dynamodb client setup failed", "error", err)
		os.Exit(1)
	}
	st := dynamostore.New(dynamoClient, cfg.Store.TableName)

	m := metrics.New()

	policy := queue.DefaultPolicy()
	policy.AttemptTimeout = cfg.Queue.AttemptTimeout
	processor := queue.NewProcessor(st, policy,
		queue.WithLogger(log),
		queue.WithMetrics(m),
	)

	ingestOpts := []ingest.Option{
		ingest.WithRetention(cfg.Retention()),
		ingest.WithLogger(log),
		ingest.WithMetrics(m),
	}

	// The deferred path runs inside this process: either a Redis-backed
	// queue shared across instances or a purely in-process one.
	var runQueue func()
	if cfg.Queue.Enabled {
		if cfg.Queue.RedisURL != "" {
			redisClient, err := platformredis.New(cfg.Queue.RedisURL, cfg.Redis)
			if err != nil {
				log.Error("redis setup failed", "error", err)
				os.Exit(1)
			}
			defer redisClient.Close()
			q := redisq.New(redisClient.Client, processor, log)
			ingestOpts = append(ingestOpts, ingest.WithQueue(q))
			runQueue = func() { _ = q.Run(ctx, cfg.Queue.Workers) }
		} else {
			q := memq.New(processor, 0)
			ingestOpts = append(ingestOpts, ingest.WithQueue(q))
			runQueue = func() { _ = q.Run(ctx, cfg.Queue.Workers) }
		}
	}

	ingestor, err := ingest.New(st, cfg.Store.TableName, ingestOpts...)
	if err != nil {
		log.Error("ingestor setup failed", "error", err)
		os.Exit(1)
	}

	queryOpts := []query.Option{
		query.WithLogger(log),
		query.WithMetrics(m),
	}
	if cfg.IndexEnabled {
		queryOpts = append(queryOpts, query.WithIndex(cfg.Store.IndexName, cfg.IndexOnly))
	}
	searcher := query.New(st, queryOpts...)

	jwtService := jwtauth.NewService(cfg.JWTSigningKey, "scribe")
	h := handler.New(ingestor, searcher, log, jwtService)
	router := httptransport.NewRouter(h, log)

	srv := httpserver.New(cfg.Addr, router)

	if runQueue != nil {
		go runQueue()
	}

	log.Info("starting scribe", "addr", cfg.Addr, "table", cfg.Store.TableName)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
