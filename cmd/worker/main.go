package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"brandgen/internal/bootstrap"
	"brandgen/internal/broadcast"
	"brandgen/internal/domain"
	"brandgen/internal/infra"
	"brandgen/internal/pipeline"
	"brandgen/internal/queue"
	"brandgen/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.SetupTracing(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: configure tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	backends, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: open store backend")
	}
	defer backends.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: connect redis")
	}
	defer rdb.Close()

	store, err := bootstrap.OpenArtifacts(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: configure artifact store")
	}

	rt, err := bootstrap.NewRouter(ctx, cfg, backends, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: configure model router")
	}
	for tt, route := range rt.Table().Routes {
		logger.Info().
			Str("task_type", string(tt)).
			Str("primary", route.Primary.String()).
			Str("fallback", route.Fallback.String()).
			Msg("worker: route")
	}

	events := make(chan domain.Event, 256)
	bus := broadcast.NewRedisBus(rdb, cfg.RedisChannel, &logger)
	pool := worker.New(worker.Options{
		Queue:        queue.NewRedis(rdb, queue.WithPrefix(cfg.QueuePrefix), queue.WithVisibilityTimeout(cfg.VisibilityTimeout)),
		Store:        backends.Jobs,
		Pipelines:    pipeline.NewRegistry(pipeline.Deps{Router: rt, Store: store}),
		Events:       events,
		Logger:       &logger,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.PollInterval,
		Heartbeat:    cfg.VisibilityTimeout / 3,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		broadcast.Forward(gctx, &logger, events, bus)
		return nil
	})
	g.Go(func() error { return pool.Run(gctx) })

	logger.Info().Msg("worker: started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker: stopped")
}
