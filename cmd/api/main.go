package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"brandgen/internal/admission"
	"brandgen/internal/bootstrap"
	"brandgen/internal/broadcast"
	"brandgen/internal/domain"
	"brandgen/internal/http/handlers"
	"brandgen/internal/http/httpapi"
	"brandgen/internal/infra"
	"brandgen/internal/infra/geoip"
	"brandgen/internal/middleware"
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
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: open store backend")
	}
	defer backends.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: connect redis")
	}
	defer rdb.Close()

	store, err := bootstrap.OpenArtifacts(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: configure artifact store")
	}

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
		geo, _ = geoip.NewResolver("")
	}
	defer geo.Close()

	q := queue.NewRedis(rdb, queue.WithPrefix(cfg.QueuePrefix), queue.WithVisibilityTimeout(cfg.VisibilityTimeout))
	hub := broadcast.NewHub(broadcast.HubOptions{Grace: cfg.ProgressGrace, Logger: &logger})
	bus := broadcast.NewRedisBus(rdb, cfg.RedisChannel, &logger)
	if err := bus.StartForwarder(ctx, hub); err != nil {
		logger.Fatal().Err(err).Msg("api: start event forwarder")
	}

	app := &handlers.App{
		Config: cfg,
		Logger: &logger,
		Admission: admission.New(admission.Options{
			Ledger:        backends.Ledger,
			Store:         backends.Jobs,
			Queue:         q,
			Audit:         backends.Audit,
			Geo:           geo,
			Events:        bus,
			RatePerMinute: cfg.RateLimitPerMin,
			RateBurst:     cfg.RateLimitBurst,
			Logger:        &logger,
		}),
		Jobs:      backends.Jobs,
		Ledger:    backends.Ledger,
		Queue:     q,
		Hub:       hub,
		Artifacts: store,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.OriginAllowed(cfg.CORSOrigins),
		},
		Checks: map[string]func(context.Context) error{
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"database": backends.Ping,
		},
		CountryLookup: geo.CountryCode,
	}
	if backends.Reports != nil {
		app.Usage = backends.Reports
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		return server.Run(gctx)
	})

	if cfg.EmbedWorker {
		rt, err := bootstrap.NewRouter(ctx, cfg, backends, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: configure model router")
		}
		events := make(chan domain.Event, 256)
		pool := worker.New(worker.Options{
			Queue:        q,
			Store:        backends.Jobs,
			Pipelines:    pipeline.NewRegistry(pipeline.Deps{Router: rt, Store: store}),
			Events:       events,
			Logger:       &logger,
			Concurrency:  cfg.WorkerConcurrency,
			PollInterval: cfg.PollInterval,
			Heartbeat:    cfg.VisibilityTimeout / 3,
		})
		// The bus loops events back into this process's hub.
		g.Go(func() error {
			broadcast.Forward(gctx, &logger, events, bus)
			return nil
		})
		g.Go(func() error { return pool.Run(gctx) })
		logger.Info().Msg("api: embedded worker enabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api: stopped")
}
