package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/refaxbot/refaxbot/internal/api"
	"github.com/refaxbot/refaxbot/internal/audit"
	"github.com/refaxbot/refaxbot/internal/auth"
	"github.com/refaxbot/refaxbot/internal/config"
	"github.com/refaxbot/refaxbot/internal/database"
	"github.com/refaxbot/refaxbot/internal/llm"
	"github.com/refaxbot/refaxbot/internal/memory"
	mw "github.com/refaxbot/refaxbot/internal/middleware"
	inats "github.com/refaxbot/refaxbot/internal/nats"
	"github.com/refaxbot/refaxbot/internal/orchestrator"
	iredis "github.com/refaxbot/refaxbot/internal/redis"
	"github.com/refaxbot/refaxbot/internal/relay"
	"github.com/refaxbot/refaxbot/internal/server"
	"github.com/refaxbot/refaxbot/internal/session"
)

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	var pool *pgxpool.Pool
	if cfg.Store.Backend == "postgres" {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			return err
		}
		p, err := database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer p.Close()
		pool = p
	}

	// Redis
	var rdb *goredis.Client
	if cfg.Store.Backend != "memory" {
		c, err := iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer c.Close()
		rdb = c
	}

	// NATS
	var (
		natsClient *inats.Client
		publisher  *inats.Publisher
		events     orchestrator.TurnPublisher
	)
	if cfg.NATS.URL != "" {
		c, err := inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer c.Close()
		natsClient = c
		publisher = inats.NewPublisher(c.JetStream())
		events = publisher
	} else {
		slog.Warn("NATS_URL is empty, relay and turn events disabled")
	}

	st, err := newStores(cfg, rdb, pool)
	if err != nil {
		return err
	}

	client, err := llm.NewOpenAIClient(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	core, err := newStack(cfg, st, client, events)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				slog.Error(name+" stopped", "error", err)
			}
		}()
	}

	run("sweeper", core.sweeper(cfg.Engine).Start)

	if natsClient != nil {
		consumerMgr := inats.NewConsumerManager(natsClient.JetStream())
		run("relay", relay.New(core.sessions, publisher, consumerMgr).Start)

		if pool != nil {
			run("audit consumer", audit.NewConsumer(audit.NewRepository(pool), consumerMgr).Start)
		}
	}

	router := api.NewRouter(pool, rdb, natsClient, routerConfig(cfg, rdb), handlers(cfg, core, pool))

	srvErr := server.New(cfg.Server, router).Run(ctx)
	stop()
	wg.Wait()
	return srvErr
}

func routerConfig(cfg *config.Config, rdb *goredis.Client) api.RouterConfig {
	rc := api.RouterConfig{CORSAllowedOrigins: cfg.CORS.AllowedOrigins}
	if rdb != nil {
		limiter := mw.NewRateLimiter(rdb, cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec, mw.ByConversation)
		rc.MessageRateLimiter = limiter.Middleware
	} else {
		slog.Warn("rate limiting disabled without redis")
	}
	return rc
}

func handlers(cfg *config.Config, core *stack, pool *pgxpool.Pool) api.HandlerSet {
	sessionHandler := session.NewHandler(core.sessions)
	memoryHandler := memory.NewHandler(core.memory)

	h := api.HandlerSet{
		SendMessage:      sessionHandler.PostMessage,
		GetSession:       sessionHandler.Get,
		EndSession:       sessionHandler.End,
		GetMemory:        memoryHandler.Get,
		GetMemoryContext: memoryHandler.Context,
		AuthMiddleware:   auth.Middleware(auth.NewTokenManager(cfg.Auth.ServiceSecret, cfg.Auth.Issuer)),
	}
	if pool != nil {
		h.ListTurns = audit.NewHandler(audit.NewRepository(pool)).ListTurns
	}
	return h
}
