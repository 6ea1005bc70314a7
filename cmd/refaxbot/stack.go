package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/refaxbot/refaxbot/internal/config"
	"github.com/refaxbot/refaxbot/internal/functions"
	"github.com/refaxbot/refaxbot/internal/keylock"
	"github.com/refaxbot/refaxbot/internal/llm"
	"github.com/refaxbot/refaxbot/internal/memory"
	"github.com/refaxbot/refaxbot/internal/orchestrator"
	"github.com/refaxbot/refaxbot/internal/prompt"
	"github.com/refaxbot/refaxbot/internal/session"
	"github.com/refaxbot/refaxbot/internal/sweeper"
	"github.com/refaxbot/refaxbot/internal/vocab"
)

// stores are the persistence backends selected by STORE_BACKEND.
type stores struct {
	conversations memory.ConversationStore
	profiles      memory.ProfileRepository
	sessions      session.Store
}

func inMemoryStores() stores {
	return stores{
		conversations: memory.NewInMemoryConversationStore(),
		profiles:      memory.NewInMemoryProfileRepository(),
		sessions:      session.NewInMemoryStore(),
	}
}

// newStores picks the backends for cfg. rdb is required for the redis and
// postgres backends, pool only for postgres.
func newStores(cfg *config.Config, rdb *redis.Client, pool *pgxpool.Pool) (stores, error) {
	switch cfg.Store.Backend {
	case "memory":
		return inMemoryStores(), nil
	case "redis", "postgres":
		if rdb == nil {
			return stores{}, fmt.Errorf("store backend %q needs redis", cfg.Store.Backend)
		}
		// Keys outlive the sweep cutoff so abandoned conversations are
		// finalized before Redis drops them.
		st := stores{
			conversations: memory.NewRedisConversationStore(rdb, 2*cfg.Engine.MemoryMaxAge),
			profiles:      memory.NewInMemoryProfileRepository(),
			sessions:      session.NewRedisStore(rdb, 2*cfg.Engine.SessionMaxIdle),
		}
		if cfg.Store.Backend == "postgres" {
			if pool == nil {
				return stores{}, fmt.Errorf("store backend postgres needs a database pool")
			}
			st.profiles = memory.NewPostgresProfileRepository(pool)
		}
		return st, nil
	default:
		return stores{}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// stack is the conversational core shared by the serve and chat commands.
type stack struct {
	memory   *memory.Service
	engine   *orchestrator.Engine
	sessions *session.Service
}

func newStack(cfg *config.Config, st stores, client llm.Client, events orchestrator.TurnPublisher) (*stack, error) {
	normalizer, err := vocab.NewDefault()
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary: %w", err)
	}

	registry, err := prompt.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}
	if _, ok := registry.Get(cfg.Engine.TemplateID); !ok {
		return nil, fmt.Errorf("prompt template %q not found", cfg.Engine.TemplateID)
	}

	// Memory and engine share one lock map so sweeps never race a turn.
	locks := keylock.New()
	memSvc := memory.NewService(st.conversations, st.profiles, locks)

	engine := orchestrator.NewEngine(orchestrator.Config{
		TemplateID:  cfg.Engine.TemplateID,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Location:    cfg.Engine.Location(),
	}, orchestrator.Deps{
		Memory:     memSvc,
		Locks:      locks,
		Normalizer: normalizer,
		Assembler:  prompt.NewAssembler(registry),
		Dispatcher: functions.NewDispatcher(functions.NewCatalogExecutor(functions.DefaultCatalog())),
		LLM:        client,
		Validator:  orchestrator.NewValidator(cfg.Engine.BlockedNumbers...),
		Events:     events,
	})

	return &stack{
		memory:   memSvc,
		engine:   engine,
		sessions: session.NewService(st.sessions, engine, memSvc),
	}, nil
}

// sweeper evicts stale memory and inactive sessions on independent tickers.
func (s *stack) sweeper(cfg config.EngineConfig) *sweeper.Sweeper {
	return sweeper.New(
		sweeper.Job{
			Name:     "sessions",
			Interval: cfg.SessionSweepInterval,
			MaxAge:   cfg.SessionMaxIdle,
			Sweep:    s.sessions.CleanupInactive,
		},
		sweeper.Job{
			Name:     "memory",
			Interval: cfg.MemorySweepInterval,
			MaxAge:   cfg.MemoryMaxAge,
			Sweep:    s.memory.CleanupStale,
		},
	)
}
