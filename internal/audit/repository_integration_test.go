//go:build integration

package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "refax_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	host, _ := pgContainer.Host(ctx)
	port, _ := pgContainer.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/refax_test?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestRepository_InsertAndList(t *testing.T) {
	repo := NewRepository(setupPostgres(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, in := range []string{"search_product", "inventory_check", "search_product"} {
		log := &TurnLog{
			ConversationID: "c1",
			UserID:         "u1",
			Intent:         in,
			Confidence:     0.8,
			Functions:      []string{"buscarProductos"},
			Success:        i != 1,
			ProcessingMs:   int64(100 * (i + 1)),
			OccurredAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Insert(ctx, log))
		assert.NotZero(t, log.ID)
	}
	require.NoError(t, repo.Insert(ctx, &TurnLog{ConversationID: "c2", UserID: "u2", Intent: "general", OccurredAt: base}))

	t.Run("newest first", func(t *testing.T) {
		logs, total, err := repo.ListByConversation(ctx, "c1", DefaultListParams())
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, logs, 3)
		assert.Equal(t, int64(300), logs[0].ProcessingMs)
		assert.Equal(t, []string{"buscarProductos"}, logs[0].Functions)
	})

	t.Run("filters", func(t *testing.T) {
		failed := false
		logs, total, err := repo.ListByConversation(ctx, "c1", ListParams{Success: &failed, Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, logs, 1)
		assert.Equal(t, "inventory_check", logs[0].Intent)

		logs, total, err = repo.ListByConversation(ctx, "c1", ListParams{Intent: "search_product", Page: 1, PageSize: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, logs, 1)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		logs, total, err := repo.ListByConversation(ctx, "nope", DefaultListParams())
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, logs)
	})
}
