//go:build integration

package memory

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

	"github.com/refaxbot/refaxbot/internal/keylock"
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

func TestPostgresProfileRepository(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewPostgresProfileRepository(pool)
	ctx := context.Background()

	t.Run("get or create is idempotent", func(t *testing.T) {
		p1, err := repo.GetOrCreateProfile(ctx, "u1", "+5215511112222", "pos-01")
		require.NoError(t, err)
		assert.Equal(t, "es", p1.PreferredLanguage)
		assert.Equal(t, StyleCasual, p1.Preferences.CommunicationStyle)

		p2, err := repo.GetOrCreateProfile(ctx, "u1", "other", "pos-99")
		require.NoError(t, err)
		assert.Equal(t, "+5215511112222", p2.PhoneNumber)
		assert.Equal(t, "pos-01", p2.Business.PointOfSaleID)
	})

	t.Run("missing profile", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save profile round trips json parts", func(t *testing.T) {
		p, err := repo.GetProfile(ctx, "u1")
		require.NoError(t, err)
		p.AddPreferredBrand("toyota")
		p.Preferences.VehicleInfo = &VehicleInfo{Brand: "toyota", Model: "corolla", Year: 2018}
		p.Business.IsVIPCustomer = true
		require.NoError(t, repo.SaveProfile(ctx, p))

		got, err := repo.GetProfile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"toyota"}, got.Preferences.PreferredBrands)
		assert.Equal(t, 2018, got.Preferences.VehicleInfo.Year)
		assert.True(t, got.Business.IsVIPCustomer)
	})

	t.Run("summaries most recent first", func(t *testing.T) {
		for _, id := range []string{"c1", "c2", "c3"} {
			require.NoError(t, repo.SaveSummary(ctx, &ConversationSummary{
				ConversationID: id,
				UserID:         "u1",
				StartedAt:      time.Now().UTC(),
				MessageCount:   2,
				MainTopics:     []string{"balatas"},
				Outcome:        OutcomeCompleted,
			}))
		}

		sums, err := repo.ListSummaries(ctx, "u1", 2)
		require.NoError(t, err)
		require.Len(t, sums, 2)
		assert.Equal(t, "c3", sums[0].ConversationID)
		assert.Equal(t, "c2", sums[1].ConversationID)
		assert.Nil(t, sums[0].Satisfaction)
		assert.Empty(t, sums[0].KeyInsights)
	})
}

func TestService_WithPostgresProfiles(t *testing.T) {
	pool := setupPostgres(t)
	svc := NewService(NewInMemoryConversationStore(), NewPostgresProfileRepository(pool), keylock.New())
	ctx := context.Background()

	_, err := svc.Initialize(ctx, "c1", "u1", "+521", "pos-01")
	require.NoError(t, err)
	require.NoError(t, svc.Update(ctx, "c1", Update{CurrentTopic: "amortiguadores", Query: "necesito amortiguadores"}))
	require.NoError(t, svc.LearnPreference(ctx, "c1", PrefPreferredBrand, "nissan"))

	summary, err := svc.Finalize(ctx, "c1", OutcomeEscalated)
	require.NoError(t, err)
	require.NotNil(t, summary)

	mem, err := svc.Initialize(ctx, "c2", "u1", "+521", "pos-01")
	require.NoError(t, err)
	require.Len(t, mem.LongTerm.PreviousSummaries, 1)
	assert.Equal(t, OutcomeEscalated, mem.LongTerm.PreviousSummaries[0].Outcome)
	assert.Equal(t, []string{"nissan"}, mem.LongTerm.UserProfile.Preferences.PreferredBrands)
	assert.Contains(t, mem.LongTerm.UserProfile.Interactions.CommonTopics, "amortiguadores")
}
