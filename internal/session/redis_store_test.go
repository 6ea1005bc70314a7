package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStore_SaveAndGet(t *testing.T) {
	store, _ := setupMiniredis(t, time.Hour)
	ctx := context.Background()
	at := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

	sess := newSession("c1", sender, at)
	sess.append(Message{Role: RoleUser, Content: "hola", Timestamp: at.Add(time.Second), Metadata: map[string]string{"wa_id": "abc"}})
	sess.State = State{Phase: PhaseSearching, LastIntent: "search_product"}
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "pos-01", got.PointOfSaleID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "abc", got.Messages[0].Metadata["wa_id"])
	assert.Equal(t, PhaseSearching, got.State.Phase)
	assert.True(t, got.LastActivityAt.Equal(at.Add(time.Second)))
}

func TestRedisStore_GetMissing(t *testing.T) {
	store, _ := setupMiniredis(t, time.Hour)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := setupMiniredis(t, 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newSession("c1", sender, time.Now())))
	assert.Equal(t, 2*time.Hour, mr.TTL(sessionKey("c1")))

	mr.FastForward(3 * time.Hour)
	_, err := store.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ListIdleAndDelete(t *testing.T) {
	store, mr := setupMiniredis(t, 0)
	ctx := context.Background()
	base := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, newSession("a", sender, base)))
	require.NoError(t, store.Save(ctx, newSession("b", sender, base.Add(30*time.Minute))))
	require.NoError(t, store.Save(ctx, newSession("c", sender, base.Add(90*time.Minute))))

	ids, err := store.ListIdle(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	assert.False(t, mr.Exists(sessionKey("a")))
	ids, err = store.ListIdle(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestService_OverRedisStore(t *testing.T) {
	store, _ := setupMiniredis(t, 2*time.Hour)
	svc, fin, c := newTestService(t, nil)
	svc.store = store
	ctx := context.Background()

	_, err := svc.ProcessMessageDetailed(ctx, "c1", "hola", sender)
	require.NoError(t, err)

	sess, err := svc.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)

	c.advance(61 * time.Minute)
	removed, err := svc.CleanupInactive(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Contains(t, fin.calls, "c1")
}
