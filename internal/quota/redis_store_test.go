package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillsenselab/scribeflow/internal/domain"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "quota", Defaults{DocumentsLimit: 50, AudioMinutesLimit: 300, Period: time.Hour})
}

func TestRedisStore_LazyCreation(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	counter, err := store.Get(ctx, "owner-1", domain.ResourceDocuments)
	require.NoError(t, err)
	assert.Equal(t, int64(50), counter.Limit)
	assert.Equal(t, int64(0), counter.Used)
	assert.False(t, counter.ResetAt.IsZero(), "resetAt should be set on lazy creation")
}

func TestRedisStore_IncrementIsAtomic(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.IncrementUsed(ctx, "owner-1", domain.ResourceAudioMinutes, 3)
		}()
	}
	wg.Wait()

	counter, err := store.Get(ctx, "owner-1", domain.ResourceAudioMinutes)
	require.NoError(t, err)
	assert.Equal(t, int64(60), counter.Used, "20 concurrent increments of 3")
}

func TestRedisStore_IncrementUsedOnce(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	claimed, err := store.IncrementUsedOnce(ctx, "owner-1", domain.ResourceAudioMinutes, 5, "job-42")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.IncrementUsedOnce(ctx, "owner-1", domain.ResourceAudioMinutes, 5, "job-42")
	require.NoError(t, err)
	assert.False(t, claimed, "replayed token must not claim again")

	counter, err := store.Get(ctx, "owner-1", domain.ResourceAudioMinutes)
	require.NoError(t, err)
	assert.Equal(t, int64(5), counter.Used)
}

func TestRedisStore_SetLimitSurvivesEnsure(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetLimit(ctx, "owner-1", domain.ResourceDocuments, 999))

	// A later lazy ensure must not clobber the billing-adjusted limit.
	require.NoError(t, store.IncrementUsed(ctx, "owner-1", domain.ResourceDocuments, 1))
	counter, err := store.Get(ctx, "owner-1", domain.ResourceDocuments)
	require.NoError(t, err)
	assert.Equal(t, int64(999), counter.Limit)
	assert.Equal(t, int64(1), counter.Used)
}

func TestRedisStore_Reset(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementUsed(ctx, "owner-1", domain.ResourceDocuments, 12))
	require.NoError(t, store.Reset(ctx, "owner-1", domain.ResourceDocuments))

	counter, err := store.Get(ctx, "owner-1", domain.ResourceDocuments)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter.Used)
}
