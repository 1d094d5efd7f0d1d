package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/passgate/internal/database/testutil"
	"github.com/charlesng35/passgate/internal/models"
)

func TestDatabaseStoreIncrementKeepsWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	count, first, err := store.IncrementWithTTL(ctx, "rate:1.2.3.4", time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, second, err := store.IncrementWithTTL(ctx, "rate:1.2.3.4", time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.LessOrEqual(t, second, first)
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, store.Set(ctx, "k", []byte("v2"), time.Minute))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), value)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", []byte("1"), time.Millisecond))
	require.NoError(t, store.Set(ctx, "fresh", []byte("1"), time.Hour))

	removed, err := store.PurgeExpired(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{Address: "  "})
	require.ErrorContains(t, err, "address is required")
}
