package metadata

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Lumina/internal/models"
)

func newTestRedisLibrary(t *testing.T, keyCap int) *RedisKeyLibrary {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisKeyLibraryWithClient(client, "test:metadata", keyCap)
}

func TestRedisKeyLibrary_Register(t *testing.T) {
	ctx := context.Background()
	lib := newTestRedisLibrary(t, 2)

	typ, ok, err := lib.Register(ctx, "pages", models.MetadataNumber)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.MetadataNumber, typ)

	// re-registering keeps the first type
	typ, ok, err = lib.Register(ctx, "pages", models.MetadataString)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.MetadataNumber, typ)

	_, ok, err = lib.Register(ctx, "title", models.MetadataString)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = lib.Register(ctx, "author", models.MetadataString)
	require.NoError(t, err)
	assert.False(t, ok, "library is full")

	size, err := lib.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestRedisKeyLibrary_ConcurrentRegisterRespectsCap(t *testing.T) {
	ctx := context.Background()
	lib := newTestRedisLibrary(t, 20)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 15; i++ {
				_, _, err := lib.Register(ctx, fmt.Sprintf("k%d_%d", w, i), models.MetadataEnum)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	size, err := lib.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, size)
}

func TestRedisKeyLibrary_ObserveAndList(t *testing.T) {
	ctx := context.Background()
	lib := newTestRedisLibrary(t, 0)
	n := NewNormalizer(lib, nil)

	for _, kind := range []string{"object", "array", "object"} {
		vals, err := n.Normalize(ctx, map[string]string{"json_kind": kind})
		require.NoError(t, err)
		require.NoError(t, n.Observe(ctx, vals))
	}

	keys, err := lib.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "json_kind", keys[0].Key)
	assert.Equal(t, models.MetadataEnum, keys[0].Type)
	assert.Equal(t, 3, keys[0].DocumentCount)
	assert.Equal(t, map[string]int{"object": 2, "array": 1}, keys[0].Values)
}
