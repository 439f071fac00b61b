package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New[int64, string](Config{Name: "revision_date", MaxSize: 10})

	c.Set(1, "a")
	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = c.Get(2)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

// TestCache_LRUEviction 超出容量时驱逐最久未使用的条目
func TestCache_LRUEviction(t *testing.T) {
	c := New[int64, int](Config{MaxSize: 2})

	c.Set(1, 1)
	c.Set(2, 2)
	_, _ = c.Get(1) // 1 变为最近使用
	c.Set(3, 3)

	_, ok := c.Get(2)
	assert.False(t, ok, "2 应被驱逐")
	_, ok = c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Len())
}

func TestCache_TTL(t *testing.T) {
	c := New[string, int](Config{TTL: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", 1)
	now = now.Add(2 * time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Expires)
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[int64, time.Time](Config{MaxSize: 8})
	ctx := context.Background()
	calls := 0
	loader := func(ctx context.Context, rev int64) (time.Time, error) {
		calls++
		return time.Unix(rev, 0), nil
	}

	v1, err := c.GetOrLoad(ctx, 5, loader)
	require.NoError(t, err)
	v2, err := c.GetOrLoad(ctx, 5, loader)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := New[int64, int](Config{})
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), 1, func(context.Context, int64) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[int, int](Config{})
	c.Set(1, 1)
	c.Set(2, 2)

	assert.True(t, c.Delete(1))
	assert.False(t, c.Delete(1))

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Contains(t, c.String(), "Cache[unnamed]")
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int](Config{MaxSize: 50})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(i%70, g)
				c.Get(i % 70)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
