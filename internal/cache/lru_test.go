package cache_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/pseudostream/internal/cache"
)

// value40 makes a 2-byte key plus a 38-byte value, 40 bytes in total.
func value40(fill string) string {
	return strings.Repeat(fill, 38)
}

func TestLRU_GetPut(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU(1024)

	_, ok := c.Get("print x")
	assert.False(t, ok)

	c.Put("print x", "fmt.Println(x)")

	got, ok := c.Get("print x")
	require.True(t, ok)
	assert.Equal(t, "fmt.Println(x)", got)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU(100)

	c.Put("k1", value40("a"))
	c.Put("k2", value40("b"))

	_, ok := c.Get("k1")
	require.True(t, ok)

	// k2 is now the most recent and the most accessed.
	c.Get("k2")
	c.Get("k2")

	c.Put("k3", value40("c"))

	_, ok = c.Get("k1")
	assert.False(t, ok, "k1 should be evicted")

	_, ok = c.Get("k2")
	assert.True(t, ok)

	_, ok = c.Get("k3")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestLRU_PrefersEvictingLargeColdEntries(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU(3000)

	c.Put("small", "tiny!")

	for range 4 {
		c.Get("small")
	}

	c.Put("big", strings.Repeat("x", 1997))

	// small is the LRU tail, but big has the lower hits-per-KB cost.
	c.Put("new", strings.Repeat("y", 1497))

	_, ok := c.Get("small")
	assert.True(t, ok, "hot small entry should survive")

	_, ok = c.Get("big")
	assert.False(t, ok, "cold large entry should be evicted")

	_, ok = c.Get("new")
	assert.True(t, ok)
}

func TestLRU_PutReplacesValue(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU(1024)

	c.Put("k", "a")
	c.Put("k", "bb")

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "bb", got)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(3), stats.CurrentSize)
}

func TestLRU_SkipsOversizedEntries(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU(10)

	c.Put("key", strings.Repeat("v", 20))

	_, ok := c.Get("key")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().CurrentSize)
}

func TestLRU_ZeroSizeStoresNothing(t *testing.T) {
	t.Parallel()

	for _, size := range []int64{0, -5} {
		c := cache.NewLRU(size)
		c.Put("a", "b")

		_, ok := c.Get("a")
		assert.False(t, ok)
		assert.Zero(t, c.Stats().MaxSize)
	}
}

func TestLRU_StatsAndClear(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU(1024)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(4), stats.CurrentSize)
	assert.Equal(t, int64(1024), stats.MaxSize)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)

	c.Clear()

	stats = c.Stats()
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.CurrentSize)
	assert.Equal(t, int64(2), stats.Hits)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestStats_HitRateEmpty(t *testing.T) {
	t.Parallel()

	assert.Zero(t, cache.Stats{}.HitRate())
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU(4096)

	var wg sync.WaitGroup

	for worker := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range 200 {
				key := fmt.Sprintf("w%d-%d", worker, i%20)
				c.Put(key, strings.Repeat("v", i%50))
				c.Get(key)
			}
		}()
	}

	wg.Wait()

	stats := c.Stats()
	assert.LessOrEqual(t, stats.CurrentSize, int64(4096))
	assert.Equal(t, int64(8*200), stats.Hits+stats.Misses)
}
