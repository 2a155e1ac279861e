package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepipe/internal/services"
)

func set(size int) services.DerivativeSet {
	return services.DerivativeSet{
		services.Primary: {Format: services.Primary, Data: make([]byte, size), Size: int64(size)},
	}
}

func TestCache_GetSet(t *testing.T) {
	dc := New(time.Minute, 0, time.Hour)
	defer dc.Stop()

	_, ok := dc.Get("k")
	assert.False(t, ok)

	dc.Set("k", "hero", set(10))
	e, ok := dc.Get("k")
	require.True(t, ok)
	assert.Equal(t, "hero", e.Preset)
	assert.Equal(t, int64(1), e.Uses)

	stats := dc.GetStats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
}

func TestCache_Expiry(t *testing.T) {
	dc := New(time.Minute, 0, time.Hour)
	defer dc.Stop()

	now := time.Now()
	dc.now = func() time.Time { return now }
	dc.Set("k", "small", set(5))

	dc.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := dc.Get("k")
	assert.False(t, ok)

	assert.Equal(t, 1, dc.cleanup())
	assert.Equal(t, 0, dc.GetStats()["entries"])
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	dc := New(time.Minute, 25, time.Hour)
	defer dc.Stop()

	base := time.Now()
	dc.now = func() time.Time { return base }
	dc.Set("a", "p", set(10))
	dc.now = func() time.Time { return base.Add(time.Second) }
	dc.Set("b", "p", set(10))
	dc.now = func() time.Time { return base.Add(2 * time.Second) }
	dc.Set("c", "p", set(10))

	_, ok := dc.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = dc.Get("c")
	assert.True(t, ok)

	dc.Set("huge", "p", set(100))
	_, ok = dc.Get("huge")
	assert.False(t, ok, "entries above the budget are never cached")
}

func TestCache_Disabled(t *testing.T) {
	dc := New(0, 0, 0)
	dc.Set("k", "p", set(1))
	_, ok := dc.Get("k")
	assert.False(t, ok)
	assert.False(t, dc.Enabled())
	dc.Stop()
}

func TestKey_DependsOnOptions(t *testing.T) {
	data := []byte("abc")
	q := 50
	base := Key(data, "hero", []services.Format{services.Primary}, nil, false, nil)

	assert.Equal(t, base, Key(data, "hero", []services.Format{services.Primary}, nil, false, nil))
	assert.NotEqual(t, base, Key(data, "large", []services.Format{services.Primary}, nil, false, nil))
	assert.NotEqual(t, base, Key(data, "hero", []services.Format{services.Primary}, &q, false, nil))
	assert.NotEqual(t, base, Key(data, "hero", []services.Format{services.Primary}, nil, true, nil))
	assert.NotEqual(t, base, Key([]byte("abd"), "hero", []services.Format{services.Primary}, nil, false, nil))
	assert.Equal(t,
		Key(data, "hero", []services.Format{services.Secondary, services.Primary}, nil, false, nil),
		Key(data, "hero", []services.Format{services.Primary, services.Secondary}, nil, false, nil))
}
