package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"imagepipe/internal/services"
)

// Entry is a cached derivative set with metadata
type Entry struct {
	Set     services.DerivativeSet
	Preset  string
	Expires time.Time
	Created time.Time
	Uses    int64
	Size    int64
}

// DerivativeCache keeps recently produced derivative sets in memory so repeat
// uploads of the same bytes with the same options skip decode and encode.
type DerivativeCache struct {
	entries       map[string]*Entry
	mu            sync.Mutex
	ttl           time.Duration
	maxBytes      int64
	totalBytes    int64
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
	stats         Stats
	now           func() time.Time
}

// Stats tracks cache performance metrics
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// New creates a cache. A non-positive ttl disables caching; maxBytes bounds
// the summed size of cached payloads.
func New(ttl time.Duration, maxBytes int64, cleanupEvery time.Duration) *DerivativeCache {
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}

	dc := &DerivativeCache{
		entries:     make(map[string]*Entry),
		ttl:         ttl,
		maxBytes:    maxBytes,
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}

	if ttl > 0 {
		dc.cleanupTicker = time.NewTicker(cleanupEvery)
		go dc.cleanupLoop()
		log.Info().Dur("ttl", ttl).Int64("max_bytes", maxBytes).Msg("💾 Derivative cache initialized")
	}

	return dc
}

// Enabled reports whether the cache stores anything.
func (dc *DerivativeCache) Enabled() bool {
	return dc != nil && dc.ttl > 0
}

// Key identifies a request by content hash and every option that changes the
// output.
func Key(data []byte, preset string, formats []services.Format, quality *int, progressive bool, focal *services.FocalPoint) string {
	sum := sha256.Sum256(data)

	fs := make([]string, len(formats))
	for i, f := range formats {
		fs[i] = string(f)
	}
	sort.Strings(fs)

	q := "-"
	if quality != nil {
		q = fmt.Sprint(*quality)
	}
	fp := "-"
	if focal != nil {
		fp = fmt.Sprintf("%.4f,%.4f", focal.X, focal.Y)
	}

	return fmt.Sprintf("%s|%s|%s|%s|%t|%s", hex.EncodeToString(sum[:]), preset, strings.Join(fs, ","), q, progressive, fp)
}

// Get returns the cached entry for key if it is still valid.
func (dc *DerivativeCache) Get(key string) (*Entry, bool) {
	if !dc.Enabled() {
		return nil, false
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.entries[key]
	if !ok || dc.now().After(entry.Expires) {
		dc.stats.Misses++
		return nil, false
	}

	entry.Uses++
	dc.stats.Hits++
	return entry, true
}

// Set stores set under key. Sets larger than the whole budget are skipped;
// otherwise the oldest entries are evicted until it fits.
func (dc *DerivativeCache) Set(key, preset string, set services.DerivativeSet) {
	if !dc.Enabled() {
		return
	}

	size := set.TotalSize()
	if dc.maxBytes > 0 && size > dc.maxBytes {
		return
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if old, ok := dc.entries[key]; ok {
		dc.totalBytes -= old.Size
		delete(dc.entries, key)
	}

	for dc.maxBytes > 0 && dc.totalBytes+size > dc.maxBytes && len(dc.entries) > 0 {
		dc.evictOldest()
	}

	now := dc.now()
	dc.entries[key] = &Entry{
		Set:     set,
		Preset:  preset,
		Expires: now.Add(dc.ttl),
		Created: now,
		Size:    size,
	}
	dc.totalBytes += size
}

func (dc *DerivativeCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range dc.entries {
		if oldestKey == "" || e.Created.Before(oldest) {
			oldestKey, oldest = k, e.Created
		}
	}
	dc.totalBytes -= dc.entries[oldestKey].Size
	delete(dc.entries, oldestKey)
	dc.stats.Evictions++
}

func (dc *DerivativeCache) cleanupLoop() {
	for {
		select {
		case <-dc.cleanupTicker.C:
			if n := dc.cleanup(); n > 0 {
				log.Debug().Int("removed", n).Msg("🧹 Cache cleanup")
			}
		case <-dc.stopCleanup:
			dc.cleanupTicker.Stop()
			return
		}
	}
}

// cleanup removes expired entries and returns how many were dropped.
func (dc *DerivativeCache) cleanup() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	removed := 0
	for k, e := range dc.entries {
		if now.After(e.Expires) {
			dc.totalBytes -= e.Size
			delete(dc.entries, k)
			dc.stats.Evictions++
			removed++
		}
	}
	return removed
}

// GetStats returns overall cache statistics
func (dc *DerivativeCache) GetStats() map[string]interface{} {
	if dc == nil {
		return map[string]interface{}{"enabled": false}
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	hitRate := 0.0
	if total := dc.stats.Hits + dc.stats.Misses; total > 0 {
		hitRate = float64(dc.stats.Hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"enabled":   dc.ttl > 0,
		"entries":   len(dc.entries),
		"total_kb":  dc.totalBytes / 1024,
		"hits":      dc.stats.Hits,
		"misses":    dc.stats.Misses,
		"evictions": dc.stats.Evictions,
		"hit_rate":  fmt.Sprintf("%.2f%%", hitRate),
		"ttl_min":   dc.ttl.Minutes(),
	}
}

// Stop gracefully shuts down the cleanup goroutine
func (dc *DerivativeCache) Stop() {
	if dc == nil || dc.cleanupTicker == nil {
		return
	}
	dc.stopOnce.Do(func() {
		close(dc.stopCleanup)
		log.Info().Msg("🛑 Derivative cache stopped")
	})
}
