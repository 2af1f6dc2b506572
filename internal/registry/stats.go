package registry

import (
	"sync"
	"time"

	"hyperregistry/internal/api"
)

// metrics tracks registry activity. All access goes through the mutex;
// the counters feed GET /v1/registry/stats and the Prometheus gauges.
type metrics struct {
	mu sync.Mutex

	totalRegistered    int64
	totalQueries       int64
	totalQueryTime     time.Duration
	cacheHits          int64
	cacheMisses        int64
	hotswapsCompleted  int64
	hotswapsRolledBack int64
}

func (m *metrics) recordRegister() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRegistered++
}

func (m *metrics) recordQuery(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalQueries++
	m.totalQueryTime += d
}

func (m *metrics) recordCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *metrics) recordHotSwap(rolledBack bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rolledBack {
		m.hotswapsRolledBack++
	} else {
		m.hotswapsCompleted++
	}
}

func (m *metrics) snapshot(totalActive int64) api.RegistryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avgMs float64
	if m.totalQueries > 0 {
		avgMs = float64(m.totalQueryTime.Milliseconds()) / float64(m.totalQueries)
	}
	return api.RegistryStats{
		TotalRegistered:    m.totalRegistered,
		TotalActive:        totalActive,
		TotalQueries:       m.totalQueries,
		AvgQueryTimeMs:     avgMs,
		CacheHits:          m.cacheHits,
		CacheMisses:        m.cacheMisses,
		HotswapsCompleted:  m.hotswapsCompleted,
		HotswapsRolledBack: m.hotswapsRolledBack,
	}
}
