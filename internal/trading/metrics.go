package trading

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics tracks submit-and-confirm latency over a bounded sample window.
type Metrics struct {
	mu        sync.Mutex
	samples   []int64
	sampleIdx int

	totalSubmits  atomic.Int64
	confirmed     atomic.Int64
	failedSubmits atomic.Int64
}

// NewMetrics creates a metrics tracker keeping the last 100 samples.
func NewMetrics() *Metrics {
	return &Metrics{samples: make([]int64, 100)}
}

// RecordSubmit records one submit round trip.
func (m *Metrics) RecordSubmit(latencyMs int64, success bool) {
	m.mu.Lock()
	m.samples[m.sampleIdx%len(m.samples)] = latencyMs
	m.sampleIdx++
	m.mu.Unlock()

	m.totalSubmits.Add(1)
	if success {
		m.confirmed.Add(1)
	} else {
		m.failedSubmits.Add(1)
	}
}

// P50 returns the median submit latency.
func (m *Metrics) P50() int64 { return m.percentile(50) }

// P95 returns the 95th percentile submit latency.
func (m *Metrics) P95() int64 { return m.percentile(95) }

// Stats returns aggregate submit counts and the confirm rate.
func (m *Metrics) Stats() (total, confirmed, failed int64, confirmRate float64) {
	total = m.totalSubmits.Load()
	confirmed = m.confirmed.Load()
	failed = m.failedSubmits.Load()
	if total > 0 {
		confirmRate = float64(confirmed) / float64(total) * 100
	}
	return
}

func (m *Metrics) percentile(p int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.sampleIdx
	if count > len(m.samples) {
		count = len(m.samples)
	}
	if count == 0 {
		return 0
	}

	sorted := make([]int64, count)
	copy(sorted, m.samples[:count])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (p * count) / 100
	if idx >= count {
		idx = count - 1
	}
	return sorted[idx]
}
