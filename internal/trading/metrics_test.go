package trading

import "testing"

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()
	for i := int64(1); i <= 100; i++ {
		m.RecordSubmit(i, true)
	}

	if p50 := m.P50(); p50 < 49 || p50 > 52 {
		t.Errorf("P50 = %d, want ~50", p50)
	}
	if p95 := m.P95(); p95 < 94 || p95 > 97 {
		t.Errorf("P95 = %d, want ~95", p95)
	}
}

func TestMetricsStats(t *testing.T) {
	m := NewMetrics()
	m.RecordSubmit(10, true)
	m.RecordSubmit(20, true)
	m.RecordSubmit(30, false)

	total, confirmed, failed, rate := m.Stats()
	if total != 3 || confirmed != 2 || failed != 1 {
		t.Errorf("counts = %d/%d/%d", total, confirmed, failed)
	}
	if rate < 66 || rate > 67 {
		t.Errorf("confirm rate = %v", rate)
	}
}

func TestMetricsEmpty(t *testing.T) {
	m := NewMetrics()
	if m.P50() != 0 || m.P95() != 0 {
		t.Error("empty metrics should report zero percentiles")
	}
}

func TestMetricsWindowWraps(t *testing.T) {
	m := NewMetrics()
	// 150 samples: only the last 100 stay in the window.
	for i := 0; i < 50; i++ {
		m.RecordSubmit(1_000_000, true)
	}
	for i := 0; i < 100; i++ {
		m.RecordSubmit(5, true)
	}
	if p95 := m.P95(); p95 != 5 {
		t.Errorf("P95 after wrap = %d, want 5", p95)
	}
}
