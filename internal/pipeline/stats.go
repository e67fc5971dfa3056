package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxStageOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_outcomes_total",
			Help: "Pipeline stage outcomes by variant, stage and result",
		},
		[]string{"variant", "stage", "result"},
	)

	mtxAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_admissions_total",
			Help: "Tokens admitted or rejected by variant",
		},
		[]string{"variant", "result"},
	)
)

func init() {
	prometheus.MustRegister(mtxStageOutcomes, mtxAdmissions)
}

// TokenOutcome is one finished pipeline run, kept in a bounded ring of
// recent tokens.
type TokenOutcome struct {
	Mint           string
	Passed         bool
	RejectionStage string
	Reason         string
	DurationMs     int64
}

// gateCount is the pass/fail tally of one stage.
type gateCount struct {
	Pass int
	Fail int
}

// Stats tracks per-gate counters and a ring of recent token outcomes for
// one pipeline instance. Resettable between sessions.
type Stats struct {
	mu       sync.Mutex
	variant  string
	gates    map[string]*gateCount
	recent   []TokenOutcome
	ringCap  int
	ringNext int
	ringFull bool
}

// NewStats creates a stats tracker keeping the last ringCap outcomes.
func NewStats(variant string, ringCap int) *Stats {
	if ringCap <= 0 {
		ringCap = 200
	}
	return &Stats{
		variant: variant,
		gates:   make(map[string]*gateCount),
		recent:  make([]TokenOutcome, ringCap),
		ringCap: ringCap,
	}
}

func (s *Stats) recordStage(stage string, pass bool) {
	s.mu.Lock()
	gc, ok := s.gates[stage]
	if !ok {
		gc = &gateCount{}
		s.gates[stage] = gc
	}
	if pass {
		gc.Pass++
	} else {
		gc.Fail++
	}
	s.mu.Unlock()

	result := "pass"
	if !pass {
		result = "fail"
	}
	mtxStageOutcomes.WithLabelValues(s.variant, stage, result).Inc()
}

func (s *Stats) recordOutcome(o TokenOutcome) {
	s.mu.Lock()
	s.recent[s.ringNext] = o
	s.ringNext = (s.ringNext + 1) % s.ringCap
	if s.ringNext == 0 {
		s.ringFull = true
	}
	s.mu.Unlock()

	result := "rejected"
	if o.Passed {
		result = "admitted"
	}
	mtxAdmissions.WithLabelValues(s.variant, result).Inc()
}

// GateCounts returns a copy of the per-stage tallies.
func (s *Stats) GateCounts() map[string]gateCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]gateCount, len(s.gates))
	for k, v := range s.gates {
		out[k] = *v
	}
	return out
}

// Recent returns the ring contents, oldest first.
func (s *Stats) Recent() []TokenOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ringFull {
		out := make([]TokenOutcome, s.ringNext)
		copy(out, s.recent[:s.ringNext])
		return out
	}
	out := make([]TokenOutcome, 0, s.ringCap)
	out = append(out, s.recent[s.ringNext:]...)
	out = append(out, s.recent[:s.ringNext]...)
	return out
}

// Reset clears the tallies and the ring.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates = make(map[string]*gateCount)
	s.recent = make([]TokenOutcome, s.ringCap)
	s.ringNext = 0
	s.ringFull = false
}
