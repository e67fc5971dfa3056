package ab

import (
	"math"
	"sort"

	"pumplab/internal/storage"
)

// ParameterImpact aggregates what the recorded sessions say about one
// tunable.
type ParameterImpact struct {
	ParamName        string
	SessionsTested   int
	HigherWins       int
	LowerWins        int
	AvgPnlImpact     float64
	MaxPnlImpact     float64
	BestValue        *float64
	BestValueWinRate float64
}

// ConfigRecommendation is one parameter of the best-known config.
type ConfigRecommendation struct {
	ParamName  string
	Value      float64
	Confidence string // high, medium, low
}

// BestConfig is the cross-session recommendation.
type BestConfig struct {
	Parameters        []ConfigRecommendation
	OverallConfidence string // high, medium, low, insufficient_data
	TotalSessions     int
}

// TestSuggestion proposes the next experiment.
type TestSuggestion struct {
	ParamName string
	ValueA    float64
	ValueB    float64
	Priority  string // high, medium, low
	Rationale string
}

// Analyser computes parameter-impact statistics across completed
// sessions. It drives the experiment loop.
type Analyser struct {
	db *storage.DB
}

// NewAnalyser creates an analyser over the given ledger.
func NewAnalyser(db *storage.DB) *Analyser {
	return &Analyser{db: db}
}

// ParameterImpacts returns one impact row per tested parameter.
func (a *Analyser) ParameterImpacts() ([]*ParameterImpact, error) {
	params, err := a.db.GetTestedParameters()
	if err != nil {
		return nil, err
	}
	sort.Strings(params)

	impacts := make([]*ParameterImpact, 0, len(params))
	for _, param := range params {
		impact, err := a.impactFor(param)
		if err != nil {
			return nil, err
		}
		impacts = append(impacts, impact)
	}
	return impacts, nil
}

func (a *Analyser) impactFor(param string) (*ParameterImpact, error) {
	history, err := a.db.GetParameterHistory(param)
	if err != nil {
		return nil, err
	}

	impact := &ParameterImpact{ParamName: param, SessionsTested: len(history)}

	winnerCounts := make(map[float64]int)
	nonTies := 0
	var impactSum float64
	for _, diff := range history {
		impactSum += diff.PnlDifference
		if diff.PnlDifference > impact.MaxPnlImpact {
			impact.MaxPnlImpact = diff.PnlDifference
		}
		if diff.Winner == "tie" {
			continue
		}
		nonTies++
		winnerCounts[diff.WinnerValue]++
		if diff.WinnerValue == math.Max(diff.ValueA, diff.ValueB) {
			impact.HigherWins++
		} else {
			impact.LowerWins++
		}
	}
	if len(history) > 0 {
		impact.AvgPnlImpact = impactSum / float64(len(history))
	}

	// Modal winner value among non-tie sessions.
	var best float64
	bestCount := 0
	for value, count := range winnerCounts {
		if count > bestCount || (count == bestCount && value < best) {
			best, bestCount = value, count
		}
	}
	if bestCount > 0 {
		v := best
		impact.BestValue = &v
		impact.BestValueWinRate = float64(bestCount) / float64(nonTies) * 100
	}
	return impact, nil
}

// BestKnownConfig assembles the per-parameter recommendation with
// confidence grading.
func (a *Analyser) BestKnownConfig() (*BestConfig, error) {
	sessions, err := a.db.GetCompletedSessionsWithPnl()
	if err != nil {
		return nil, err
	}
	impacts, err := a.ParameterImpacts()
	if err != nil {
		return nil, err
	}

	cfg := &BestConfig{TotalSessions: len(sessions)}
	highCount := 0
	for _, impact := range impacts {
		if impact.BestValue == nil {
			continue
		}
		confidence := "low"
		switch {
		case impact.SessionsTested >= 5 && impact.BestValueWinRate >= 70:
			confidence = "high"
			highCount++
		case impact.SessionsTested >= 3 && impact.BestValueWinRate >= 60:
			confidence = "medium"
		}
		cfg.Parameters = append(cfg.Parameters, ConfigRecommendation{
			ParamName:  impact.ParamName,
			Value:      *impact.BestValue,
			Confidence: confidence,
		})
	}

	switch {
	case cfg.TotalSessions < 3:
		cfg.OverallConfidence = "insufficient_data"
	case len(cfg.Parameters) > 0 && highCount*2 >= len(cfg.Parameters):
		cfg.OverallConfidence = "high"
	case cfg.TotalSessions >= 5:
		cfg.OverallConfidence = "medium"
	default:
		cfg.OverallConfidence = "low"
	}
	return cfg, nil
}

// SuggestTests proposes the next experiments: untested tunables around
// their defaults at medium priority, and under-tested parameters around
// their best value at high priority. Sorted high, medium, low.
func (a *Analyser) SuggestTests() ([]*TestSuggestion, error) {
	impacts, err := a.ParameterImpacts()
	if err != nil {
		return nil, err
	}
	tested := make(map[string]*ParameterImpact, len(impacts))
	for _, impact := range impacts {
		tested[impact.ParamName] = impact
	}

	var suggestions []*TestSuggestion

	defaults := DefaultTunables()
	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := defaults[name]
		if impact, ok := tested[name]; ok {
			if impact.SessionsTested < 3 && impact.BestValue != nil {
				bv := *impact.BestValue
				suggestions = append(suggestions, &TestSuggestion{
					ParamName: name,
					ValueA:    bv * 0.85,
					ValueB:    bv * 1.15,
					Priority:  "high",
					Rationale: "promising value needs confirmation",
				})
			}
			continue
		}
		suggestions = append(suggestions, &TestSuggestion{
			ParamName: name,
			ValueA:    d * 0.5,
			ValueB:    d * 1.5,
			Priority:  "medium",
			Rationale: "parameter never tested",
		})
	}

	rank := map[string]int{"high": 0, "medium": 1, "low": 2}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return rank[suggestions[i].Priority] < rank[suggestions[j].Priority]
	})
	return suggestions, nil
}
