package ab

import (
	"fmt"
	"math"
	"time"

	"github.com/fatih/color"

	"pumplab/internal/storage"
)

// VariantSummary aggregates one variant's session outcome.
type VariantSummary struct {
	Variant            string
	TokensSeen         int
	Passed             int
	Rejected           int
	RejectionsByStage  map[string]int
	TradesEntered      int
	TradesClosed       int
	TradesActive       int
	TotalSolDeployed   float64
	TotalSolReturned   float64
	RealizedPnlSol     float64
	RealizedPnlPercent float64
	Wins               int
	Losses             int
	AvgWinSol          float64
	AvgLossSol         float64
	BestTradeSol       float64
	WorstTradeSol      float64
	AvgHoldMs          int64
	ExitReasons        map[string]int
}

// Report is the final artifact of one A/B session.
type Report struct {
	SessionID        string
	Description      string
	StartedAt        int64
	DurationMs       int64
	TokensDetected   int
	VariantA         VariantSummary
	VariantB         VariantSummary
	Winner           string // A, B, tie
	PnlDifferenceSol float64
	ParameterDiffs   []*storage.ParameterDiff
}

func (h *Harness) buildReport(tokensDetected int) (*Report, error) {
	trades, err := h.db.GetABTrades(h.session.ID)
	if err != nil {
		return nil, err
	}
	decisions, err := h.db.GetDecisions(h.session.ID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SessionID:      h.session.ID,
		Description:    h.cfg.Description,
		StartedAt:      h.session.StartedAt,
		DurationMs:     h.cfg.DurationMs,
		TokensDetected: tokensDetected,
		VariantA:       summarize(storage.VariantA, trades, decisions),
		VariantB:       summarize(storage.VariantB, trades, decisions),
	}

	switch {
	case report.VariantA.RealizedPnlSol > report.VariantB.RealizedPnlSol:
		report.Winner = storage.VariantA
	case report.VariantB.RealizedPnlSol > report.VariantA.RealizedPnlSol:
		report.Winner = storage.VariantB
	default:
		report.Winner = "tie"
	}
	report.PnlDifferenceSol = math.Abs(report.VariantA.RealizedPnlSol - report.VariantB.RealizedPnlSol)

	for _, v := range []VariantSummary{report.VariantA, report.VariantB} {
		if err := h.db.UpsertSessionStats(h.session.ID+"_"+v.Variant, v.TokensSeen, v.TradesEntered, v.TradesClosed, v.RealizedPnlSol); err != nil {
			return report, nil // stats are best-effort
		}
	}
	return report, nil
}

func summarize(variant string, trades []*storage.ABTrade, decisions []*storage.PipelineDecision) VariantSummary {
	s := VariantSummary{
		Variant:           variant,
		RejectionsByStage: make(map[string]int),
		ExitReasons:       make(map[string]int),
	}

	for _, d := range decisions {
		if d.Variant != variant {
			continue
		}
		s.TokensSeen++
		if d.Passed {
			s.Passed++
		} else {
			s.Rejected++
			s.RejectionsByStage[d.RejectionStage]++
		}
	}

	var winSum, lossSum float64
	var holdSum int64
	for _, t := range trades {
		if t.Variant != variant {
			continue
		}
		s.TradesEntered++
		s.TotalSolDeployed += t.HypotheticalSolSpent

		if t.Status != storage.TradeStatusClosed {
			s.TradesActive++
			continue
		}

		s.TradesClosed++
		s.TotalSolReturned += t.ExitSolReceived
		s.RealizedPnlSol += t.RealizedPnlSol
		s.ExitReasons[t.ExitReason]++
		holdSum += t.HoldDurationMs

		if t.RealizedPnlSol > 0 {
			s.Wins++
			winSum += t.RealizedPnlSol
		} else {
			s.Losses++
			lossSum += t.RealizedPnlSol
		}
		if s.TradesClosed == 1 || t.RealizedPnlSol > s.BestTradeSol {
			s.BestTradeSol = t.RealizedPnlSol
		}
		if s.TradesClosed == 1 || t.RealizedPnlSol < s.WorstTradeSol {
			s.WorstTradeSol = t.RealizedPnlSol
		}
	}

	if s.Wins > 0 {
		s.AvgWinSol = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossSol = lossSum / float64(s.Losses)
	}
	if s.TradesClosed > 0 {
		s.AvgHoldMs = holdSum / int64(s.TradesClosed)
	}
	if deployed := closedDeployed(trades, variant); deployed > 0 {
		s.RealizedPnlPercent = s.RealizedPnlSol / deployed * 100
	}
	return s
}

func closedDeployed(trades []*storage.ABTrade, variant string) float64 {
	var sum float64
	for _, t := range trades {
		if t.Variant == variant && t.Status == storage.TradeStatusClosed {
			sum += t.HypotheticalSolSpent
		}
	}
	return sum
}

// Print renders the report for the terminal.
func (r *Report) Print() {
	title := color.New(color.FgCyan, color.Bold)
	header := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	title.Printf("\n=== A/B session %s ===\n", r.SessionID)
	if r.Description != "" {
		fmt.Printf("%s\n", r.Description)
	}
	fmt.Printf("started %s, ran %s, %d tokens detected\n\n",
		time.UnixMilli(r.StartedAt).Format("2006-01-02 15:04:05"),
		time.Duration(r.DurationMs)*time.Millisecond,
		r.TokensDetected)

	for _, v := range []*VariantSummary{&r.VariantA, &r.VariantB} {
		header.Printf("variant %s\n", v.Variant)
		fmt.Printf("  tokens seen %d, passed %d, rejected %d\n", v.TokensSeen, v.Passed, v.Rejected)
		if len(v.RejectionsByStage) > 0 {
			fmt.Printf("  rejections:")
			for stage, n := range v.RejectionsByStage {
				fmt.Printf(" %s=%d", stage, n)
			}
			fmt.Println()
		}
		fmt.Printf("  trades entered %d, closed %d, active %d\n", v.TradesEntered, v.TradesClosed, v.TradesActive)
		fmt.Printf("  deployed %.4f SOL, returned %.4f SOL\n", v.TotalSolDeployed, v.TotalSolReturned)

		pnlLine := fmt.Sprintf("  realized PnL %.4f SOL (%.1f%%)", v.RealizedPnlSol, v.RealizedPnlPercent)
		if v.RealizedPnlSol >= 0 {
			green.Println(pnlLine)
		} else {
			red.Println(pnlLine)
		}
		fmt.Printf("  wins %d (avg %.4f), losses %d (avg %.4f), best %.4f, worst %.4f\n",
			v.Wins, v.AvgWinSol, v.Losses, v.AvgLossSol, v.BestTradeSol, v.WorstTradeSol)
		fmt.Printf("  avg hold %s, exits:", time.Duration(v.AvgHoldMs)*time.Millisecond)
		for reason, n := range v.ExitReasons {
			fmt.Printf(" %s=%d", reason, n)
		}
		fmt.Println()
		fmt.Println()
	}

	if r.Winner == "tie" {
		header.Println("result: tie")
	} else {
		header.Printf("result: variant %s wins by %.4f SOL\n", r.Winner, r.PnlDifferenceSol)
	}
	if len(r.ParameterDiffs) > 0 {
		fmt.Println("parameters tested:")
		for _, d := range r.ParameterDiffs {
			fmt.Printf("  %-28s A=%v B=%v winner=%s\n", d.ParamName, d.ValueA, d.ValueB, d.Winner)
		}
	}
}
