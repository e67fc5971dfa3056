package monitor

import (
	"math"
	"time"

	"pumplab/internal/config"
	"pumplab/internal/curve"
	"pumplab/internal/storage"
)

// Evaluation outcomes. A position with no triggered exit and a valid
// valuation gets reason "" and skip=false; skip=true means this tick
// could not value the position and nothing fires except max-hold.
type evaluation struct {
	reason          string
	currentValueSol float64
	pnlPercent      float64
	skip            bool
}

// evaluateExit applies the exit rules to one position against the latest
// curve state (nil when the batch fetch yielded nothing). The position's
// high-water mark is updated in place.
func evaluateExit(cfg *config.VariantConfig, pos *storage.Position, state *curve.State, now time.Time) evaluation {
	// Max-hold fires regardless of pricing, valuing the position at the
	// last seen value (entry when none was ever observed).
	if now.UnixMilli()-pos.EntryTimestamp >= cfg.MaxHoldMs {
		value := pos.LastCurrentValueSol
		if state != nil && !state.Complete {
			if v, ok := valuation(state, pos.TokenAmount); ok {
				value = v
			}
		}
		if value == 0 {
			value = pos.EntryAmountSol
		}
		return evaluation{reason: storage.ExitTimeExit, currentValueSol: value, pnlPercent: pnl(pos, value)}
	}

	if state == nil {
		return evaluation{skip: true}
	}
	if state.Complete {
		// Graduated curves are unsellable here; the position is worth
		// nothing to this venue.
		return evaluation{reason: storage.ExitGraduated, currentValueSol: 0, pnlPercent: -100}
	}

	value, ok := valuation(state, pos.TokenAmount)
	if !ok {
		return evaluation{skip: true}
	}

	pnlPct := pnl(pos, value)
	if pnlPct > pos.HighWaterMarkPercent {
		pos.HighWaterMarkPercent = pnlPct
	}
	pos.LastCurrentValueSol = value
	pos.LastCheckTimestamp = now.UnixMilli()

	ts := cfg.TrailingStop
	trailing := ts != nil && ts.Enabled

	if trailing && pos.HighWaterMarkPercent >= ts.ActivationPercent {
		trailLevel := pos.HighWaterMarkPercent - ts.DistancePercent
		if pnlPct <= trailLevel {
			return evaluation{reason: storage.ExitTrailingStop, currentValueSol: value, pnlPercent: pnlPct}
		}
	}
	if trailing && ts.HardTakeProfitPercent > 0 && pnlPct >= ts.HardTakeProfitPercent {
		return evaluation{reason: storage.ExitTakeProfit, currentValueSol: value, pnlPercent: pnlPct}
	}
	if !trailing && pnlPct >= cfg.TakeProfitPercent {
		return evaluation{reason: storage.ExitTakeProfit, currentValueSol: value, pnlPercent: pnlPct}
	}
	if pnlPct <= -cfg.StopLossPercent {
		return evaluation{reason: storage.ExitStopLoss, currentValueSol: value, pnlPercent: pnlPct}
	}

	return evaluation{currentValueSol: value, pnlPercent: pnlPct}
}

// valuation prices the position by selling its whole token amount into
// the curve. Non-finite or negative values invalidate the tick.
func valuation(state *curve.State, tokenAmount uint64) (float64, bool) {
	value := float64(curve.SellOut(state, tokenAmount)) / curve.LamportsPerSol
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, false
	}
	return value, true
}

func pnl(pos *storage.Position, valueSol float64) float64 {
	if pos.EntryAmountSol <= 0 {
		return 0
	}
	return (valueSol - pos.EntryAmountSol) / pos.EntryAmountSol * 100
}
