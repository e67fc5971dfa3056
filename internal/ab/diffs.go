package ab

import (
	"math"
	"sort"

	"pumplab/internal/config"
	"pumplab/internal/storage"
)

// Tunables maps a variant config onto the named numeric parameters the
// experiment loop reasons about. Booleans map to 0/1.
func Tunables(cfg *config.VariantConfig) map[string]float64 {
	m := map[string]float64{
		"takeProfit":                cfg.TakeProfitPercent,
		"stopLoss":                  cfg.StopLossPercent,
		"maxHoldDurationMs":         float64(cfg.MaxHoldMs),
		"priceCheckIntervalMs":      float64(cfg.PriceCheckIntervalMs),
		"momentumMinTotalBuys":      float64(cfg.MomentumMinTotalBuys),
		"pumpfunMinSolInCurve":      cfg.MinSolInCurve,
		"pumpfunMaxSolInCurve":      cfg.MaxSolInCurve,
		"maxTokenAgeSeconds":        float64(cfg.MaxTokenAgeSeconds),
		"momentumInitialDelayMs":    float64(cfg.MomentumInitialDelayMs),
		"momentumRecheckIntervalMs": float64(cfg.MomentumRecheckIntervalMs),
		"momentumMaxChecks":         float64(cfg.MomentumMaxChecks),
		"buySlippage":               cfg.BuySlippagePercent,
		"sellSlippage":              cfg.SellSlippagePercent,
		"maxTradesPerHour":          float64(cfg.MaxTradesPerHour),
		"quoteAmount":               cfg.QuoteAmountSol,
	}
	if ts := cfg.TrailingStop; ts != nil {
		m["trailingStop.enabled"] = boolVal(ts.Enabled)
		m["trailingStop.activationPercent"] = ts.ActivationPercent
		m["trailingStop.distancePercent"] = ts.DistancePercent
		m["trailingStop.hardTakeProfitPercent"] = ts.HardTakeProfitPercent
	} else {
		m["trailingStop.enabled"] = 0
	}
	return m
}

// DefaultTunables carries the stock values used when suggesting untested
// parameter experiments.
func DefaultTunables() map[string]float64 {
	return map[string]float64{
		"takeProfit":                50,
		"stopLoss":                  20,
		"maxHoldDurationMs":         300_000,
		"priceCheckIntervalMs":      3000,
		"momentumMinTotalBuys":      10,
		"pumpfunMinSolInCurve":      0.5,
		"pumpfunMaxSolInCurve":      30,
		"maxTokenAgeSeconds":        30,
		"momentumInitialDelayMs":    2000,
		"momentumRecheckIntervalMs": 1500,
		"momentumMaxChecks":         3,
		"buySlippage":               15,
		"sellSlippage":              25,
		"maxTradesPerHour":          20,
		"quoteAmount":               0.01,
	}
}

// ComputeParameterDiffs emits one diff per tunable whose value differs
// between the variants, with the winner decided by higher realised PnL.
func ComputeParameterDiffs(sessionID string, cfgA, cfgB *config.VariantConfig, pnlA, pnlB float64) []*storage.ParameterDiff {
	tunablesA := Tunables(cfgA)
	tunablesB := Tunables(cfgB)

	names := make([]string, 0, len(tunablesA))
	for name := range tunablesA {
		names = append(names, name)
	}
	for name := range tunablesB {
		if _, ok := tunablesA[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var diffs []*storage.ParameterDiff
	for _, name := range names {
		valueA, valueB := tunablesA[name], tunablesB[name]
		if valueA == valueB {
			continue
		}

		winner := "tie"
		winnerValue := valueA
		switch {
		case pnlA > pnlB:
			winner, winnerValue = storage.VariantA, valueA
		case pnlB > pnlA:
			winner, winnerValue = storage.VariantB, valueB
		}

		diffs = append(diffs, &storage.ParameterDiff{
			SessionID:     sessionID,
			ParamName:     name,
			ValueA:        valueA,
			ValueB:        valueB,
			Winner:        winner,
			WinnerValue:   winnerValue,
			PnlA:          pnlA,
			PnlB:          pnlB,
			PnlDifference: math.Abs(pnlA - pnlB),
		})
	}
	return diffs
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
