package ab

import (
	"regexp"
	"testing"

	"pumplab/internal/config"
)

func variantCfg() config.VariantConfig {
	return config.VariantConfig{
		TakeProfitPercent:         50,
		StopLossPercent:           20,
		MaxHoldMs:                 300_000,
		PriceCheckIntervalMs:      3000,
		MomentumMinTotalBuys:      10,
		MinSolInCurve:             0.5,
		MaxSolInCurve:             30,
		MomentumInitialDelayMs:    2000,
		MomentumRecheckIntervalMs: 1500,
		MomentumMaxChecks:         3,
		BuySlippagePercent:        15,
		SellSlippagePercent:       25,
		MaxTradesPerHour:          20,
		QuoteAmountSol:            0.01,
	}
}

func TestSessionIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^ab_\d{13}_[0-9a-z]{6}$`)
	for i := 0; i < 10; i++ {
		id := NewSessionID()
		if !re.MatchString(id) {
			t.Fatalf("session id %q does not match ab_{millis}_{base36(6)}", id)
		}
	}
}

func TestComputeParameterDiffsSingleParam(t *testing.T) {
	cfgA := variantCfg()
	cfgB := variantCfg()
	cfgA.TakeProfitPercent = 40
	cfgB.TakeProfitPercent = 60

	diffs := ComputeParameterDiffs("s1", &cfgA, &cfgB, 0.002, 0.0045)
	if len(diffs) != 1 {
		t.Fatalf("diffs = %d, want 1", len(diffs))
	}
	d := diffs[0]
	if d.ParamName != "takeProfit" || d.ValueA != 40 || d.ValueB != 60 {
		t.Errorf("diff = %+v", d)
	}
	if d.Winner != "B" || d.WinnerValue != 60 {
		t.Errorf("winner = %s/%v, want B/60", d.Winner, d.WinnerValue)
	}
	if d.PnlDifference < 0.00249 || d.PnlDifference > 0.00251 {
		t.Errorf("pnlDifference = %v, want 0.0025 (absolute)", d.PnlDifference)
	}
}

func TestComputeParameterDiffsTie(t *testing.T) {
	cfgA := variantCfg()
	cfgB := variantCfg()
	cfgB.StopLossPercent = 30

	diffs := ComputeParameterDiffs("s1", &cfgA, &cfgB, 0.1, 0.1)
	if len(diffs) != 1 || diffs[0].Winner != "tie" {
		t.Fatalf("diffs = %+v, want one tie", diffs)
	}
}

func TestComputeParameterDiffsIdenticalConfigs(t *testing.T) {
	cfgA := variantCfg()
	cfgB := variantCfg()
	if diffs := ComputeParameterDiffs("s1", &cfgA, &cfgB, 1, 2); len(diffs) != 0 {
		t.Errorf("identical configs produced diffs: %+v", diffs)
	}
}

func TestComputeParameterDiffsTrailingStopBlock(t *testing.T) {
	cfgA := variantCfg()
	cfgB := variantCfg()
	cfgB.TrailingStop = &config.TrailingStopConfig{Enabled: true, ActivationPercent: 5, DistancePercent: 2}

	diffs := ComputeParameterDiffs("s1", &cfgA, &cfgB, 0, 0.5)
	names := make(map[string]bool)
	for _, d := range diffs {
		names[d.ParamName] = true
	}
	for _, want := range []string{"trailingStop.enabled", "trailingStop.activationPercent", "trailingStop.distancePercent"} {
		if !names[want] {
			t.Errorf("missing diff for %s: %v", want, names)
		}
	}
}
