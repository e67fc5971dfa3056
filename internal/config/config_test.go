package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validVariant() VariantConfig {
	return VariantConfig{
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

func TestVariantValidateOK(t *testing.T) {
	v := validVariant()
	if violations := v.Validate(); len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestVariantValidateEnumeratesAllViolations(t *testing.T) {
	v := validVariant()
	v.QuoteAmountSol = 0
	v.MaxTradesPerHour = 0
	v.MomentumMaxChecks = 0
	v.BuySlippagePercent = 150
	v.MaxSolInCurve = 0.1 // below min

	violations := v.Validate()
	if len(violations) != 5 {
		t.Fatalf("expected 5 violations, got %d: %v", len(violations), violations)
	}

	wantSubstrings := []string{
		"quote_amount_sol",
		"max_trades_per_hour",
		"momentum_max_checks",
		"buy_slippage_percent",
		"max_sol_in_curve",
	}
	for _, want := range wantSubstrings {
		found := false
		for _, v := range violations {
			if strings.Contains(v, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no violation mentions %q: %v", want, violations)
		}
	}
}

func TestSessionValidateDuration(t *testing.T) {
	s := SessionConfig{
		DurationMs: 30_000,
		VariantA:   validVariant(),
		VariantB:   validVariant(),
	}
	violations := s.Validate()
	if len(violations) != 1 || !strings.Contains(violations[0], "duration_ms") {
		t.Fatalf("expected a single duration violation, got %v", violations)
	}

	s.DurationMs = MinSessionDurationMs
	if violations := s.Validate(); len(violations) != 0 {
		t.Fatalf("expected no violations at the minimum duration, got %v", violations)
	}
}

func TestSessionValidatePrefixesVariant(t *testing.T) {
	s := SessionConfig{DurationMs: 120_000, VariantA: validVariant(), VariantB: validVariant()}
	s.VariantB.QuoteAmountSol = -1

	violations := s.Validate()
	if len(violations) != 1 || !strings.HasPrefix(violations[0], "variant_b.") {
		t.Fatalf("expected one variant_b violation, got %v", violations)
	}
}

func TestVariantConfigJSONRoundTrip(t *testing.T) {
	v := validVariant()
	v.TrailingStop = &TrailingStopConfig{
		Enabled:           true,
		ActivationPercent: 5,
		DistancePercent:   2,
	}
	v.SniperGate = &SniperGateConfig{
		Enabled:       true,
		SlotThreshold: 3,
		MaxChecks:     5,
		LogOnly:       true,
	}

	data, err := json.Marshal(&v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back VariantConfig
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back != v {
		// Struct equality fails on the pointers; compare fields.
		if back.TakeProfitPercent != v.TakeProfitPercent ||
			back.QuoteAmountSol != v.QuoteAmountSol ||
			back.TrailingStop == nil || *back.TrailingStop != *v.TrailingStop ||
			back.SniperGate == nil || *back.SniperGate != *v.SniperGate {
			t.Errorf("round trip mismatch: %+v vs %+v", back, v)
		}
	}
}

func TestManagerLoadsDefaults(t *testing.T) {
	content := `
rpc:
    primary_url: https://rpc.example.com
session:
    duration_ms: 120000
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := m.Get()
	if cfg.Session.DurationMs != 120000 {
		t.Errorf("duration = %d, want 120000", cfg.Session.DurationMs)
	}
	if cfg.Trading.MomentumMaxChecks != 3 {
		t.Errorf("default momentum_max_checks = %d, want 3", cfg.Trading.MomentumMaxChecks)
	}
	if violations := cfg.Session.Validate(); len(violations) != 0 {
		t.Errorf("defaults should validate, got %v", violations)
	}
}

func TestManagerURLKeyInjection(t *testing.T) {
	os.Setenv("RPC_API_KEY", "test-key")
	defer os.Unsetenv("RPC_API_KEY")

	content := `
rpc:
    primary_url: https://rpc.example.com
    websocket_url: wss://rpc.example.com
    fallback_url: https://mainnet.helius-rpc.com
    fallback_api_key_env: RPC_API_KEY
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if got := m.PrimaryRPCURL(); got != "https://rpc.example.com?api_key=test-key" {
		t.Errorf("PrimaryRPCURL = %q", got)
	}
	if got := m.WebsocketURL(); got != "wss://rpc.example.com?api_key=test-key" {
		t.Errorf("WebsocketURL = %q", got)
	}
	if got := m.FallbackRPCURL(); !strings.Contains(got, "api-key=test-key") {
		t.Errorf("FallbackRPCURL = %q, want helius-style api-key param", got)
	}
}
