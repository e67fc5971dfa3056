package monitor

import (
	"context"
	"testing"
	"time"

	"pumplab/internal/curve"
	"pumplab/internal/storage"
)

func TestPaperTrackerTakeProfit(t *testing.T) {
	rpc := &scriptedRPC{batches: [][]*curve.State{
		{stateWorth(0.0105)},
		{stateWorth(0.0112)},
	}}
	tr := NewPaperTracker(monitorConfig(), rpc)

	var closed []TradeClosed
	tr.OnTradeClosed(func(tc TradeClosed) { closed = append(closed, tc) })

	entryTs := time.Now().UnixMilli() - 5000
	tr.RecordPaperTrade("MintT", "CurveT", 0.01, testTokens, entryTs)
	if !tr.Has("MintT") {
		t.Fatal("paper position not recorded")
	}

	tr.Tick(context.Background())
	if len(closed) != 0 {
		t.Fatal("closed below threshold")
	}

	tr.Tick(context.Background())
	if len(closed) != 1 {
		t.Fatalf("expected one close, got %d", len(closed))
	}
	tc := closed[0]
	if tc.Reason != storage.ExitTakeProfit {
		t.Errorf("reason = %s", tc.Reason)
	}
	if tc.PnlSol != tc.ExitSol-tc.EntrySol {
		t.Errorf("pnl invariant: %v != %v - %v", tc.PnlSol, tc.ExitSol, tc.EntrySol)
	}
	if tc.HoldDurationMs < 5000 {
		t.Errorf("hold duration = %d, want >= 5000", tc.HoldDurationMs)
	}
	if tr.Has("MintT") {
		t.Error("position not removed")
	}
}

func TestPaperTrackerTimeExitFallsBackToEntry(t *testing.T) {
	cfg := monitorConfig()
	cfg.MaxHoldMs = 10

	rpc := &scriptedRPC{} // state never available
	tr := NewPaperTracker(cfg, rpc)

	var closed []TradeClosed
	tr.OnTradeClosed(func(tc TradeClosed) { closed = append(closed, tc) })

	tr.RecordPaperTrade("MintT", "CurveT", 0.01, testTokens, time.Now().UnixMilli()-1000)
	tr.Tick(context.Background())

	if len(closed) != 1 {
		t.Fatalf("expected close, got %d", len(closed))
	}
	tc := closed[0]
	if tc.Reason != storage.ExitTimeExit {
		t.Errorf("reason = %s", tc.Reason)
	}
	if tc.ExitSol != 0.01 || tc.PnlSol != 0 {
		t.Errorf("time exit without pricing should be flat: exit=%v pnl=%v", tc.ExitSol, tc.PnlSol)
	}
}

func TestPaperTrackerDuplicateEntryIgnored(t *testing.T) {
	tr := NewPaperTracker(monitorConfig(), &scriptedRPC{})

	tr.RecordPaperTrade("MintT", "CurveT", 0.01, testTokens, 1000)
	tr.RecordPaperTrade("MintT", "CurveT", 0.05, testTokens, 2000)

	if tr.Count() != 1 {
		t.Fatalf("count = %d, want 1", tr.Count())
	}
}

func TestPaperTrackerStartStop(t *testing.T) {
	cfg := monitorConfig()
	cfg.PriceCheckIntervalMs = 10

	rpc := &scriptedRPC{batches: [][]*curve.State{{stateWorth(0.02)}}}
	tr := NewPaperTracker(cfg, rpc)

	done := make(chan TradeClosed, 1)
	tr.OnTradeClosed(func(tc TradeClosed) {
		select {
		case done <- tc:
		default:
		}
	})

	tr.RecordPaperTrade("MintT", "CurveT", 0.01, testTokens, time.Now().UnixMilli())
	tr.Start()
	defer tr.Stop()

	select {
	case tc := <-done:
		if tc.Reason != storage.ExitTakeProfit {
			t.Errorf("reason = %s", tc.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick loop never closed the trade")
	}
}
