package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pumplab/internal/blockchain"
	"pumplab/internal/config"
	"pumplab/internal/curve"
	"pumplab/internal/storage"
)

// TradeClosed is one finished paper trade, emitted to subscribers for
// persistence.
type TradeClosed struct {
	Mint            string
	Reason          string
	EntrySol        float64
	ExitSol         float64
	ExitPricePerTok float64
	PnlSol          float64
	PnlPercent      float64
	EntryTimestamp  int64
	ExitTimestamp   int64
	HoldDurationMs  int64
}

// PaperTracker shadows the position monitor without submitting
// transactions: same exit rules, same batched tick, same guards.
type PaperTracker struct {
	cfg config.VariantConfig
	rpc blockchain.Facade

	mu        sync.Mutex
	positions map[string]*storage.Position
	selling   map[string]struct{}
	onClosed  []func(TradeClosed)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewPaperTracker creates a paper tracker for one variant.
func NewPaperTracker(cfg config.VariantConfig, rpc blockchain.Facade) *PaperTracker {
	return &PaperTracker{
		cfg:       cfg,
		rpc:       rpc,
		positions: make(map[string]*storage.Position),
		selling:   make(map[string]struct{}),
	}
}

// OnTradeClosed subscribes to paper trade closures.
func (t *PaperTracker) OnTradeClosed(fn func(TradeClosed)) {
	t.mu.Lock()
	t.onClosed = append(t.onClosed, fn)
	t.mu.Unlock()
}

// RecordPaperTrade opens a hypothetical position.
func (t *PaperTracker) RecordPaperTrade(mint, bondingCurve string, solSpent float64, tokenAmount uint64, entryTimestamp int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.positions[mint]; exists {
		return
	}
	t.positions[mint] = &storage.Position{
		TokenMint:      mint,
		BondingCurve:   bondingCurve,
		EntryAmountSol: solSpent,
		TokenAmount:    tokenAmount,
		EntryTimestamp: entryTimestamp,
	}
}

// Has reports whether a paper position is open for mint.
func (t *PaperTracker) Has(mint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.positions[mint]
	return ok
}

// Count returns the number of open paper positions.
func (t *PaperTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

// Start begins the tick loop.
func (t *PaperTracker) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.wg.Add(1)
	go t.loop()
}

// Stop halts the tick loop.
func (t *PaperTracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *PaperTracker) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(time.Duration(t.cfg.PriceCheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(t.cfg.PriceCheckIntervalMs)*4*time.Millisecond)
			t.Tick(ctx)
			cancel()
		}
	}
}

// Tick evaluates every open paper position once.
func (t *PaperTracker) Tick(ctx context.Context) {
	t.mu.Lock()
	mints := make([]string, 0, len(t.positions))
	for mint := range t.positions {
		mints = append(mints, mint)
	}
	t.mu.Unlock()
	if len(mints) == 0 {
		return
	}
	sort.Strings(mints)

	curves := make([]string, len(mints))
	t.mu.Lock()
	for i, mint := range mints {
		if p := t.positions[mint]; p != nil {
			curves[i] = p.BondingCurve
		}
	}
	t.mu.Unlock()

	states, err := t.rpc.BatchFetchCurveStates(ctx, curves)
	if err != nil {
		log.Warn().Err(err).Int("positions", len(mints)).Msg("paper batch fetch failed")
		states = make([]*curve.State, len(mints))
	}

	now := time.Now()
	for i, mint := range mints {
		t.mu.Lock()
		pos := t.positions[mint]
		t.mu.Unlock()
		if pos == nil {
			continue
		}

		var state *curve.State
		if i < len(states) {
			state = states[i]
		}

		ev := evaluateExit(&t.cfg, pos, state, now)
		if ev.skip || ev.reason == "" {
			continue
		}
		t.close(pos, ev, now)
	}
}

// ForceCloseAll closes every remaining position at its last observed
// value (entry when never priced). Used by the harness at session end.
func (t *PaperTracker) ForceCloseAll(reason string) {
	t.mu.Lock()
	remaining := make([]*storage.Position, 0, len(t.positions))
	for _, p := range t.positions {
		remaining = append(remaining, p)
	}
	t.mu.Unlock()

	now := time.Now()
	for _, pos := range remaining {
		value := pos.LastCurrentValueSol
		if value == 0 {
			value = pos.EntryAmountSol
		}
		ev := evaluation{
			reason:          reason,
			currentValueSol: value,
			pnlPercent:      (value - pos.EntryAmountSol) / pos.EntryAmountSol * 100,
		}
		t.close(pos, ev, now)
	}
}

func (t *PaperTracker) close(pos *storage.Position, ev evaluation, now time.Time) {
	mint := pos.TokenMint

	t.mu.Lock()
	if _, inFlight := t.selling[mint]; inFlight {
		t.mu.Unlock()
		return
	}
	t.selling[mint] = struct{}{}
	delete(t.positions, mint)
	subs := append([]func(TradeClosed){}, t.onClosed...)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.selling, mint)
		t.mu.Unlock()
	}()

	exitSol := ev.currentValueSol
	pnlSol := exitSol - pos.EntryAmountSol
	pnlPct := ev.pnlPercent

	var exitPrice float64
	if pos.TokenAmount > 0 {
		exitPrice = exitSol / float64(pos.TokenAmount)
	}

	closed := TradeClosed{
		Mint:            mint,
		Reason:          ev.reason,
		EntrySol:        pos.EntryAmountSol,
		ExitSol:         exitSol,
		ExitPricePerTok: exitPrice,
		PnlSol:          pnlSol,
		PnlPercent:      pnlPct,
		EntryTimestamp:  pos.EntryTimestamp,
		ExitTimestamp:   now.UnixMilli(),
		HoldDurationMs:  now.UnixMilli() - pos.EntryTimestamp,
	}

	log.Info().
		Str("mint", mint).
		Str("reason", ev.reason).
		Float64("pnlSol", pnlSol).
		Float64("pnlPct", pnlPct).
		Msg("paper trade closed")

	for _, fn := range subs {
		fn(closed)
	}
}
