package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pumplab/internal/blockchain"
	"pumplab/internal/config"
	"pumplab/internal/curve"
	"pumplab/internal/exposure"
	"pumplab/internal/storage"
)

// Trigger announces that an exit rule fired for a position. Subscribers
// run synchronously; one that removes the position aborts the sell.
type Trigger struct {
	Mint            string
	Reason          string
	CurrentValueSol float64
	PnlPercent      float64
}

// SellComplete announces a confirmed exit.
type SellComplete struct {
	Mint        string
	Reason      string
	SolReceived float64
	PnlPercent  float64
	Signature   string
}

// Seller executes the exit transaction for a position. The live executor
// implements it; tests substitute fakes.
type Seller interface {
	Sell(ctx context.Context, pos *storage.Position, reason string, currentValueSol float64) (solReceived float64, signature string, err error)
}

// Monitor re-prices all open positions every tick with one batched RPC
// and fires exits on take-profit, stop-loss, trailing-stop, max-hold and
// graduation. Ticks never overlap; sells are single-flight per mint.
type Monitor struct {
	cfg    config.VariantConfig
	rpc    blockchain.Facade
	db     *storage.DB
	guard  *exposure.Guard
	seller Seller

	mu        sync.Mutex
	positions map[string]*storage.Position
	selling   map[string]struct{}

	onTrigger      []func(Trigger)
	onSellComplete []func(SellComplete)

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a position monitor. db, guard, and seller may be nil for
// shadow use; without a seller a trigger only emits events.
func New(cfg config.VariantConfig, rpc blockchain.Facade, db *storage.DB, guard *exposure.Guard, seller Seller) *Monitor {
	return &Monitor{
		cfg:       cfg,
		rpc:       rpc,
		db:        db,
		guard:     guard,
		seller:    seller,
		positions: make(map[string]*storage.Position),
		selling:   make(map[string]struct{}),
	}
}

// OnTrigger subscribes to exit triggers.
func (m *Monitor) OnTrigger(fn func(Trigger)) {
	m.mu.Lock()
	m.onTrigger = append(m.onTrigger, fn)
	m.mu.Unlock()
}

// OnSellComplete subscribes to confirmed exits.
func (m *Monitor) OnSellComplete(fn func(SellComplete)) {
	m.mu.Lock()
	m.onSellComplete = append(m.onSellComplete, fn)
	m.mu.Unlock()
}

// AddPosition registers an open position. Positions without a positive
// entry amount are rejected.
func (m *Monitor) AddPosition(p *storage.Position) error {
	if p.EntryAmountSol <= 0 {
		return fmt.Errorf("position %s has non-positive entry amount %v", p.TokenMint, p.EntryAmountSol)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[p.TokenMint]; exists {
		return fmt.Errorf("position already open for %s", p.TokenMint)
	}
	m.positions[p.TokenMint] = p
	return nil
}

// RemovePosition drops a position without selling (external override).
func (m *Monitor) RemovePosition(mint string) *storage.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.positions[mint]
	delete(m.positions, mint)
	return p
}

// Has reports whether a position is open for mint.
func (m *Monitor) Has(mint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[mint]
	return ok
}

// Count returns the number of open positions.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Start begins the tick loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
	log.Info().Int64("intervalMs", m.cfg.PriceCheckIntervalMs).Msg("position monitor started")
}

// Stop halts the tick loop and waits for any in-flight tick.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Duration(m.cfg.PriceCheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			// Ticks are serialized by this loop: a slow tick delays the
			// next one rather than overlapping it.
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.cfg.PriceCheckIntervalMs)*4*time.Millisecond)
			m.Tick(ctx)
			cancel()
		}
	}
}

// Tick evaluates every open position once. Exported for the harness's
// final best-effort pass and for tests.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.Lock()
	mints := make([]string, 0, len(m.positions))
	for mint := range m.positions {
		mints = append(mints, mint)
	}
	m.mu.Unlock()
	if len(mints) == 0 {
		return
	}
	// Deterministic evaluation order.
	sort.Strings(mints)

	curves := make([]string, len(mints))
	m.mu.Lock()
	for i, mint := range mints {
		if p := m.positions[mint]; p != nil {
			curves[i] = p.BondingCurve
		}
	}
	m.mu.Unlock()

	states, err := m.rpc.BatchFetchCurveStates(ctx, curves)
	if err != nil {
		log.Warn().Err(err).Int("positions", len(mints)).Msg("monitor batch fetch failed")
		states = make([]*curve.State, len(mints))
	}

	now := time.Now()
	for i, mint := range mints {
		m.mu.Lock()
		pos := m.positions[mint]
		m.mu.Unlock()
		if pos == nil {
			continue // removed mid-tick
		}

		var state *curve.State
		if i < len(states) {
			state = states[i]
		}

		ev := evaluateExit(&m.cfg, pos, state, now)
		if ev.skip {
			continue
		}

		if m.db != nil {
			if err := m.db.UpdatePositionMark(mint, ev.currentValueSol, pos.HighWaterMarkPercent); err != nil {
				log.Warn().Err(err).Str("mint", mint).Msg("position mark update failed")
			}
		}

		if ev.reason != "" {
			m.exit(ctx, pos, ev)
		}
	}
}

func (m *Monitor) exit(ctx context.Context, pos *storage.Position, ev evaluation) {
	mint := pos.TokenMint

	m.mu.Lock()
	triggers := append([]func(Trigger){}, m.onTrigger...)
	m.mu.Unlock()
	for _, fn := range triggers {
		fn(Trigger{Mint: mint, Reason: ev.reason, CurrentValueSol: ev.currentValueSol, PnlPercent: ev.pnlPercent})
	}

	m.mu.Lock()
	// A subscriber may have removed the position to take over the exit.
	if _, ok := m.positions[mint]; !ok {
		m.mu.Unlock()
		return
	}
	// Single-flight: a sell already in progress for this mint wins.
	if _, inFlight := m.selling[mint]; inFlight {
		m.mu.Unlock()
		return
	}
	m.selling[mint] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.selling, mint)
		m.mu.Unlock()
	}()

	if m.seller == nil {
		m.finishExit(pos, ev.reason, ev.currentValueSol, ev.pnlPercent, "")
		return
	}

	solReceived, sig, err := m.seller.Sell(ctx, pos, ev.reason, ev.currentValueSol)
	if err != nil {
		// Position stays; the next tick retries.
		log.Warn().Err(err).Str("mint", mint).Str("reason", ev.reason).Msg("sell failed, will retry")
		return
	}

	pnlPct := ev.pnlPercent
	if pos.EntryAmountSol > 0 && solReceived > 0 {
		// Recompute from what the chain actually delivered.
		pnlPct = (solReceived - pos.EntryAmountSol) / pos.EntryAmountSol * 100
	} else if solReceived == 0 {
		solReceived = ev.currentValueSol
	}
	m.finishExit(pos, ev.reason, solReceived, pnlPct, sig)
}

func (m *Monitor) finishExit(pos *storage.Position, reason string, solReceived, pnlPct float64, sig string) {
	mint := pos.TokenMint

	if m.db != nil {
		if err := m.db.ClosePosition(mint, reason); err != nil {
			log.Error().Err(err).Str("mint", mint).Msg("ledger close failed")
		}
	}
	if m.guard != nil {
		m.guard.ReleaseTrade(pos.EntryAmountSol)
	}

	m.mu.Lock()
	delete(m.positions, mint)
	subs := append([]func(SellComplete){}, m.onSellComplete...)
	m.mu.Unlock()

	log.Info().
		Str("mint", mint).
		Str("reason", reason).
		Float64("received", solReceived).
		Float64("pnlPct", pnlPct).
		Msg("position closed")

	for _, fn := range subs {
		fn(SellComplete{Mint: mint, Reason: reason, SolReceived: solReceived, PnlPercent: pnlPct, Signature: sig})
	}
}
