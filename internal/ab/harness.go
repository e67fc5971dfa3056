package ab

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pumplab/internal/blacklist"
	"pumplab/internal/blockchain"
	"pumplab/internal/config"
	"pumplab/internal/curve"
	"pumplab/internal/detect"
	"pumplab/internal/monitor"
	"pumplab/internal/pipeline"
	"pumplab/internal/storage"
)

// variantRunner bundles one variant's pipeline and paper tracker with the
// channel that serializes its token processing.
type variantRunner struct {
	name     string
	cfg      config.VariantConfig
	pipeline *pipeline.Pipeline
	tracker  *monitor.PaperTracker
	stats    *pipeline.Stats
	work     chan *workItem
}

type workItem struct {
	det   *detect.Event
	state *curve.State
}

// Harness runs two parameterised pipelines and paper trackers off a
// single detection stream, persisting every decision and trade. The two
// variants share the stream, the ledger, the blacklist and the RPC facade;
// each has its own pipeline state and paper tracker.
type Harness struct {
	cfg       config.SessionConfig
	db        *storage.DB
	rpc       blockchain.Facade
	source    detect.Source
	session   *storage.Session
	blacklist *blacklist.Blacklist

	variants [2]*variantRunner

	mu             sync.Mutex
	tokensDetected int
	timer          *time.Timer
	stopped        bool

	workersWG sync.WaitGroup
	done      chan *Report
}

// NewHarness validates the session config and wires both variants.
// Invalid configuration is rejected here; a session never starts with an
// unsatisfied invariant.
func NewHarness(cfg config.SessionConfig, db *storage.DB, rpc blockchain.Facade, source detect.Source) (*Harness, error) {
	if violations := cfg.Validate(); len(violations) > 0 {
		return nil, &config.ValidationError{Violations: violations}
	}

	bl, err := blacklist.Load(db)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		cfg:       cfg,
		db:        db,
		rpc:       rpc,
		source:    source,
		blacklist: bl,
		done:      make(chan *Report, 1),
	}

	sessionID := NewSessionID()
	h.session = &storage.Session{
		ID:          sessionID,
		Description: cfg.Description,
		StartedAt:   time.Now().UnixMilli(),
		DurationMs:  cfg.DurationMs,
		ConfigA:     cfg.VariantA,
		ConfigB:     cfg.VariantB,
		Status:      "running",
	}

	for i, vc := range []config.VariantConfig{cfg.VariantA, cfg.VariantB} {
		name := storage.VariantA
		if i == 1 {
			name = storage.VariantB
		}
		h.variants[i] = h.newVariant(name, vc)
	}
	return h, nil
}

func (h *Harness) newVariant(name string, vc config.VariantConfig) *variantRunner {
	stats := pipeline.NewStats(name, 500)
	v := &variantRunner{
		name:    name,
		cfg:     vc,
		stats:   stats,
		tracker: monitor.NewPaperTracker(vc, h.rpc),
		work:    make(chan *workItem, 256),
	}
	v.pipeline = pipeline.New(pipeline.Options{
		Variant:         name,
		Config:          vc,
		RPC:             h.rpc,
		Blacklist:       h.blacklist,
		Stats:           stats,
		HarnessMode:     true,
		HasOpenPosition: v.hasOpenPosition,
		SniperObserver:  h.sniperObserver(name),
	})

	v.tracker.OnTradeClosed(func(tc monitor.TradeClosed) {
		h.onTradeClosed(v, tc)
	})
	return v
}

func (v *variantRunner) hasOpenPosition(mint string) bool {
	return v.tracker.Has(mint)
}

func (h *Harness) sniperObserver(variant string) func(*storage.SniperObservation) {
	return func(obs *storage.SniperObservation) {
		obs.SessionID = h.session.ID
		if err := h.db.InsertSniperObservation(obs); err != nil {
			log.Warn().Err(err).Str("variant", variant).Msg("sniper observation write failed")
		}
	}
}

// SessionID returns the generated session id.
func (h *Harness) SessionID() string {
	return h.session.ID
}

// Done resolves with the session report once the timer fires or Stop is
// called.
func (h *Harness) Done() <-chan *Report {
	return h.done
}

// Start persists the session, starts the trackers and workers, begins the
// detection stream, and arms the session deadline.
func (h *Harness) Start() error {
	if err := h.db.CreateABSession(h.session); err != nil {
		return err
	}

	for _, v := range h.variants {
		v.tracker.Start()
		h.workersWG.Add(1)
		go h.variantWorker(v)
	}

	if err := h.source.Start(h.onDetection); err != nil {
		return err
	}

	// The session deadline is hard: the timer fires exactly once and
	// produces a report even if the stream has stalled.
	h.mu.Lock()
	h.timer = time.AfterFunc(time.Duration(h.cfg.DurationMs)*time.Millisecond, func() {
		h.Stop()
	})
	h.mu.Unlock()

	log.Info().
		Str("session", h.session.ID).
		Int64("durationMs", h.cfg.DurationMs).
		Msg("A/B session started")
	return nil
}

// onDetection fans one event out to both variants. The bonding curve is
// prefetched once and shared; variants tolerate a nil prefetch.
func (h *Harness) onDetection(det *detect.Event) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.tokensDetected++
	h.mu.Unlock()

	if err := h.db.InsertPoolDetection(&storage.PoolDetection{
		Signature:    det.Signature,
		Slot:         det.Slot,
		Mint:         det.Mint,
		BondingCurve: det.BondingCurve,
		Creator:      det.Creator,
		Name:         det.Name,
		Symbol:       det.Symbol,
		Source:       det.Source,
		DetectedAt:   det.DetectedAt,
	}); err != nil {
		log.Warn().Err(err).Str("mint", det.Mint).Msg("detection audit write failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	state, err := h.rpc.FetchCurveState(ctx, det.BondingCurve)
	cancel()
	if err != nil {
		log.Debug().Err(err).Str("mint", det.Mint).Msg("curve prefetch failed")
		state = nil
	}

	item := &workItem{det: det, state: state}
	for _, v := range h.variants {
		select {
		case v.work <- item:
		default:
			log.Warn().Str("variant", v.name).Str("mint", det.Mint).Msg("variant backlog full, dropping detection")
		}
	}
}

// variantWorker serializes one variant's token processing: the pipeline's
// dedup set and rate window see a single writer.
func (h *Harness) variantWorker(v *variantRunner) {
	defer h.workersWG.Done()

	for item := range v.work {
		h.processVariant(v, item)
	}
}

func (h *Harness) processVariant(v *variantRunner, item *workItem) {
	defer func() {
		// One panicking variant must not take the session down.
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("variant", v.name).Msg("variant processing panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res := v.pipeline.Process(ctx, item.det, item.state)

	dec := &storage.PipelineDecision{
		SessionID:          h.session.ID,
		Variant:            v.name,
		TokenMint:          item.det.Mint,
		Timestamp:          time.Now().UnixMilli(),
		Passed:             res.Passed,
		RejectionStage:     res.RejectionStage,
		RejectionReason:    res.Reason,
		PipelineDurationMs: res.DurationMs,
	}
	if err := h.db.RecordPipelineDecision(dec); err != nil {
		// A failed decision write must not block other decisions.
		log.Error().Err(err).Str("mint", item.det.Mint).Msg("decision write failed")
	}

	if !res.Passed {
		return
	}

	h.enterTrade(v, item, res)
}

func (h *Harness) enterTrade(v *variantRunner, item *workItem, res *pipeline.AdmissionResult) {
	state := res.CurveState
	if state == nil {
		state = item.state
	}

	solSpent := v.cfg.QuoteAmountSol
	lamports := uint64(solSpent * curve.LamportsPerSol)

	var tokens uint64
	var entryPrice float64
	if state != nil {
		tokens = curve.BuyOut(state, lamports)
		if tokens > 0 {
			entryPrice = solSpent / float64(tokens)
		}
	}

	now := time.Now().UnixMilli()
	trade := &storage.ABTrade{
		ID:                         uuid.NewString(),
		SessionID:                  h.session.ID,
		Variant:                    v.name,
		TokenMint:                  item.det.Mint,
		EntryTimestamp:             now,
		HypotheticalSolSpent:       solSpent,
		EntryPricePerToken:         entryPrice,
		HypotheticalTokensReceived: tokens,
		PipelineDurationMs:         res.DurationMs,
	}
	if err := h.db.RecordTradeEntry(trade); err != nil {
		log.Error().Err(err).Str("mint", item.det.Mint).Msg("trade entry write failed")
		return
	}

	v.tracker.RecordPaperTrade(item.det.Mint, item.det.BondingCurve, solSpent, tokens, now)

	log.Info().
		Str("session", h.session.ID).
		Str("variant", v.name).
		Str("mint", item.det.Mint).
		Float64("sol", solSpent).
		Msg("paper trade entered")
}

func (h *Harness) onTradeClosed(v *variantRunner, tc monitor.TradeClosed) {
	tradeID, err := h.db.FindActiveTradeID(h.session.ID, v.name, tc.Mint)
	if err != nil || tradeID == "" {
		// Log-and-continue: an unmatched close is an anomaly, not fatal.
		log.Warn().Err(err).Str("variant", v.name).Str("mint", tc.Mint).Msg("no active trade for closed position")
		return
	}

	exit := &storage.ABTrade{
		ExitTimestamp:      tc.ExitTimestamp,
		ExitReason:         tc.Reason,
		ExitPricePerToken:  tc.ExitPricePerTok,
		ExitSolReceived:    tc.ExitSol,
		RealizedPnlSol:     tc.PnlSol,
		RealizedPnlPercent: tc.PnlPercent,
		HoldDurationMs:     tc.HoldDurationMs,
	}
	if err := h.db.RecordTradeExit(tradeID, exit); err != nil {
		log.Error().Err(err).Str("tradeId", tradeID).Msg("trade exit write failed")
	}
}

// Stop tears the session down exactly once: stream off, trackers stopped,
// stragglers force-closed, diffs computed, report generated.
func (h *Harness) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
	tokens := h.tokensDetected
	h.mu.Unlock()

	if err := h.source.Stop(); err != nil {
		log.Warn().Err(err).Msg("detection source stop failed")
	}

	for _, v := range h.variants {
		close(v.work)
	}
	h.workersWG.Wait()

	// Best-effort final ticks so positions close on live pricing, then
	// force-close whatever is left.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	for _, v := range h.variants {
		v.tracker.Tick(ctx)
	}
	cancel()
	for _, v := range h.variants {
		v.tracker.Stop()
		v.tracker.ForceCloseAll(storage.ExitManual)
	}

	if err := h.db.CompleteABSession(h.session.ID, tokens); err != nil {
		log.Error().Err(err).Msg("session completion write failed")
	}

	report, err := h.buildReport(tokens)
	if err != nil {
		log.Error().Err(err).Msg("report generation failed")
		report = &Report{SessionID: h.session.ID}
	}

	diffs := ComputeParameterDiffs(h.session.ID, &h.cfg.VariantA, &h.cfg.VariantB,
		report.VariantA.RealizedPnlSol, report.VariantB.RealizedPnlSol)
	if err := h.db.SaveParameterDiffs(h.session.ID, diffs); err != nil {
		log.Error().Err(err).Msg("parameter diff write failed")
	}
	report.ParameterDiffs = diffs

	log.Info().
		Str("session", h.session.ID).
		Int("tokens", tokens).
		Str("winner", report.Winner).
		Msg("A/B session completed")

	h.done <- report
}
