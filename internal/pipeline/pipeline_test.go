package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"pumplab/internal/blacklist"
	"pumplab/internal/blockchain"
	"pumplab/internal/config"
	"pumplab/internal/curve"
	"pumplab/internal/detect"
	"pumplab/internal/pump"
	"pumplab/internal/storage"
)

// fakeRPC is a scripted Facade for pipeline tests.
type fakeRPC struct {
	mu sync.Mutex

	curveStates map[string]*curve.State
	mintInfos   map[string]*blockchain.MintInfo

	// One entry per poll; the last entry repeats.
	txBatches [][]*blockchain.ParsedTransaction
	pollIdx   int

	sigErr error
	calls  map[string]int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		curveStates: make(map[string]*curve.State),
		mintInfos:   make(map[string]*blockchain.MintInfo),
		calls:       make(map[string]int),
	}
}

func (f *fakeRPC) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeRPC) FetchCurveState(_ context.Context, addr string) (*curve.State, error) {
	f.count("FetchCurveState")
	return f.curveStates[addr], nil
}

func (f *fakeRPC) BatchFetchCurveStates(_ context.Context, addrs []string) ([]*curve.State, error) {
	f.count("BatchFetchCurveStates")
	out := make([]*curve.State, len(addrs))
	for i, a := range addrs {
		out[i] = f.curveStates[a]
	}
	return out, nil
}

func (f *fakeRPC) GetSignaturesForAddress(_ context.Context, _ string, _ int) ([]blockchain.SignatureInfo, error) {
	f.count("GetSignaturesForAddress")
	if f.sigErr != nil {
		return nil, f.sigErr
	}
	batch := f.currentBatch()
	sigs := make([]blockchain.SignatureInfo, len(batch))
	// Newest-first, mirroring the real RPC.
	for i, tx := range batch {
		sigs[len(batch)-1-i] = blockchain.SignatureInfo{
			Signature: fmt.Sprintf("sig-%d-%d", f.pollIdx, i),
			Slot:      tx.Slot,
		}
	}
	return sigs, nil
}

func (f *fakeRPC) GetParsedTransactions(_ context.Context, sigs []string) ([]*blockchain.ParsedTransaction, error) {
	f.count("GetParsedTransactions")
	batch := f.currentBatch()
	f.mu.Lock()
	f.pollIdx++
	f.mu.Unlock()

	// Positional: the fake hands back the batch in the order requested.
	// Signatures encode the original index.
	out := make([]*blockchain.ParsedTransaction, len(sigs))
	for i := range sigs {
		var idx int
		fmt.Sscanf(sigs[i][len("sig-0-"):], "%d", &idx)
		if idx < len(batch) {
			out[i] = batch[idx]
		}
	}
	return out, nil
}

func (f *fakeRPC) currentBatch() []*blockchain.ParsedTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.txBatches) == 0 {
		return nil
	}
	idx := f.pollIdx
	if idx >= len(f.txBatches) {
		idx = len(f.txBatches) - 1
	}
	return f.txBatches[idx]
}

func (f *fakeRPC) GetMintInfoByProgram(_ context.Context, mint, programID string) (*blockchain.MintInfo, error) {
	f.count("GetMintInfoByProgram")
	if programID != blockchain.TokenProgramID {
		return nil, nil
	}
	return f.mintInfos[mint], nil
}

func (f *fakeRPC) GetBalance(_ context.Context, _ string) (uint64, error) {
	f.count("GetBalance")
	return 0, nil
}

func (f *fakeRPC) SubmitAndConfirm(_ context.Context, _ string) (*blockchain.SubmitResult, error) {
	f.count("SubmitAndConfirm")
	return nil, errors.New("not implemented")
}

// venueTx builds a successful parsed transaction with one venue
// instruction of the given side, paid by payer, at slot.
func venueTx(payer string, slot uint64, side pump.Side) *blockchain.ParsedTransaction {
	var disc []byte
	switch side {
	case pump.SideBuy:
		disc = pump.BuyDiscriminator
	case pump.SideSell:
		disc = pump.SellDiscriminator
	}
	data := base58.Encode(append(append([]byte{}, disc...), 0, 0))

	return &blockchain.ParsedTransaction{
		Slot: slot,
		Meta: &blockchain.TxMeta{},
		Transaction: blockchain.TxBody{
			Message: blockchain.TxMessage{
				AccountKeys: []blockchain.AccountKey{{Pubkey: payer, Signer: true}},
				Instructions: []blockchain.ParsedInstruction{
					{ProgramID: pump.ProgramID, Data: data},
				},
			},
		},
	}
}

func liveCurve() *curve.State {
	return &curve.State{
		VirtualSolReserves:   31 * curve.LamportsPerSol,
		VirtualTokenReserves: 1_000_000_000_000_000,
		RealSolReserves:      2 * curve.LamportsPerSol,
		RealTokenReserves:    700_000_000_000_000,
	}
}

func baseConfig() config.VariantConfig {
	return config.VariantConfig{
		TakeProfitPercent:         50,
		StopLossPercent:           20,
		MaxHoldMs:                 300_000,
		PriceCheckIntervalMs:      1000,
		MomentumMinTotalBuys:      0,
		MinSolInCurve:             0.5,
		MaxSolInCurve:             30,
		MomentumInitialDelayMs:    0,
		MomentumRecheckIntervalMs: 0,
		MomentumMaxChecks:         1,
		BuySlippagePercent:        15,
		SellSlippagePercent:       25,
		MaxTradesPerHour:          100,
		QuoteAmountSol:            0.01,
	}
}

func goodMintInfo() *blockchain.MintInfo {
	return &blockchain.MintInfo{Decimals: 6, Supply: 1_000_000_000_000_000}
}

func event(mint string) *detect.Event {
	return &detect.Event{
		Signature:    "detsig",
		Slot:         100,
		Mint:         mint,
		BondingCurve: "curve-" + mint,
		Name:         "solid project",
		Symbol:       "SOLID",
		DetectedAt:   time.Now().UnixMilli(),
		Source:       detect.SourceWebsocket,
	}
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func newTestPipeline(t *testing.T, rpc *fakeRPC, cfg config.VariantConfig, mutate func(*Options)) *Pipeline {
	t.Helper()
	bl, err := blacklist.Load(nil)
	if err != nil {
		t.Fatalf("blacklist.Load: %v", err)
	}
	opts := Options{
		Variant:     "A",
		Config:      cfg,
		RPC:         rpc,
		Blacklist:   bl,
		HarnessMode: true,
		sleep:       noSleep,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func admitSetup(rpc *fakeRPC, mint string) {
	rpc.curveStates["curve-"+mint] = liveCurve()
	rpc.mintInfos[mint] = goodMintInfo()
	rpc.txBatches = [][]*blockchain.ParsedTransaction{{venueTx("w1", 101, pump.SideBuy)}}
}

func TestPipelineAdmits(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	p := newTestPipeline(t, rpc, baseConfig(), nil)

	res := p.Process(context.Background(), event("M1"), nil)
	if !res.Passed {
		t.Fatalf("rejected at %s: %s", res.RejectionStage, res.Reason)
	}
	if res.CurveState == nil || res.MintInfo == nil {
		t.Error("passing stages should attach curve state and mint info")
	}
}

func TestDedupSecondDetectionRejected(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	p := newTestPipeline(t, rpc, baseConfig(), nil)

	if res := p.Process(context.Background(), event("M1"), nil); !res.Passed {
		t.Fatalf("first detection rejected: %s", res.Reason)
	}

	res := p.Process(context.Background(), event("M1"), nil)
	if res.Passed || res.RejectionStage != StageDedup || res.Reason != ReasonAlreadyProcessed {
		t.Errorf("second detection = %+v, want dedup/ALREADY_PROCESSED", res)
	}

	// An independent pipeline (the other variant) is unaffected.
	rpc2 := newFakeRPC()
	admitSetup(rpc2, "M1")
	pB := newTestPipeline(t, rpc2, baseConfig(), nil)
	if res := pB.Process(context.Background(), event("M1"), nil); !res.Passed {
		t.Errorf("variant B affected by variant A dedup: %s", res.Reason)
	}
}

func TestDedupOpenPositionAndPendingTrade(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	p := newTestPipeline(t, rpc, baseConfig(), func(o *Options) {
		o.HasOpenPosition = func(mint string) bool { return mint == "M1" }
	})
	res := p.Process(context.Background(), event("M1"), nil)
	if res.Reason != ReasonAlreadyOwned {
		t.Errorf("reason = %s, want ALREADY_OWNED", res.Reason)
	}

	p2 := newTestPipeline(t, rpc, baseConfig(), func(o *Options) {
		o.HasPendingTrade = func(mint string) bool { return true }
	})
	res = p2.Process(context.Background(), event("M2"), nil)
	if res.Reason != ReasonPendingTrade {
		t.Errorf("reason = %s, want PENDING_TRADE", res.Reason)
	}
}

// S1: graduated curve rejects at deep filters with one decision, no trade.
func TestGraduatedCurveRejected(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	rpc.curveStates["curve-M1"].Complete = true
	p := newTestPipeline(t, rpc, baseConfig(), nil)

	res := p.Process(context.Background(), event("M1"), nil)
	if res.Passed || res.RejectionStage != StageDeep || res.Reason != ReasonAlreadyGraduated {
		t.Errorf("result = %+v, want deep_filters/ALREADY_GRADUATED", res)
	}
}

// S2: blacklisted creator rejects before any RPC is issued.
func TestBlacklistedCreatorNoRPC(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")

	bl, _ := blacklist.Load(nil)
	bl.AddCreator("EvilCreator", "test")

	p := newTestPipeline(t, rpc, baseConfig(), func(o *Options) { o.Blacklist = bl })

	det := event("M1")
	det.Creator = "EvilCreator"
	res := p.Process(context.Background(), det, nil)
	if res.Passed || res.RejectionStage != StageBlacklist || res.Reason != ReasonCreatorBlacklist {
		t.Fatalf("result = %+v", res)
	}
	if len(rpc.calls) != 0 {
		t.Errorf("RPC issued before blacklist rejection: %v", rpc.calls)
	}
}

func TestStageOrderingFirstFailureWins(t *testing.T) {
	// Both pattern and deep filters would fail; pattern is earlier.
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	rpc.curveStates["curve-M1"].Complete = true
	p := newTestPipeline(t, rpc, baseConfig(), nil)

	det := event("M1")
	det.Name = "rugpull"
	res := p.Process(context.Background(), det, nil)
	if res.RejectionStage != StagePattern {
		t.Errorf("stage = %s, want pattern", res.RejectionStage)
	}
}

func TestTokenAgeGate(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	cfg := baseConfig()
	cfg.MaxTokenAgeSeconds = 5
	p := newTestPipeline(t, rpc, cfg, nil)

	det := event("M1")
	det.DetectedAt = time.Now().UnixMilli() - 10_000
	res := p.Process(context.Background(), det, nil)
	if res.RejectionStage != StageTokenAge {
		t.Errorf("stage = %s, want token_age", res.RejectionStage)
	}
}

func TestRateLimitWindow(t *testing.T) {
	rpc := newFakeRPC()
	cfg := baseConfig()
	cfg.MaxTradesPerHour = 2
	p := newTestPipeline(t, rpc, cfg, nil)

	for i := 0; i < 2; i++ {
		mint := fmt.Sprintf("M%d", i)
		admitSetup(rpc, mint)
		rpc.pollIdx = 0
		if res := p.Process(context.Background(), event(mint), nil); !res.Passed {
			t.Fatalf("admission %d rejected: %s/%s", i, res.RejectionStage, res.Reason)
		}
	}

	admitSetup(rpc, "M2")
	res := p.Process(context.Background(), event("M2"), nil)
	if res.RejectionStage != StageRateLimit || res.Reason != ReasonRateLimit {
		t.Fatalf("result = %+v, want rate_limit/RATE_LIMIT", res)
	}

	// Exactly one hour after the oldest admission, the slot frees up.
	p.admissions[0] = time.Now().Add(-time.Hour - time.Millisecond)
	rpc.pollIdx = 0
	admitSetup(rpc, "M3")
	if res := p.Process(context.Background(), event("M3"), nil); !res.Passed {
		t.Errorf("admission after window rolled: %s/%s", res.RejectionStage, res.Reason)
	}
}

func TestMintAuthorityRejected(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	rpc.mintInfos["M1"].MintAuthority = "SomeAuthority"
	p := newTestPipeline(t, rpc, baseConfig(), nil)

	res := p.Process(context.Background(), event("M1"), nil)
	if res.RejectionStage != StageMintInfo || res.Reason != ReasonMintAuthority {
		t.Errorf("result = %+v", res)
	}
}

func TestSuspiciousInstructionRejected(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	p := newTestPipeline(t, rpc, baseConfig(), nil)

	det := event("M1")
	det.RawLogs = []string{"Program log: Instruction: InitializeMayhemState"}
	res := p.Process(context.Background(), det, nil)
	if res.RejectionStage != StageSuspicious {
		t.Errorf("stage = %s, want suspicious_instruction", res.RejectionStage)
	}
}

func TestDeepFiltersMinMaxSol(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	rpc.curveStates["curve-M1"].RealSolReserves = curve.LamportsPerSol / 10 // 0.1 SOL
	p := newTestPipeline(t, rpc, baseConfig(), nil)

	res := p.Process(context.Background(), event("M1"), nil)
	if res.RejectionStage != StageDeep {
		t.Fatalf("stage = %s, want deep_filters", res.RejectionStage)
	}

	rpc2 := newFakeRPC()
	admitSetup(rpc2, "M2")
	rpc2.curveStates["curve-M2"].RealSolReserves = 40 * curve.LamportsPerSol
	p2 := newTestPipeline(t, rpc2, baseConfig(), nil)
	res = p2.Process(context.Background(), event("M2"), nil)
	if res.RejectionStage != StageDeep {
		t.Errorf("stage = %s, want deep_filters (above max)", res.RejectionStage)
	}
}

func TestPrefetchedCurveStateSkipsFetch(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	p := newTestPipeline(t, rpc, baseConfig(), nil)

	res := p.Process(context.Background(), event("M1"), liveCurve())
	if !res.Passed {
		t.Fatalf("rejected: %s/%s", res.RejectionStage, res.Reason)
	}
	if rpc.calls["FetchCurveState"] != 0 {
		t.Errorf("curve state fetched despite prefetch: %d", rpc.calls["FetchCurveState"])
	}
}

// S3: momentum passes on the second check once buys cross the threshold.
func TestMomentumPassOnSecondCheck(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")

	firstPoll := []*blockchain.ParsedTransaction{
		venueTx("w1", 101, pump.SideBuy),
		venueTx("w2", 102, pump.SideBuy),
		venueTx("w3", 103, pump.SideBuy),
	}
	secondPoll := make([]*blockchain.ParsedTransaction, 0, 13)
	for i := 0; i < 12; i++ {
		secondPoll = append(secondPoll, venueTx(fmt.Sprintf("w%d", i), uint64(101+i), pump.SideBuy))
	}
	secondPoll = append(secondPoll, venueTx("w1", 120, pump.SideSell))
	rpc.txBatches = [][]*blockchain.ParsedTransaction{firstPoll, secondPoll}

	cfg := baseConfig()
	cfg.MomentumMinTotalBuys = 10
	cfg.MomentumMaxChecks = 3
	cfg.MomentumInitialDelayMs = 100
	cfg.MomentumRecheckIntervalMs = 100
	p := newTestPipeline(t, rpc, cfg, nil)

	res := p.Process(context.Background(), event("M1"), nil)
	if !res.Passed {
		t.Fatalf("rejected: %s/%s", res.RejectionStage, res.Reason)
	}
	if res.BuyCount != 12 || res.ChecksPerformed != 2 {
		t.Errorf("buyCount=%d checks=%d, want 12/2", res.BuyCount, res.ChecksPerformed)
	}
}

func TestMomentumExhaustsChecks(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	cfg := baseConfig()
	cfg.MomentumMinTotalBuys = 10
	cfg.MomentumMaxChecks = 3
	p := newTestPipeline(t, rpc, cfg, nil)

	res := p.Process(context.Background(), event("M1"), nil)
	if res.Passed || res.RejectionStage != StageMomentum {
		t.Fatalf("result = %+v", res)
	}
	if res.ChecksPerformed != 3 {
		t.Errorf("checks = %d, want 3 (bounded polling)", res.ChecksPerformed)
	}
}

func TestMomentumRPCErrorShortCircuits(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	rpc.sigErr = errors.New("rpc down")
	cfg := baseConfig()
	cfg.MomentumMinTotalBuys = 10
	cfg.MomentumMaxChecks = 5
	p := newTestPipeline(t, rpc, cfg, nil)

	res := p.Process(context.Background(), event("M1"), nil)
	if res.Passed || res.RejectionStage != StageMomentum {
		t.Fatalf("result = %+v", res)
	}
	if rpc.calls["GetSignaturesForAddress"] != 1 {
		t.Errorf("expected exactly one fetch before short-circuit, got %d", rpc.calls["GetSignaturesForAddress"])
	}
}

// S4: log-only sniper gate always passes and retains every snapshot.
func TestSniperLogOnlyAlwaysPasses(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	rpc.txBatches = [][]*blockchain.ParsedTransaction{{
		venueTx("sniper1", 101, pump.SideBuy), // within threshold of slot 100
	}}

	cfg := baseConfig()
	cfg.SniperGate = &config.SniperGateConfig{
		Enabled:          true,
		SlotThreshold:    3,
		MinOrganicBuyers: 50, // unreachable
		MaxChecks:        5,
		LogOnly:          true,
	}

	var snapshots []*storage.SniperObservation
	p := newTestPipeline(t, rpc, cfg, func(o *Options) {
		o.SniperObserver = func(obs *storage.SniperObservation) { snapshots = append(snapshots, obs) }
	})

	res := p.Process(context.Background(), event("M1"), nil)
	if !res.Passed {
		t.Fatalf("log-only gate rejected: %s/%s", res.RejectionStage, res.Reason)
	}
	if len(snapshots) != 5 {
		t.Errorf("snapshots = %d, want 5", len(snapshots))
	}
	if res.ChecksPerformed != 5 {
		t.Errorf("checks = %d, want 5", res.ChecksPerformed)
	}
}

func TestSniperRejectsTimeoutThenLowOrganic(t *testing.T) {
	// Snipers present and never exiting -> TIMEOUT.
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	rpc.txBatches = [][]*blockchain.ParsedTransaction{{
		venueTx("sniper1", 101, pump.SideBuy),
	}}
	cfg := baseConfig()
	cfg.SniperGate = &config.SniperGateConfig{
		Enabled: true, SlotThreshold: 3, MinBotExitPercent: 100,
		MinOrganicBuyers: 1, MaxChecks: 2,
	}
	p := newTestPipeline(t, rpc, cfg, nil)
	res := p.Process(context.Background(), event("M1"), nil)
	if res.Passed || res.RejectionStage != StageSniper {
		t.Fatalf("result = %+v", res)
	}
	if want := ReasonSniperTimeout; res.Reason[:len(want)] != want {
		t.Errorf("reason = %s, want TIMEOUT", res.Reason)
	}

	// No snipers but not enough organic flow -> LOW_ORGANIC.
	rpc2 := newFakeRPC()
	admitSetup(rpc2, "M2")
	rpc2.txBatches = [][]*blockchain.ParsedTransaction{{
		venueTx("organic1", 500, pump.SideBuy),
	}}
	cfg2 := baseConfig()
	cfg2.SniperGate = &config.SniperGateConfig{
		Enabled: true, SlotThreshold: 3, MinOrganicBuyers: 3, MaxChecks: 2,
	}
	p2 := newTestPipeline(t, rpc2, cfg2, nil)
	res = p2.Process(context.Background(), event("M2"), nil)
	if res.Passed {
		t.Fatal("expected rejection")
	}
	if want := ReasonSniperLowOrganic; res.Reason[:len(want)] != want {
		t.Errorf("reason = %s, want LOW_ORGANIC", res.Reason)
	}
}

func TestSniperPassesWhenBotsExitAndOrganicArrives(t *testing.T) {
	rpc := newFakeRPC()
	admitSetup(rpc, "M1")
	rpc.txBatches = [][]*blockchain.ParsedTransaction{{
		venueTx("sniper1", 101, pump.SideBuy),
		venueTx("sniper1", 150, pump.SideSell),
		venueTx("organic1", 400, pump.SideBuy),
		venueTx("organic2", 410, pump.SideBuy),
	}}
	cfg := baseConfig()
	cfg.SniperGate = &config.SniperGateConfig{
		Enabled: true, SlotThreshold: 3, MinBotExitPercent: 100,
		MinOrganicBuyers: 2, MaxChecks: 3,
	}
	p := newTestPipeline(t, rpc, cfg, nil)

	res := p.Process(context.Background(), event("M1"), nil)
	if !res.Passed {
		t.Fatalf("rejected: %s/%s", res.RejectionStage, res.Reason)
	}
	if res.ChecksPerformed != 1 {
		t.Errorf("checks = %d, want 1 (short-circuit on pass)", res.ChecksPerformed)
	}
}
