package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pumplab/internal/blacklist"
	"pumplab/internal/blockchain"
	"pumplab/internal/config"
	"pumplab/internal/curve"
	"pumplab/internal/detect"
	"pumplab/internal/exposure"
	"pumplab/internal/storage"
)

// Stage names, in execution order. A decision's rejection stage is always
// the first failing stage.
const (
	StageDedup      = "dedup"
	StageTokenAge   = "token_age"
	StageRateLimit  = "rate_limit"
	StageBlacklist  = "blacklist"
	StageExposure   = "exposure"
	StagePattern    = "pattern"
	StageSuspicious = "suspicious_instruction"
	StageMintInfo   = "mint_info"
	StageDeep       = "deep_filters"
	StageMomentum   = "momentum"
	StageSniper     = "sniper"
)

// Rejection reason tags.
const (
	ReasonAlreadyProcessed  = "ALREADY_PROCESSED"
	ReasonAlreadyOwned      = "ALREADY_OWNED"
	ReasonPendingTrade      = "PENDING_TRADE"
	ReasonTokenTooOld       = "TOKEN_TOO_OLD"
	ReasonRateLimit         = "RATE_LIMIT"
	ReasonMintBlacklisted   = "MINT_BLACKLISTED"
	ReasonCreatorBlacklist  = "CREATOR_BLACKLISTED"
	ReasonJunkPattern       = "JUNK_PATTERN"
	ReasonSuspiciousIx      = "SUSPICIOUS_INSTRUCTION"
	ReasonMintInfoNotFound  = "MINT_INFO_NOT_FOUND"
	ReasonMintAuthority     = "MINT_AUTHORITY_PRESENT"
	ReasonFreezeAuthority   = "FREEZE_AUTHORITY_PRESENT"
	ReasonBadDecimals       = "BAD_DECIMALS"
	ReasonCurveNotFound     = "CURVE_NOT_FOUND"
	ReasonAlreadyGraduated  = "ALREADY_GRADUATED"
	ReasonBelowMinSol       = "BELOW_MIN_SOL_IN_CURVE"
	ReasonAboveMaxSol       = "ABOVE_MAX_SOL_IN_CURVE"
	ReasonLowScore          = "LOW_SCORE"
	ReasonMomentumNotMet    = "MOMENTUM_THRESHOLD_NOT_MET"
	ReasonMomentumRPCFailed = "MOMENTUM_RPC_FETCH_FAILED"
	ReasonSniperTimeout     = "TIMEOUT"
	ReasonSniperLowOrganic  = "LOW_ORGANIC"
)

// AdmissionResult is the single outcome of processing one detection.
type AdmissionResult struct {
	Passed         bool
	RejectionStage string
	Reason         string

	// Data attached by passing stages.
	CurveState      *curve.State
	MintInfo        *blockchain.MintInfo
	Score           float64
	BuyCount        int
	ChecksPerformed int

	DurationMs int64
}

// Options wires one pipeline instance.
type Options struct {
	Variant   string // "A", "B", or "live"
	Config    config.VariantConfig
	RPC       blockchain.Facade
	Blacklist *blacklist.Blacklist
	// Guard is set on the live pipeline only; the A/B harness runs
	// without exposure checks.
	Guard *exposure.Guard
	Stats *Stats
	// HarnessMode enables the token-age and rate-limit stages.
	HarnessMode bool

	// HasOpenPosition and HasPendingTrade feed the dedup stage. Either
	// may be nil.
	HasOpenPosition func(mint string) bool
	HasPendingTrade func(mint string) bool

	// SniperObserver receives every sniper-gate poll snapshot for
	// persistence. May be nil.
	SniperObserver func(*storage.SniperObservation)

	// sleep is injectable for gate tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Pipeline is the admission state machine for one variant. Process is
// re-entrant over distinct detections; the dedup set and rate window are
// single-writer (the orchestrator dispatches per variant sequentially).
type Pipeline struct {
	opts  Options
	cfg   config.VariantConfig
	seen  *seenSet
	// admissions in the last hour, oldest first
	admissions []time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a pipeline instance.
func New(opts Options) *Pipeline {
	sleep := opts.sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		}
	}
	return &Pipeline{
		opts:  opts,
		cfg:   opts.Config,
		seen:  newSeenSet(seenSetCapacity, seenSetEvictRatio),
		sleep: sleep,
	}
}

// SeenCount returns the dedup set size.
func (p *Pipeline) SeenCount() int {
	return p.seen.Len()
}

// WarmSeen preloads the dedup set (restart recovery).
func (p *Pipeline) WarmSeen(bondingCurves []string) {
	for _, bc := range bondingCurves {
		p.seen.Add(bc)
	}
}

// Process runs every stage in order against one detection. The first
// failing stage short-circuits. prefetched may carry a curve state the
// orchestrator already fetched; a nil prefetch is fetched on demand.
func (p *Pipeline) Process(ctx context.Context, det *detect.Event, prefetched *curve.State) *AdmissionResult {
	start := time.Now()
	buf := newLogBuffer(det.Mint)
	res := &AdmissionResult{}

	type stage struct {
		name    string
		enabled bool
		run     func(context.Context, *detect.Event, *AdmissionResult) (bool, string)
	}
	stages := []stage{
		{StageDedup, true, p.stageDedup},
		{StageTokenAge, p.opts.HarnessMode && p.cfg.MaxTokenAgeSeconds > 0, p.stageTokenAge},
		{StageRateLimit, p.opts.HarnessMode, p.stageRateLimit},
		{StageBlacklist, p.opts.Blacklist != nil, p.stageBlacklist},
		{StageExposure, p.opts.Guard != nil, p.stageExposure},
		{StagePattern, true, p.stagePattern},
		{StageSuspicious, true, p.stageSuspicious},
		{StageMintInfo, true, p.stageMintInfo},
		{StageDeep, true, p.stageDeepFilters(prefetched)},
	}
	if sg := p.cfg.SniperGate; sg != nil && sg.Enabled {
		stages = append(stages, stage{StageSniper, true, p.stageSniper})
	} else {
		stages = append(stages, stage{StageMomentum, true, p.stageMomentum})
	}

	for _, st := range stages {
		if !st.enabled {
			continue
		}
		stageStart := time.Now()
		pass, reason := st.run(ctx, det, res)
		stageMs := time.Since(stageStart).Milliseconds()

		if p.opts.Stats != nil {
			p.opts.Stats.recordStage(st.name, pass)
		}
		buf.stage(st.name, pass, stageMs, reason)

		if !pass {
			res.RejectionStage = st.name
			res.Reason = reason
			res.DurationMs = time.Since(start).Milliseconds()
			p.finish(buf, det, res)
			return res
		}
	}

	res.Passed = true
	res.DurationMs = time.Since(start).Milliseconds()
	// Rate-limit timestamps are recorded on admission only.
	p.admissions = append(p.admissions, time.Now())
	p.finish(buf, det, res)
	return res
}

func (p *Pipeline) finish(buf *logBuffer, det *detect.Event, res *AdmissionResult) {
	if p.opts.Stats != nil {
		p.opts.Stats.recordOutcome(TokenOutcome{
			Mint:           det.Mint,
			Passed:         res.Passed,
			RejectionStage: res.RejectionStage,
			Reason:         res.Reason,
			DurationMs:     res.DurationMs,
		})
	}
	level := zerolog.DebugLevel
	if res.Passed {
		level = zerolog.InfoLevel
	}
	buf.flush(level, res.Passed, res.DurationMs)
}
