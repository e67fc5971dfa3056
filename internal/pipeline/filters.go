package pipeline

import (
	"context"
	"fmt"

	"pumplab/internal/blockchain"
	"pumplab/internal/curve"
	"pumplab/internal/detect"
)

func (p *Pipeline) stageMintInfo(ctx context.Context, det *detect.Event, res *AdmissionResult) (bool, string) {
	// Token-2022 first, then the classic SPL program.
	info, err := p.opts.RPC.GetMintInfoByProgram(ctx, det.Mint, blockchain.Token2022ProgramID)
	if err != nil || info == nil {
		info, err = p.opts.RPC.GetMintInfoByProgram(ctx, det.Mint, blockchain.TokenProgramID)
	}
	if err != nil || info == nil {
		return false, ReasonMintInfoNotFound
	}

	if info.MintAuthority != "" {
		return false, ReasonMintAuthority
	}
	if info.FreezeAuthority != "" {
		return false, ReasonFreezeAuthority
	}
	if info.Decimals > 18 {
		return false, fmt.Sprintf("%s (%d)", ReasonBadDecimals, info.Decimals)
	}

	res.MintInfo = info
	return true, ""
}

// deep-filter scoring bounds.
const (
	minSolScoreFloor = 10.0
	minSolScoreCeil  = 20.0
	maxSolScoreCeil  = 15.0
	// graduation progress at which the max-sol score reaches zero
	maxSolDecayEnd = 75.0
	deepScoreMax   = minSolScoreCeil + maxSolScoreCeil
)

func (p *Pipeline) stageDeepFilters(prefetched *curve.State) func(context.Context, *detect.Event, *AdmissionResult) (bool, string) {
	return func(ctx context.Context, det *detect.Event, res *AdmissionResult) (bool, string) {
		state := prefetched
		if state == nil {
			fetched, err := p.opts.RPC.FetchCurveState(ctx, det.BondingCurve)
			if err != nil || fetched == nil {
				return false, ReasonCurveNotFound
			}
			state = fetched
		}
		if state.Complete {
			return false, ReasonAlreadyGraduated
		}
		res.CurveState = state

		realSol := float64(state.RealSolReserves) / curve.LamportsPerSol
		score := 0.0

		// Blocking: enough SOL already committed to the curve.
		if p.cfg.MinSolInCurve > 0 {
			if realSol < p.cfg.MinSolInCurve {
				return false, fmt.Sprintf("%s (%.3f < %.3f)", ReasonBelowMinSol, realSol, p.cfg.MinSolInCurve)
			}
			score += minSolScore(realSol, p.cfg.MinSolInCurve, p.cfg.MaxSolInCurve)
		}

		// Blocking: not so much SOL that the upside is gone.
		if p.cfg.MaxSolInCurve > 0 {
			if realSol > p.cfg.MaxSolInCurve {
				return false, fmt.Sprintf("%s (%.3f > %.3f)", ReasonAboveMaxSol, realSol, p.cfg.MaxSolInCurve)
			}
			score += maxSolScore(curve.GraduationProgress(state))
		}

		res.Score = score
		if p.cfg.MinScoreRequired > 0 {
			normalized := score / deepScoreMax * 100
			if normalized < p.cfg.MinScoreRequired {
				return false, fmt.Sprintf("%s (%.1f < %.1f)", ReasonLowScore, normalized, p.cfg.MinScoreRequired)
			}
		}
		return true, ""
	}
}

// minSolScore scales in [10,20] with how far above the threshold the
// curve's real SOL sits. Advisory only.
func minSolScore(realSol, min, max float64) float64 {
	span := max - min
	if span <= 0 {
		return minSolScoreFloor
	}
	ratio := (realSol - min) / span
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return minSolScoreFloor + ratio*(minSolScoreCeil-minSolScoreFloor)
}

// maxSolScore decays linearly from 15 at 0% graduation progress to 0 at
// 75% and beyond.
func maxSolScore(progress float64) float64 {
	if progress >= maxSolDecayEnd {
		return 0
	}
	return maxSolScoreCeil * (1 - progress/maxSolDecayEnd)
}
