package pipeline

import (
	"context"
	"fmt"
	"time"

	"pumplab/internal/detect"
	"pumplab/internal/pump"
)

// signatureFetchLimit bounds one buy/sell counting poll.
const signatureFetchLimit = 100

// stageMomentum waits for the curve to show enough buy flow: after the
// initial delay, poll up to maxChecks times; pass as soon as total buys
// reach the threshold. Any RPC failure short-circuits the gate.
func (p *Pipeline) stageMomentum(ctx context.Context, det *detect.Event, res *AdmissionResult) (bool, string) {
	if err := p.sleep(ctx, time.Duration(p.cfg.MomentumInitialDelayMs)*time.Millisecond); err != nil {
		return false, ReasonMomentumRPCFailed
	}

	for check := 1; check <= p.cfg.MomentumMaxChecks; check++ {
		buys, _, err := p.countBuysSells(ctx, det.BondingCurve)
		if err != nil {
			return false, fmt.Sprintf("%s (%v)", ReasonMomentumRPCFailed, err)
		}

		res.BuyCount = buys
		res.ChecksPerformed = check
		if buys >= p.cfg.MomentumMinTotalBuys {
			return true, ""
		}

		if check < p.cfg.MomentumMaxChecks {
			if err := p.sleep(ctx, time.Duration(p.cfg.MomentumRecheckIntervalMs)*time.Millisecond); err != nil {
				return false, ReasonMomentumRPCFailed
			}
		}
	}
	return false, fmt.Sprintf("%s (%d buys after %d checks)",
		ReasonMomentumNotMet, res.BuyCount, res.ChecksPerformed)
}

// countBuysSells fetches the curve's recent signatures and their parsed
// transactions in one batch, then tallies venue buy/sell instructions.
func (p *Pipeline) countBuysSells(ctx context.Context, bondingCurve string) (buys, sells int, err error) {
	sigs, err := p.opts.RPC.GetSignaturesForAddress(ctx, bondingCurve, signatureFetchLimit)
	if err != nil {
		return 0, 0, err
	}
	if len(sigs) == 0 {
		return 0, 0, nil
	}

	sigStrings := make([]string, len(sigs))
	for i, s := range sigs {
		sigStrings[i] = s.Signature
	}

	txs, err := p.opts.RPC.GetParsedTransactions(ctx, sigStrings)
	if err != nil {
		return 0, 0, err
	}

	for _, tx := range txs {
		if tx == nil || !tx.Succeeded() {
			continue
		}
		for _, side := range tx.VenueSides() {
			switch side {
			case pump.SideBuy:
				buys++
			case pump.SideSell:
				sells++
			}
		}
	}
	return buys, sells, nil
}
