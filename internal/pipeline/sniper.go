package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pumplab/internal/blockchain"
	"pumplab/internal/detect"
	"pumplab/internal/pump"
	"pumplab/internal/storage"
)

// sniperState accumulates wallet classifications across polls. A wallet
// tagged sniper is never reclassified as organic; a sniper that sells is
// tagged exited and never restored.
type sniperState struct {
	creationSlot uint64
	snipers      map[string]struct{}
	exited       map[string]struct{}
	organic      map[string]struct{}
}

func newSniperState(creationSlot uint64) *sniperState {
	return &sniperState{
		creationSlot: creationSlot,
		snipers:      make(map[string]struct{}),
		exited:       make(map[string]struct{}),
		organic:      make(map[string]struct{}),
	}
}

// observe folds one transaction into the wallet classification.
func (s *sniperState) observe(tx *blockchain.ParsedTransaction, slotThreshold uint64) (buys, sells int) {
	payer := tx.FeePayer()
	if payer == "" {
		return 0, 0
	}
	for _, side := range tx.VenueSides() {
		switch side {
		case pump.SideBuy:
			buys++
			if _, isSniper := s.snipers[payer]; isSniper {
				continue
			}
			if tx.Slot >= s.creationSlot && tx.Slot-s.creationSlot <= slotThreshold {
				s.snipers[payer] = struct{}{}
				delete(s.organic, payer)
			} else {
				s.organic[payer] = struct{}{}
			}
		case pump.SideSell:
			sells++
			if _, isSniper := s.snipers[payer]; isSniper {
				s.exited[payer] = struct{}{}
			}
		}
	}
	return buys, sells
}

func (s *sniperState) botExitPercent() float64 {
	if len(s.snipers) == 0 {
		return 0
	}
	return float64(len(s.exited)) / float64(len(s.snipers)) * 100
}

// stageSniper classifies early buyers as snipers and waits for them to
// exit before admitting. In log-only mode the gate runs every poll and
// always passes, retaining all snapshots for analysis.
func (p *Pipeline) stageSniper(ctx context.Context, det *detect.Event, res *AdmissionResult) (bool, string) {
	sg := p.cfg.SniperGate
	state := newSniperState(det.Slot)

	if err := p.sleep(ctx, time.Duration(sg.InitialDelayMs)*time.Millisecond); err != nil {
		return false, ReasonSniperTimeout
	}

	for check := 1; check <= sg.MaxChecks; check++ {
		res.ChecksPerformed = check

		pollBuys, pollSells, err := p.pollSniper(ctx, det.BondingCurve, state, sg.SlotThreshold)
		if err != nil {
			// Sparse data is still data; keep polling.
			log.Warn().Err(err).Str("mint", det.Mint).Int("check", check).Msg("sniper poll failed")
		}
		res.BuyCount = pollBuys

		exitPct := state.botExitPercent()
		pass := (len(state.snipers) == 0 || exitPct >= sg.MinBotExitPercent) &&
			len(state.organic) >= sg.MinOrganicBuyers

		p.recordSniperSnapshot(det, check, state, pollBuys, pollSells, pass)

		if pass && !sg.LogOnly {
			return true, ""
		}

		if check < sg.MaxChecks {
			if err := p.sleep(ctx, time.Duration(sg.RecheckIntervalMs)*time.Millisecond); err != nil {
				break
			}
		}
	}

	if sg.LogOnly {
		return true, ""
	}
	if len(state.snipers) > 0 && state.botExitPercent() < sg.MinBotExitPercent {
		return false, fmt.Sprintf("%s (%d snipers, %.0f%% exited)",
			ReasonSniperTimeout, len(state.snipers), state.botExitPercent())
	}
	return false, fmt.Sprintf("%s (%d organic, need %d)",
		ReasonSniperLowOrganic, len(state.organic), sg.MinOrganicBuyers)
}

// pollSniper fetches the curve's recent transactions oldest-first and
// folds them into the classification state.
func (p *Pipeline) pollSniper(ctx context.Context, bondingCurve string, state *sniperState, slotThreshold uint64) (buys, sells int, err error) {
	sigs, err := p.opts.RPC.GetSignaturesForAddress(ctx, bondingCurve, signatureFetchLimit)
	if err != nil {
		return 0, 0, err
	}
	if len(sigs) == 0 {
		return 0, 0, nil
	}

	// The RPC returns newest-first; classification wants chronological
	// order so buys precede their sells.
	sigStrings := make([]string, len(sigs))
	for i, s := range sigs {
		sigStrings[len(sigs)-1-i] = s.Signature
	}

	txs, err := p.opts.RPC.GetParsedTransactions(ctx, sigStrings)
	if err != nil {
		return 0, 0, err
	}

	for _, tx := range txs {
		if tx == nil || !tx.Succeeded() {
			continue
		}
		b, s := state.observe(tx, slotThreshold)
		buys += b
		sells += s
	}
	return buys, sells, nil
}

func (p *Pipeline) recordSniperSnapshot(det *detect.Event, check int, state *sniperState, buys, sells int, pass bool) {
	if p.opts.SniperObserver == nil {
		return
	}

	wallets, _ := json.Marshal(map[string][]string{
		"snipers": setKeys(state.snipers),
		"exited":  setKeys(state.exited),
		"organic": setKeys(state.organic),
	})
	p.opts.SniperObserver(&storage.SniperObservation{
		TokenMint:         det.Mint,
		CheckNumber:       check,
		BotCount:          len(state.snipers),
		BotExitCount:      len(state.exited),
		OrganicCount:      len(state.organic),
		TotalBuys:         buys,
		TotalSells:        sells,
		UniqueBuyers:      len(state.snipers) + len(state.organic),
		PassConditionsMet: pass,
		WalletsJSON:       string(wallets),
		Timestamp:         time.Now().UnixMilli(),
	})
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
