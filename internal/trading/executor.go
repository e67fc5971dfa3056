package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"pumplab/internal/blockchain"
	"pumplab/internal/config"
	"pumplab/internal/curve"
	"pumplab/internal/detect"
	"pumplab/internal/exposure"
	"pumplab/internal/monitor"
	"pumplab/internal/pipeline"
	"pumplab/internal/pump"
	"pumplab/internal/storage"
)

// Executor turns pipeline admissions into live buys and monitor triggers
// into sells. Every submitted transaction moves through the ledger's
// intent -> confirmed/failed states.
type Executor struct {
	cfg       *config.Manager
	wallet    *blockchain.Wallet
	rpc       *blockchain.RPCClient
	txBuilder *blockchain.TxBuilder
	monitor   *monitor.Monitor
	guard     *exposure.Guard
	balance   *blockchain.BalanceTracker
	db        *storage.DB
	metrics   *Metrics

	mu sync.Mutex
}

// NewExecutor creates a live trade executor.
func NewExecutor(
	cfg *config.Manager,
	wallet *blockchain.Wallet,
	rpc *blockchain.RPCClient,
	txBuilder *blockchain.TxBuilder,
	mon *monitor.Monitor,
	guard *exposure.Guard,
	balance *blockchain.BalanceTracker,
	db *storage.DB,
) *Executor {
	return &Executor{
		cfg:       cfg,
		wallet:    wallet,
		rpc:       rpc,
		txBuilder: txBuilder,
		monitor:   mon,
		guard:     guard,
		balance:   balance,
		db:        db,
		metrics:   NewMetrics(),
	}
}

// Metrics exposes the executor's latency tracker.
func (e *Executor) Metrics() *Metrics {
	return e.metrics
}

// HandleAdmission buys an admitted token. Serialized: one buy at a time.
func (e *Executor) HandleAdmission(ctx context.Context, det *detect.Event, res *pipeline.AdmissionResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	tc := e.cfg.GetTrading()
	lamports := uint64(tc.QuoteAmountSol * curve.LamportsPerSol)

	state := res.CurveState
	if state == nil {
		return fmt.Errorf("admission for %s carries no curve state", det.Mint)
	}

	expectedTokens := curve.BuyOut(state, lamports)
	if expectedTokens == 0 {
		return fmt.Errorf("curve quotes zero tokens for %s", det.Mint)
	}
	maxSolCost := uint64(float64(lamports) * (1 + tc.BuySlippagePercent/100))

	tradeID, err := e.db.RecordTradeIntent(det.Mint, "buy", tc.QuoteAmountSol)
	if err != nil {
		return fmt.Errorf("record intent: %w", err)
	}

	accounts, err := e.venueAccounts(det, state)
	if err != nil {
		e.failTrade(tradeID, err)
		return err
	}

	ix := pump.BuyInstruction(accounts, expectedTokens, maxSolCost)
	signedTx, err := e.txBuilder.BuildSigned(ix)
	if err != nil {
		e.failTrade(tradeID, err)
		return fmt.Errorf("build buy tx: %w", err)
	}

	result, err := e.rpc.SubmitAndConfirm(ctx, signedTx)
	e.metrics.RecordSubmit(time.Since(start).Milliseconds(), err == nil && result != nil && result.Confirmed)
	if err != nil || !result.Confirmed {
		submitErr := err
		if submitErr == nil {
			submitErr = result.Err
		}
		e.failTrade(tradeID, submitErr)
		log.Warn().Str("mint", det.Mint).Str("err", blockchain.HumanError(submitErr)).Msg("buy failed")
		return submitErr
	}

	if err := e.db.ConfirmTrade(tradeID, result.Signature, 0); err != nil {
		log.Error().Err(err).Str("tradeId", tradeID).Msg("trade confirmation write failed")
	}

	feesCfg := e.cfg.Get().Wallet
	pos := &storage.Position{
		TokenMint:      det.Mint,
		BondingCurve:   det.BondingCurve,
		EntryAmountSol: tc.QuoteAmountSol,
		ActualCostSol:  tc.QuoteAmountSol + feesCfg.PriorityFeeSol,
		TokenAmount:    expectedTokens,
		EntryTimestamp: time.Now().UnixMilli(),
		BuySignature:   result.Signature,
		IsToken2022:    res.MintInfo != nil && res.MintInfo.IsToken2022,
	}
	if err := e.db.OpenPosition(pos); err != nil {
		log.Error().Err(err).Str("mint", det.Mint).Msg("position open write failed")
	}
	e.guard.RecordTrade(tc.QuoteAmountSol)
	if err := e.monitor.AddPosition(pos); err != nil {
		log.Error().Err(err).Str("mint", det.Mint).Msg("monitor registration failed")
	}

	go e.balance.Refresh(context.Background())

	log.Info().
		Str("mint", det.Mint).
		Str("sig", result.Signature).
		Uint64("tokens", expectedTokens).
		Dur("elapsed", time.Since(start)).
		Msg("BUY confirmed")
	return nil
}

// Sell implements monitor.Seller.
func (e *Executor) Sell(ctx context.Context, pos *storage.Position, reason string, currentValueSol float64) (float64, string, error) {
	start := time.Now()
	tc := e.cfg.GetTrading()

	tradeID, err := e.db.RecordTradeIntent(pos.TokenMint, "sell", currentValueSol)
	if err != nil {
		return 0, "", fmt.Errorf("record intent: %w", err)
	}

	minSolOut := uint64(currentValueSol * curve.LamportsPerSol * (1 - tc.SellSlippagePercent/100))

	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	state, err := e.rpc.FetchCurveState(ctx2, pos.BondingCurve)
	cancel()
	if err != nil || state == nil {
		e.failTrade(tradeID, fmt.Errorf("curve state unavailable"))
		return 0, "", fmt.Errorf("sell %s: curve state unavailable", pos.TokenMint)
	}

	det := &detect.Event{
		Mint:         pos.TokenMint,
		BondingCurve: pos.BondingCurve,
		Creator:      state.Creator,
		IsToken2022:  pos.IsToken2022,
	}
	accounts, err := e.venueAccounts(det, state)
	if err != nil {
		e.failTrade(tradeID, err)
		return 0, "", err
	}

	ix := pump.SellInstruction(accounts, pos.TokenAmount, minSolOut)
	signedTx, err := e.txBuilder.BuildSigned(ix)
	if err != nil {
		e.failTrade(tradeID, err)
		return 0, "", fmt.Errorf("build sell tx: %w", err)
	}

	result, err := e.rpc.SubmitAndConfirm(ctx, signedTx)
	e.metrics.RecordSubmit(time.Since(start).Milliseconds(), err == nil && result != nil && result.Confirmed)
	if err != nil || !result.Confirmed {
		submitErr := err
		if submitErr == nil {
			submitErr = result.Err
		}
		e.failTrade(tradeID, submitErr)
		return 0, "", submitErr
	}

	received := currentValueSol
	if result.VerifiedOutLamports > 0 {
		received = float64(result.VerifiedOutLamports) / curve.LamportsPerSol
	}
	if err := e.db.ConfirmTrade(tradeID, result.Signature, received); err != nil {
		log.Error().Err(err).Str("tradeId", tradeID).Msg("trade confirmation write failed")
	}

	go e.balance.Refresh(context.Background())

	log.Info().
		Str("mint", pos.TokenMint).
		Str("reason", reason).
		Str("sig", result.Signature).
		Float64("received", received).
		Dur("elapsed", time.Since(start)).
		Msg("SELL confirmed")
	return received, result.Signature, nil
}

// venueAccounts assembles the account set a venue buy/sell touches.
func (e *Executor) venueAccounts(det *detect.Event, state *curve.State) (pump.BuyAccounts, error) {
	tokenProgram := blockchain.TokenProgramID
	if det.IsToken2022 {
		tokenProgram = blockchain.Token2022ProgramID
	}

	userATA, err := blockchain.FindAssociatedTokenAddress(e.wallet.Address(), det.Mint, tokenProgram)
	if err != nil {
		return pump.BuyAccounts{}, fmt.Errorf("derive user ATA: %w", err)
	}

	associated := det.AssociatedBondingCurve
	if associated == "" {
		associated, err = blockchain.FindAssociatedTokenAddress(det.BondingCurve, det.Mint, tokenProgram)
		if err != nil {
			return pump.BuyAccounts{}, fmt.Errorf("derive curve ATA: %w", err)
		}
	}

	creator := state.Creator
	if creator == "" {
		creator = det.Creator
	}
	creatorVault := pump.FeeRecipient
	if creator != "" {
		creatorBytes, err := base58.Decode(creator)
		if err == nil {
			if vault, _, err := blockchain.FindProgramAddress(
				[][]byte{[]byte("creator-vault"), creatorBytes}, pump.ProgramID); err == nil {
				creatorVault = vault
			}
		}
	}

	return pump.BuyAccounts{
		Mint:                   det.Mint,
		BondingCurve:           det.BondingCurve,
		AssociatedBondingCurve: associated,
		CreatorVault:           creatorVault,
		User:                   e.wallet.Address(),
		UserTokenAccount:       userATA,
		SystemProgram:          blockchain.SystemProgramID,
		TokenProgram:           tokenProgram,
	}, nil
}

func (e *Executor) failTrade(tradeID string, cause error) {
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	if err := e.db.FailTrade(tradeID, msg); err != nil {
		log.Error().Err(err).Str("tradeId", tradeID).Msg("trade failure write failed")
	}
}
