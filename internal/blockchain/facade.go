package blockchain

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pumplab/internal/curve"
)

// Facade is the narrow RPC surface the admission pipeline and monitors
// consume. *RPCClient implements it; tests substitute fakes.
type Facade interface {
	FetchCurveState(ctx context.Context, addr string) (*curve.State, error)
	BatchFetchCurveStates(ctx context.Context, addrs []string) ([]*curve.State, error)
	GetSignaturesForAddress(ctx context.Context, addr string, limit int) ([]SignatureInfo, error)
	GetParsedTransactions(ctx context.Context, sigs []string) ([]*ParsedTransaction, error)
	GetMintInfoByProgram(ctx context.Context, mint, programID string) (*MintInfo, error)
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
	SubmitAndConfirm(ctx context.Context, signedTx string) (*SubmitResult, error)
}

// SubmitResult is the outcome of submit-and-confirm.
type SubmitResult struct {
	Confirmed bool
	Signature string
	// VerifiedOutLamports is the delivered amount extracted from the
	// confirmed transaction's balance delta, when available (0 otherwise).
	VerifiedOutLamports uint64
	Err                 error
}

// SubmitAndConfirm sends a signed transaction and polls signature status
// until it confirms, fails, or the poll window elapses.
func (c *RPCClient) SubmitAndConfirm(ctx context.Context, signedTx string) (*SubmitResult, error) {
	sig, err := c.SendTransaction(ctx, signedTx, true)
	if err != nil {
		return &SubmitResult{Err: err}, err
	}

	res := &SubmitResult{Signature: sig}

	deadline := time.Now().Add(45 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res, ctx.Err()
		case <-time.After(1500 * time.Millisecond):
		}

		statuses, err := c.GetSignatureStatuses(ctx, []string{sig})
		if err != nil {
			log.Warn().Err(err).Str("sig", sig).Msg("status poll failed")
			continue
		}
		if len(statuses) == 0 || statuses[0] == nil {
			continue
		}

		st := statuses[0]
		if st.Err != nil {
			res.Err = ParseTxError(&RPCError{Code: -1, Message: "transaction failed on-chain"})
			return res, nil
		}
		if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
			res.Confirmed = true
			res.VerifiedOutLamports = c.verifiedDelta(ctx, sig)
			return res, nil
		}
	}

	res.Err = ErrConfirmTimeout
	return res, nil
}

// verifiedDelta fetches the confirmed transaction and returns the fee
// payer's lamport delta when positive (SOL actually delivered by a sell).
func (c *RPCClient) verifiedDelta(ctx context.Context, sig string) uint64 {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []interface{}{
			sig,
			map[string]interface{}{
				"encoding":                       "json",
				"commitment":                     "confirmed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	var result struct {
		Meta *struct {
			PreBalances  []uint64 `json:"preBalances"`
			PostBalances []uint64 `json:"postBalances"`
			Fee          uint64   `json:"fee"`
		} `json:"meta"`
	}
	if err := c.call(ctx, req, &result); err != nil || result.Meta == nil {
		return 0
	}
	m := result.Meta
	if len(m.PreBalances) == 0 || len(m.PostBalances) == 0 {
		return 0
	}
	if m.PostBalances[0] > m.PreBalances[0] {
		return m.PostBalances[0] - m.PreBalances[0] + m.Fee
	}
	return 0
}
