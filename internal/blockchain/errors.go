package blockchain

import (
	"errors"
	"strings"
)

// ErrConfirmTimeout is returned when a submitted transaction never reaches
// confirmed commitment inside the poll window.
var ErrConfirmTimeout = errors.New("transaction confirmation timed out")

// TxError carries a classified transaction failure.
type TxError struct {
	Code    int
	Raw     string
	Message string
	Action  string
}

func (e *TxError) Error() string {
	return e.Message
}

// ParseTxError classifies an RPC or on-chain error into something a human
// reading the session log can act on.
func ParseTxError(err error) *TxError {
	if err == nil {
		return nil
	}

	raw := err.Error()
	txErr := &TxError{Raw: raw}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		txErr.Code = rpcErr.Code
	}

	switch {
	case contains(raw, "no record of a prior credit"),
		contains(raw, "insufficient funds"),
		contains(raw, "insufficient lamports"):
		txErr.Message = "INSUFFICIENT BALANCE - not enough SOL for trade + fees"
		txErr.Action = "fund wallet"

	case contains(raw, "slippage"), contains(raw, "TooMuchSolRequired"), contains(raw, "TooLittleSolReceived"):
		txErr.Message = "SLIPPAGE EXCEEDED - curve moved against the trade"
		txErr.Action = "retry or raise slippage"

	case contains(raw, "BondingCurveComplete"):
		txErr.Message = "CURVE GRADUATED - no longer tradable on the launch venue"
		txErr.Action = "drop token"

	case contains(raw, "blockhash not found"), contains(raw, "block height exceeded"):
		txErr.Message = "BLOCKHASH EXPIRED - transaction took too long"
		txErr.Action = "retry immediately"

	case contains(raw, "429"), contains(raw, "rate limit"):
		txErr.Message = "RATE LIMITED - RPC throttled"
		txErr.Action = "back off and retry"

	case contains(raw, "AccountNotFound"), contains(raw, "account not found"):
		txErr.Message = "ACCOUNT MISSING - curve or token account does not exist"
		txErr.Action = "re-check detection"

	case contains(raw, "custom program error"):
		txErr.Message = "PROGRAM ERROR - venue rejected the instruction"
		txErr.Action = "check curve state"

	case contains(raw, "connection refused"), contains(raw, "timeout"):
		txErr.Message = "RPC UNREACHABLE - network problem"
		txErr.Action = "retry"

	default:
		txErr.Message = "TRANSACTION FAILED"
		txErr.Action = "check raw error"
	}

	return txErr
}

// HumanError returns a one-line classification for logs.
func HumanError(err error) string {
	if err == nil {
		return ""
	}
	return ParseTxError(err).Message
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
