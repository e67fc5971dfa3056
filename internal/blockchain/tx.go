package blockchain

import (
	"context"
	"encoding/json"

	"pumplab/internal/pump"
)

// SignatureInfo is one entry of getSignaturesForAddress, newest-first.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
	BlockTime *int64      `json:"blockTime"`
}

// GetSignaturesForAddress fetches recent transaction signatures for an
// address, newest-first, at confirmed commitment.
func (c *RPCClient) GetSignaturesForAddress(ctx context.Context, addr string, limit int) ([]SignatureInfo, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getSignaturesForAddress",
		Params: []interface{}{
			addr,
			map[string]interface{}{"limit": limit, "commitment": "confirmed"},
		},
	}

	var result []SignatureInfo
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ParsedInstruction is an instruction as returned by jsonParsed encoding.
// Instructions the RPC could not parse keep raw base58 data; parsed ones
// have Data empty and are never venue buy/sell instructions.
type ParsedInstruction struct {
	ProgramID string   `json:"programId"`
	Data      string   `json:"data"`
	Accounts  []string `json:"accounts"`
}

// InnerInstructionSet groups the inner instructions of one outer index.
type InnerInstructionSet struct {
	Index        int                 `json:"index"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// TxMeta is the execution metadata of a parsed transaction.
type TxMeta struct {
	Err               interface{}           `json:"err"`
	InnerInstructions []InnerInstructionSet `json:"innerInstructions"`
}

// AccountKey is one account reference in a parsed message.
type AccountKey struct {
	Pubkey string `json:"pubkey"`
	Signer bool   `json:"signer"`
}

// TxMessage is the parsed message body.
type TxMessage struct {
	AccountKeys  []AccountKey        `json:"accountKeys"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// TxBody wraps the message and signatures.
type TxBody struct {
	Message    TxMessage `json:"message"`
	Signatures []string  `json:"signatures"`
}

// ParsedTransaction is the subset of getTransaction(jsonParsed) the core
// consumes: slot, success flag, fee payer, and all instructions.
type ParsedTransaction struct {
	Slot        uint64  `json:"slot"`
	Meta        *TxMeta `json:"meta"`
	Transaction TxBody  `json:"transaction"`
}

// Succeeded reports whether the transaction executed without error.
func (t *ParsedTransaction) Succeeded() bool {
	return t.Meta == nil || t.Meta.Err == nil
}

// FeePayer returns the first signer account, which pays the fee.
func (t *ParsedTransaction) FeePayer() string {
	keys := t.Transaction.Message.AccountKeys
	if len(keys) == 0 {
		return ""
	}
	return keys[0].Pubkey
}

// Instructions returns outer and inner instructions in execution order.
func (t *ParsedTransaction) Instructions() []ParsedInstruction {
	out := append([]ParsedInstruction(nil), t.Transaction.Message.Instructions...)
	if t.Meta != nil {
		for _, inner := range t.Meta.InnerInstructions {
			out = append(out, inner.Instructions...)
		}
	}
	return out
}

// VenueSides classifies every venue instruction in the transaction.
// Only unparsed instructions targeting the venue program with at least an
// 8-byte payload are considered.
func (t *ParsedTransaction) VenueSides() []pump.Side {
	var sides []pump.Side
	for _, ix := range t.Instructions() {
		if ix.ProgramID != pump.ProgramID || ix.Data == "" {
			continue
		}
		if side := pump.ClassifyBase58(ix.Data); side != pump.SideUnknown {
			sides = append(sides, side)
		}
	}
	return sides
}

// GetParsedTransactions fetches transactions for the given signatures in a
// single JSON-RPC batch. The result is positional; failed or missing
// transactions yield nil entries.
func (c *RPCClient) GetParsedTransactions(ctx context.Context, sigs []string) ([]*ParsedTransaction, error) {
	if len(sigs) == 0 {
		return nil, nil
	}

	reqs := make([]RPCRequest, len(sigs))
	for i, sig := range sigs {
		reqs[i] = RPCRequest{
			JSONRPC: "2.0",
			ID:      i + 1,
			Method:  "getTransaction",
			Params: []interface{}{
				sig,
				map[string]interface{}{
					"encoding":                       "jsonParsed",
					"commitment":                     "confirmed",
					"maxSupportedTransactionVersion": 0,
				},
			},
		}
	}

	resps, err := c.callBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}

	txs := make([]*ParsedTransaction, len(sigs))
	for i, resp := range resps {
		if resp.Error != nil || len(resp.Result) == 0 || string(resp.Result) == "null" {
			continue
		}
		var tx ParsedTransaction
		if err := json.Unmarshal(resp.Result, &tx); err != nil {
			continue
		}
		txs[i] = &tx
	}
	return txs, nil
}
