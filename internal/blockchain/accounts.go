package blockchain

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"pumplab/internal/curve"
	"pumplab/internal/pump"
)

const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// MintInfo holds the decoded state of a token mint account.
type MintInfo struct {
	MintAuthority   string // empty when revoked
	FreezeAuthority string // empty when revoked
	Decimals        uint8
	Supply          uint64
	IsToken2022     bool
}

type accountInfoValue struct {
	Data  []string `json:"data"` // [base64, "base64"]
	Owner string   `json:"owner"`
}

// FetchCurveState fetches and decodes a bonding-curve account.
// Returns nil when the account does not exist.
func (c *RPCClient) FetchCurveState(ctx context.Context, addr string) (*curve.State, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []interface{}{
			addr,
			map[string]string{"encoding": "base64", "commitment": "confirmed"},
		},
	}

	var result struct {
		Value *accountInfoValue `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode curve account: %w", err)
	}
	return pump.DecodeCurveAccount(raw)
}

// BatchFetchCurveStates fetches multiple curve accounts in one RPC call.
// The result is positional: index i corresponds to addrs[i], with nil for
// accounts that do not exist or fail to decode.
func (c *RPCClient) BatchFetchCurveStates(ctx context.Context, addrs []string) ([]*curve.State, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getMultipleAccounts",
		Params: []interface{}{
			addrs,
			map[string]string{"encoding": "base64", "commitment": "confirmed"},
		},
	}

	var result struct {
		Value []*accountInfoValue `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}

	states := make([]*curve.State, len(addrs))
	for i, v := range result.Value {
		if i >= len(states) {
			break
		}
		if v == nil || len(v.Data) == 0 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(v.Data[0])
		if err != nil {
			continue
		}
		if s, err := pump.DecodeCurveAccount(raw); err == nil {
			states[i] = s
		}
	}
	return states, nil
}

// GetMintInfoByProgram fetches a mint account and decodes its parsed info.
// Returns nil when the account does not exist or is not owned by the
// requested token program.
func (c *RPCClient) GetMintInfoByProgram(ctx context.Context, mint, programID string) (*MintInfo, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []interface{}{
			mint,
			map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
		},
	}

	var result struct {
		Value *struct {
			Owner string `json:"owner"`
			Data  struct {
				Parsed struct {
					Type string `json:"type"`
					Info struct {
						MintAuthority   *string `json:"mintAuthority"`
						FreezeAuthority *string `json:"freezeAuthority"`
						Decimals        uint8   `json:"decimals"`
						Supply          string  `json:"supply"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	if result.Value == nil || result.Value.Owner != programID || result.Value.Data.Parsed.Type != "mint" {
		return nil, nil
	}

	info := result.Value.Data.Parsed.Info
	mi := &MintInfo{
		Decimals:    info.Decimals,
		IsToken2022: programID == Token2022ProgramID,
	}
	if info.MintAuthority != nil {
		mi.MintAuthority = *info.MintAuthority
	}
	if info.FreezeAuthority != nil {
		mi.FreezeAuthority = *info.FreezeAuthority
	}
	mi.Supply, _ = strconv.ParseUint(info.Supply, 10, 64)
	return mi, nil
}
