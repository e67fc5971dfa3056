package blockchain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
)

// MockRoundTripper captures requests and returns scripted responses.
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

// curveAccountBase64 builds a base64 curve account with the given real
// SOL reserves and complete flag.
func curveAccountBase64(realSol uint64, complete bool) string {
	data := make([]byte, 8+5*8+1+32)
	binary.LittleEndian.PutUint64(data[8:], 1_000_000)  // virtual token
	binary.LittleEndian.PutUint64(data[16:], 2_000_000) // virtual sol
	binary.LittleEndian.PutUint64(data[24:], 500_000)   // real token
	binary.LittleEndian.PutUint64(data[32:], realSol)
	binary.LittleEndian.PutUint64(data[40:], 10_000_000)
	if complete {
		data[48] = 1
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestBatchFetchCurveStatesPositional(t *testing.T) {
	client := NewRPCClient("http://primary", "http://fallback", "key")
	client.httpClient.Transport = &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			body := fmt.Sprintf(`{
				"jsonrpc": "2.0", "id": 1,
				"result": {"value": [
					{"data": ["%s", "base64"], "owner": "prog"},
					null,
					{"data": ["%s", "base64"], "owner": "prog"}
				]}
			}`, curveAccountBase64(111, false), curveAccountBase64(222, true))
			return jsonResponse(body), nil
		},
	}

	states, err := client.BatchFetchCurveStates(context.Background(), []string{"c1", "c2", "c3"})
	if err != nil {
		t.Fatalf("BatchFetchCurveStates: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("len = %d, want 3 (positional)", len(states))
	}
	if states[0] == nil || states[0].RealSolReserves != 111 {
		t.Errorf("states[0] = %+v", states[0])
	}
	if states[1] != nil {
		t.Errorf("states[1] should be nil for a missing account")
	}
	if states[2] == nil || !states[2].Complete {
		t.Errorf("states[2] = %+v, want complete", states[2])
	}
}

func TestFetchCurveStateMissingAccount(t *testing.T) {
	client := NewRPCClient("http://primary", "http://fallback", "")
	client.httpClient.Transport = &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(`{"jsonrpc":"2.0","id":1,"result":{"value":null}}`), nil
		},
	}

	state, err := client.FetchCurveState(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FetchCurveState: %v", err)
	}
	if state != nil {
		t.Errorf("state = %+v, want nil", state)
	}
}

func TestCallFallsBackOnPrimaryFailure(t *testing.T) {
	var urls []string
	client := NewRPCClient("http://primary", "http://fallback", "")
	client.httpClient.Transport = &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			urls = append(urls, req.URL.Host)
			if req.URL.Host == "primary" {
				return &http.Response{StatusCode: 500, Body: io.NopCloser(bytes.NewBufferString("boom"))}, nil
			}
			return jsonResponse(`{"jsonrpc":"2.0","id":1,"result":{"value":123}}`), nil
		},
	}

	balance, err := client.GetBalance(context.Background(), "SomeWallet")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 123 {
		t.Errorf("balance = %d, want 123", balance)
	}
	if len(urls) != 2 || urls[0] != "primary" || urls[1] != "fallback" {
		t.Errorf("call order = %v", urls)
	}
}

func TestGetMintInfoByProgram(t *testing.T) {
	client := NewRPCClient("http://primary", "http://fallback", "")
	client.httpClient.Transport = &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(`{
				"jsonrpc":"2.0","id":1,
				"result":{"value":{
					"owner":"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
					"data":{"parsed":{"type":"mint","info":{
						"mintAuthority":null,
						"freezeAuthority":null,
						"decimals":6,
						"supply":"1000000000000000"
					}}}
				}}
			}`), nil
		},
	}

	info, err := client.GetMintInfoByProgram(context.Background(), "Mint1", TokenProgramID)
	if err != nil {
		t.Fatalf("GetMintInfoByProgram: %v", err)
	}
	if info == nil {
		t.Fatal("info = nil")
	}
	if info.MintAuthority != "" || info.FreezeAuthority != "" {
		t.Errorf("authorities should be empty: %+v", info)
	}
	if info.Decimals != 6 || info.Supply != 1_000_000_000_000_000 {
		t.Errorf("info = %+v", info)
	}
	if info.IsToken2022 {
		t.Error("classic program mint flagged as Token-2022")
	}

	// Wrong owner program yields nil, letting the caller try the other.
	info, err = client.GetMintInfoByProgram(context.Background(), "Mint1", Token2022ProgramID)
	if err != nil || info != nil {
		t.Errorf("wrong-program fetch = %+v, %v; want nil, nil", info, err)
	}
}

func TestGetParsedTransactionsBatch(t *testing.T) {
	client := NewRPCClient("http://primary", "http://fallback", "")
	client.httpClient.Transport = &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			bodyBytes, _ := io.ReadAll(req.Body)
			var reqs []RPCRequest
			if err := json.Unmarshal(bodyBytes, &reqs); err != nil {
				t.Errorf("batch body not an array: %v", err)
			}
			if len(reqs) != 2 {
				t.Errorf("batch size = %d, want 2", len(reqs))
			}

			// Out-of-order responses must land positionally by id.
			return jsonResponse(`[
				{"jsonrpc":"2.0","id":2,"result":{
					"slot": 222,
					"meta": {"err": null},
					"transaction": {"message": {"accountKeys":[{"pubkey":"payer2","signer":true}],"instructions":[]}}
				}},
				{"jsonrpc":"2.0","id":1,"result":null}
			]`), nil
		},
	}

	txs, err := client.GetParsedTransactions(context.Background(), []string{"sigA", "sigB"})
	if err != nil {
		t.Fatalf("GetParsedTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("len = %d, want 2", len(txs))
	}
	if txs[0] != nil {
		t.Errorf("txs[0] = %+v, want nil (null result)", txs[0])
	}
	if txs[1] == nil || txs[1].Slot != 222 || txs[1].FeePayer() != "payer2" {
		t.Errorf("txs[1] = %+v", txs[1])
	}
}
