package detect

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
)

func buildCreateLog(name, symbol string, mint, bondingCurve, user, creator []byte) string {
	var buf bytes.Buffer
	buf.Write(createEventDiscriminator)
	writeString := func(s string) {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	writeString(name)
	writeString(symbol)
	writeString("https://example.com/meta.json")
	buf.Write(mint)
	buf.Write(bondingCurve)
	buf.Write(user)
	if creator != nil {
		buf.Write(creator)
	}
	return "Program data: " + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func pk(seed byte) []byte {
	b := make([]byte, 32)
	b[0] = seed
	return b
}

func TestParseCreateLogs(t *testing.T) {
	mint, curveAcc, user, creator := pk(1), pk(2), pk(3), pk(4)
	logs := []string{
		"Program 6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P invoke [1]",
		"Program log: Instruction: Create",
		buildCreateLog("doge wif hat", "DWH", mint, curveAcc, user, creator),
		"Program 6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P success",
	}

	event := ParseCreateLogs(logs)
	if event == nil {
		t.Fatal("expected a detection event")
	}
	if event.Name != "doge wif hat" || event.Symbol != "DWH" {
		t.Errorf("name/symbol = %q/%q", event.Name, event.Symbol)
	}
	if event.Mint != base58.Encode(mint) {
		t.Errorf("mint = %s", event.Mint)
	}
	if event.BondingCurve != base58.Encode(curveAcc) {
		t.Errorf("bondingCurve = %s", event.BondingCurve)
	}
	if event.Creator != base58.Encode(creator) {
		t.Errorf("creator = %s", event.Creator)
	}
	if event.AssociatedBondingCurve == "" {
		t.Error("associated bonding curve not derived")
	}
	if len(event.RawLogs) != len(logs) {
		t.Errorf("raw logs not retained: %d", len(event.RawLogs))
	}
}

func TestParseCreateLogsOlderLayoutWithoutCreator(t *testing.T) {
	logs := []string{buildCreateLog("x", "X", pk(1), pk(2), pk(3), nil)}

	event := ParseCreateLogs(logs)
	if event == nil {
		t.Fatal("expected a detection event")
	}
	if event.Creator != "" {
		t.Errorf("creator should be empty, got %s", event.Creator)
	}
}

func TestParseCreateLogsIgnoresUnrelated(t *testing.T) {
	tests := [][]string{
		nil,
		{"Program log: Instruction: Buy"},
		{"Program data: !!!not-base64!!!"},
		{"Program data: " + base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
		// Valid base64, wrong discriminator.
		{"Program data: " + base64.StdEncoding.EncodeToString(make([]byte, 64))},
	}
	for i, logs := range tests {
		if event := ParseCreateLogs(logs); event != nil {
			t.Errorf("case %d: expected nil, got %+v", i, event)
		}
	}
}

func TestParseCreateLogsTruncatedEvent(t *testing.T) {
	// Discriminator present but the body stops after the name field.
	var buf bytes.Buffer
	buf.Write(createEventDiscriminator)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], 1)
	buf.Write(n[:])
	buf.WriteString("a")
	logs := []string{"Program data: " + base64.StdEncoding.EncodeToString(buf.Bytes())}

	if event := ParseCreateLogs(logs); event != nil {
		t.Errorf("expected nil for truncated event, got %+v", event)
	}
}
