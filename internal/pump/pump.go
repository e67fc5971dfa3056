package pump

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"pumplab/internal/curve"
)

// ProgramID is the launch-venue program.
const ProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Anchor instruction discriminators (first 8 bytes of instruction data).
var (
	BuyDiscriminator  = []byte{102, 6, 61, 18, 1, 218, 235, 234}
	SellDiscriminator = []byte{51, 230, 133, 164, 1, 127, 131, 173}
)

// Side classifies a venue instruction.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// ClassifyData matches the leading 8 bytes of raw instruction data against
// the buy/sell discriminators. Payloads shorter than 8 bytes are ignored.
func ClassifyData(data []byte) Side {
	if len(data) < 8 {
		return SideUnknown
	}
	head := data[:8]
	switch {
	case bytes.Equal(head, BuyDiscriminator):
		return SideBuy
	case bytes.Equal(head, SellDiscriminator):
		return SideSell
	default:
		return SideUnknown
	}
}

// ClassifyBase58 decodes base58 instruction data and classifies it.
// Undecodable or truncated payloads classify as unknown.
func ClassifyBase58(data string) Side {
	raw, err := base58.Decode(data)
	if err != nil {
		return SideUnknown
	}
	return ClassifyData(raw)
}

// curveAccountSize is the minimum account data length for a decodable
// bonding-curve account: 8-byte discriminator, five u64 fields, the
// complete flag, and the creator pubkey.
const curveAccountSize = 8 + 5*8 + 1 + 32

// DecodeCurveAccount decodes a raw bonding-curve account into curve state.
func DecodeCurveAccount(data []byte) (*curve.State, error) {
	if len(data) < 8+5*8+1 {
		return nil, fmt.Errorf("curve account too short: %d bytes", len(data))
	}

	s := &curve.State{
		VirtualTokenReserves: binary.LittleEndian.Uint64(data[8:16]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(data[16:24]),
		RealTokenReserves:    binary.LittleEndian.Uint64(data[24:32]),
		RealSolReserves:      binary.LittleEndian.Uint64(data[32:40]),
		TokenTotalSupply:     binary.LittleEndian.Uint64(data[40:48]),
		Complete:             data[48] != 0,
	}

	// The creator field only exists on the extended account layout.
	if len(data) >= curveAccountSize {
		s.Creator = base58.Encode(data[49:81])
	}
	return s, nil
}
