package pump

import (
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
)

func TestClassifyData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Side
	}{
		{"buy", append(append([]byte{}, BuyDiscriminator...), 1, 2, 3), SideBuy},
		{"sell", append(append([]byte{}, SellDiscriminator...), 9), SideSell},
		{"buy exact 8 bytes", BuyDiscriminator, SideBuy},
		{"truncated", BuyDiscriminator[:7], SideUnknown},
		{"empty", nil, SideUnknown},
		{"other program data", []byte{0, 0, 0, 0, 0, 0, 0, 0, 1}, SideUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyData(tt.data); got != tt.want {
				t.Errorf("ClassifyData() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyBase58(t *testing.T) {
	enc := base58.Encode(append(append([]byte{}, SellDiscriminator...), 0xFF))
	if got := ClassifyBase58(enc); got != SideSell {
		t.Errorf("ClassifyBase58(sell payload) = %v, want SideSell", got)
	}

	if got := ClassifyBase58("not-valid-base58-0OIl"); got != SideUnknown {
		t.Errorf("ClassifyBase58(garbage) = %v, want SideUnknown", got)
	}
}

func TestDecodeCurveAccount(t *testing.T) {
	creator := make([]byte, 32)
	creator[0] = 7

	data := make([]byte, curveAccountSize)
	binary.LittleEndian.PutUint64(data[8:], 1_073_000_000_000_000) // virtual token
	binary.LittleEndian.PutUint64(data[16:], 30_000_000_000)       // virtual sol
	binary.LittleEndian.PutUint64(data[24:], 793_100_000_000_000)  // real token
	binary.LittleEndian.PutUint64(data[32:], 5_000_000_000)        // real sol
	binary.LittleEndian.PutUint64(data[40:], 1_000_000_000_000_000)
	data[48] = 0
	copy(data[49:], creator)

	s, err := DecodeCurveAccount(data)
	if err != nil {
		t.Fatalf("DecodeCurveAccount: %v", err)
	}

	if s.VirtualTokenReserves != 1_073_000_000_000_000 {
		t.Errorf("virtual token reserves = %d", s.VirtualTokenReserves)
	}
	if s.VirtualSolReserves != 30_000_000_000 {
		t.Errorf("virtual sol reserves = %d", s.VirtualSolReserves)
	}
	if s.RealSolReserves != 5_000_000_000 {
		t.Errorf("real sol reserves = %d", s.RealSolReserves)
	}
	if s.Complete {
		t.Error("complete flag should be false")
	}
	if s.Creator != base58.Encode(creator) {
		t.Errorf("creator = %s", s.Creator)
	}
}

func TestDecodeCurveAccountComplete(t *testing.T) {
	data := make([]byte, 8+5*8+1)
	data[48] = 1

	s, err := DecodeCurveAccount(data)
	if err != nil {
		t.Fatalf("DecodeCurveAccount: %v", err)
	}
	if !s.Complete {
		t.Error("complete flag should be true")
	}
	if s.Creator != "" {
		t.Error("creator should be empty on the short layout")
	}
}

func TestDecodeCurveAccountTooShort(t *testing.T) {
	if _, err := DecodeCurveAccount(make([]byte, 20)); err == nil {
		t.Error("expected error for short account data")
	}
}
