package curve

import (
	"math/big"
)

// LamportsPerSol is the number of lamports in one SOL.
const LamportsPerSol = 1_000_000_000

// GraduationTargetLamports is the real-SOL level at which a launch curve
// closes to further buys and migrates to the open market.
const GraduationTargetLamports = 85 * LamportsPerSol

// State is a decoded bonding-curve account. All amounts are in minor units
// (lamports for SOL, base units for the token).
type State struct {
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
	TokenTotalSupply     uint64
	Complete             bool
	Creator              string
}

// BuyOut returns the token amount received for solIn lamports, using the
// constant-product invariant over the virtual reserves.
func BuyOut(s *State, solIn uint64) uint64 {
	if solIn == 0 || s.VirtualTokenReserves == 0 {
		return 0
	}
	vSol := new(big.Int).SetUint64(s.VirtualSolReserves)
	vTok := new(big.Int).SetUint64(s.VirtualTokenReserves)

	// tokensOut = vTok - (vSol*vTok)/(vSol+solIn)
	k := new(big.Int).Mul(vSol, vTok)
	newSol := new(big.Int).Add(vSol, new(big.Int).SetUint64(solIn))
	newTok := new(big.Int).Div(k, newSol)
	out := new(big.Int).Sub(vTok, newTok)
	if out.Sign() < 0 {
		return 0
	}
	return out.Uint64()
}

// SellOut returns the lamports received for selling tokenIn tokens back
// into the curve.
func SellOut(s *State, tokenIn uint64) uint64 {
	if tokenIn == 0 || s.VirtualSolReserves == 0 {
		return 0
	}
	vSol := new(big.Int).SetUint64(s.VirtualSolReserves)
	vTok := new(big.Int).SetUint64(s.VirtualTokenReserves)

	// solOut = (vSol*tokenIn)/(vTok+tokenIn), rounded down so a sell never
	// pays out more than the curve holds for it.
	newTok := new(big.Int).Add(vTok, new(big.Int).SetUint64(tokenIn))
	out := new(big.Int).Mul(vSol, new(big.Int).SetUint64(tokenIn))
	out.Div(out, newTok)
	if out.Sign() < 0 {
		return 0
	}
	return out.Uint64()
}

// PriceLamports returns the spot price in lamports per whole token unit.
func PriceLamports(s *State) float64 {
	if s.VirtualTokenReserves == 0 {
		return 0
	}
	return float64(s.VirtualSolReserves) / float64(s.VirtualTokenReserves)
}

// GraduationProgress returns how close the curve is to graduating, in
// [0,100]. Advisory only; used for deep-filter scoring.
func GraduationProgress(s *State) float64 {
	if s.Complete {
		return 100
	}
	p := float64(s.RealSolReserves) / float64(GraduationTargetLamports) * 100
	if p > 100 {
		p = 100
	}
	return p
}
