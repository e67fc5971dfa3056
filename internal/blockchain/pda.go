package blockchain

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	SystemProgramID          = "11111111111111111111111111111111"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramID   = "ComputeBudget111111111111111111111111111111"
	pdaMarker                = "ProgramDerivedAddress"
)

// isOnCurve reports whether a 32-byte value is a valid ed25519 point.
// Program-derived addresses must be off-curve.
func isOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// createProgramAddress hashes seeds+bump into a candidate address and
// rejects on-curve results, mirroring the on-chain derivation.
func createProgramAddress(seeds [][]byte, programID []byte) ([]byte, error) {
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > 32 {
			return nil, errors.New("seed too long")
		}
		h.Write(seed)
	}
	h.Write(programID)
	h.Write([]byte(pdaMarker))
	addr := h.Sum(nil)

	if isOnCurve(addr) {
		return nil, errors.New("derived address is on curve")
	}
	return addr, nil
}

// FindProgramAddress finds the canonical bump for seeds under programID.
func FindProgramAddress(seeds [][]byte, programIDBase58 string) (string, uint8, error) {
	programID, err := base58.Decode(programIDBase58)
	if err != nil {
		return "", 0, fmt.Errorf("decode program id: %w", err)
	}

	for bump := 255; bump >= 0; bump-- {
		addr, err := createProgramAddress(append(seeds, []byte{byte(bump)}), programID)
		if err == nil {
			return base58.Encode(addr), uint8(bump), nil
		}
	}
	return "", 0, errors.New("no valid program address found")
}

// FindAssociatedTokenAddress derives the ATA for (wallet, mint) under the
// given token program.
func FindAssociatedTokenAddress(wallet, mint, tokenProgramID string) (string, error) {
	walletB, err := base58.Decode(wallet)
	if err != nil {
		return "", fmt.Errorf("decode wallet: %w", err)
	}
	mintB, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint: %w", err)
	}
	tokenProgB, err := base58.Decode(tokenProgramID)
	if err != nil {
		return "", fmt.Errorf("decode token program: %w", err)
	}

	addr, _, err := FindProgramAddress([][]byte{walletB, tokenProgB, mintB}, AssociatedTokenProgramID)
	return addr, err
}
