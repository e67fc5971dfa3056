package pump

import (
	"encoding/binary"
)

// Well-known venue accounts.
const (
	GlobalAccount  = "4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf"
	FeeRecipient   = "CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM"
	EventAuthority = "Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1"
)

// AccountMeta describes one account reference in an instruction.
type AccountMeta struct {
	Pubkey   string
	Signer   bool
	Writable bool
}

// Instruction is a program invocation ready for serialization.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// BuyAccounts names every account a venue buy touches.
type BuyAccounts struct {
	Mint                   string
	BondingCurve           string
	AssociatedBondingCurve string
	CreatorVault           string
	User                   string
	UserTokenAccount       string
	SystemProgram          string
	TokenProgram           string
}

// BuyInstruction builds the venue buy: receive tokenAmount tokens for at
// most maxSolCost lamports.
func BuyInstruction(a BuyAccounts, tokenAmount, maxSolCost uint64) Instruction {
	data := make([]byte, 24)
	copy(data, BuyDiscriminator)
	binary.LittleEndian.PutUint64(data[8:], tokenAmount)
	binary.LittleEndian.PutUint64(data[16:], maxSolCost)

	return Instruction{
		ProgramID: ProgramID,
		Accounts: []AccountMeta{
			{Pubkey: GlobalAccount},
			{Pubkey: FeeRecipient, Writable: true},
			{Pubkey: a.Mint},
			{Pubkey: a.BondingCurve, Writable: true},
			{Pubkey: a.AssociatedBondingCurve, Writable: true},
			{Pubkey: a.UserTokenAccount, Writable: true},
			{Pubkey: a.User, Signer: true, Writable: true},
			{Pubkey: a.SystemProgram},
			{Pubkey: a.TokenProgram},
			{Pubkey: a.CreatorVault, Writable: true},
			{Pubkey: EventAuthority},
			{Pubkey: ProgramID},
		},
		Data: data,
	}
}

// SellInstruction builds the venue sell: sell tokenAmount tokens for at
// least minSolOutput lamports.
func SellInstruction(a BuyAccounts, tokenAmount, minSolOutput uint64) Instruction {
	data := make([]byte, 24)
	copy(data, SellDiscriminator)
	binary.LittleEndian.PutUint64(data[8:], tokenAmount)
	binary.LittleEndian.PutUint64(data[16:], minSolOutput)

	return Instruction{
		ProgramID: ProgramID,
		Accounts: []AccountMeta{
			{Pubkey: GlobalAccount},
			{Pubkey: FeeRecipient, Writable: true},
			{Pubkey: a.Mint},
			{Pubkey: a.BondingCurve, Writable: true},
			{Pubkey: a.AssociatedBondingCurve, Writable: true},
			{Pubkey: a.UserTokenAccount, Writable: true},
			{Pubkey: a.User, Signer: true, Writable: true},
			{Pubkey: a.CreatorVault, Writable: true},
			{Pubkey: a.SystemProgram},
			{Pubkey: a.TokenProgram},
			{Pubkey: EventAuthority},
			{Pubkey: ProgramID},
		},
		Data: data,
	}
}
