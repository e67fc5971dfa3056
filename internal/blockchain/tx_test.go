package blockchain

import (
	"testing"

	"github.com/mr-tron/base58"

	"pumplab/internal/pump"
)

func ix(programID string, data []byte) ParsedInstruction {
	return ParsedInstruction{ProgramID: programID, Data: base58.Encode(data)}
}

func TestVenueSidesClassification(t *testing.T) {
	buyData := append(append([]byte{}, pump.BuyDiscriminator...), 1, 2, 3)
	sellData := append(append([]byte{}, pump.SellDiscriminator...), 4)
	shortData := pump.BuyDiscriminator[:7]
	otherProgram := append(append([]byte{}, pump.BuyDiscriminator...), 9)

	tx := &ParsedTransaction{
		Slot: 50,
		Meta: &TxMeta{
			InnerInstructions: []InnerInstructionSet{{
				Index: 0,
				Instructions: []ParsedInstruction{
					ix(pump.ProgramID, sellData),
				},
			}},
		},
		Transaction: TxBody{
			Message: TxMessage{
				AccountKeys: []AccountKey{{Pubkey: "thePayer", Signer: true}, {Pubkey: "other"}},
				Instructions: []ParsedInstruction{
					ix(pump.ProgramID, buyData),
					ix(pump.ProgramID, shortData),        // < 8 bytes, ignored
					ix("SomeOtherProgram", otherProgram), // wrong program, ignored
					{ProgramID: pump.ProgramID, Data: ""}, // parsed form, ignored
				},
			},
		},
	}

	sides := tx.VenueSides()
	if len(sides) != 2 {
		t.Fatalf("sides = %v, want [buy sell]", sides)
	}
	if sides[0] != pump.SideBuy || sides[1] != pump.SideSell {
		t.Errorf("sides = %v", sides)
	}
	if tx.FeePayer() != "thePayer" {
		t.Errorf("fee payer = %s", tx.FeePayer())
	}
	if !tx.Succeeded() {
		t.Error("tx with nil err should be successful")
	}
}

func TestSucceededWithError(t *testing.T) {
	tx := &ParsedTransaction{Meta: &TxMeta{Err: map[string]interface{}{"InstructionError": []interface{}{}}}}
	if tx.Succeeded() {
		t.Error("tx with meta.err should not be successful")
	}

	noMeta := &ParsedTransaction{}
	if !noMeta.Succeeded() {
		t.Error("tx without meta defaults to successful")
	}
	if noMeta.FeePayer() != "" {
		t.Error("empty account keys should yield empty fee payer")
	}
}
