package blockchain

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"pumplab/internal/pump"
)

// TxBuilder assembles, signs, and serializes legacy Solana transactions
// for the launch venue.
type TxBuilder struct {
	wallet              *Wallet
	blockhashCache      *BlockhashCache
	priorityFeeLamports uint64
	computeUnitLimit    uint32
}

// NewTxBuilder creates a transaction builder.
func NewTxBuilder(wallet *Wallet, blockhashCache *BlockhashCache, priorityFeeLamports uint64) *TxBuilder {
	return &TxBuilder{
		wallet:              wallet,
		blockhashCache:      blockhashCache,
		priorityFeeLamports: priorityFeeLamports,
		computeUnitLimit:    120_000, // venue buy/sell fits comfortably
	}
}

// SetComputeUnitLimit overrides the compute unit limit.
func (b *TxBuilder) SetComputeUnitLimit(limit uint32) {
	b.computeUnitLimit = limit
}

// computeBudgetInstructions returns the SetComputeUnitLimit and
// SetComputeUnitPrice instructions for the configured priority fee.
func (b *TxBuilder) computeBudgetInstructions() []pump.Instruction {
	setLimit := make([]byte, 5)
	setLimit[0] = 2 // SetComputeUnitLimit
	binary.LittleEndian.PutUint32(setLimit[1:], b.computeUnitLimit)

	microLamportsPerCU := uint64(0)
	if b.computeUnitLimit > 0 {
		microLamportsPerCU = (b.priorityFeeLamports * 1_000_000) / uint64(b.computeUnitLimit)
	}
	setPrice := make([]byte, 9)
	setPrice[0] = 3 // SetComputeUnitPrice
	binary.LittleEndian.PutUint64(setPrice[1:], microLamportsPerCU)

	return []pump.Instruction{
		{ProgramID: ComputeBudgetProgramID, Data: setLimit},
		{ProgramID: ComputeBudgetProgramID, Data: setPrice},
	}
}

// BuildSigned builds a legacy transaction carrying the compute-budget
// instructions plus ixs, signs it with the builder wallet, and returns
// the base64 wire form ready for sendTransaction.
func (b *TxBuilder) BuildSigned(ixs ...pump.Instruction) (string, error) {
	blockhash, err := b.blockhashCache.Get()
	if err != nil {
		return "", fmt.Errorf("blockhash: %w", err)
	}

	all := append(b.computeBudgetInstructions(), ixs...)
	message, err := compileMessage(b.wallet.Address(), blockhash, all)
	if err != nil {
		return "", err
	}

	signature := b.wallet.Sign(message)

	// wire form: compact sig count, signatures, message
	var tx bytes.Buffer
	writeCompactU16(&tx, 1)
	tx.Write(signature)
	tx.Write(message)

	return base64.StdEncoding.EncodeToString(tx.Bytes()), nil
}

// compiledAccount tracks the merged properties of one account across all
// instructions in a message.
type compiledAccount struct {
	pubkey   string
	signer   bool
	writable bool
}

// compileMessage serializes a legacy message: header, account keys,
// blockhash, and compiled instructions.
func compileMessage(feePayer, blockhash string, ixs []pump.Instruction) ([]byte, error) {
	// Collect accounts, merging signer/writable flags. Fee payer is
	// always the first writable signer; program ids are readonly.
	order := []string{feePayer}
	merged := map[string]*compiledAccount{
		feePayer: {pubkey: feePayer, signer: true, writable: true},
	}
	upsert := func(pubkey string, signer, writable bool) {
		acc, ok := merged[pubkey]
		if !ok {
			acc = &compiledAccount{pubkey: pubkey}
			merged[pubkey] = acc
			order = append(order, pubkey)
		}
		acc.signer = acc.signer || signer
		acc.writable = acc.writable || writable
	}
	for _, ix := range ixs {
		for _, meta := range ix.Accounts {
			upsert(meta.Pubkey, meta.Signer, meta.Writable)
		}
		upsert(ix.ProgramID, false, false)
	}

	// Sort into message order: writable signers, readonly signers,
	// writable non-signers, readonly non-signers. Within a class,
	// first-seen order is kept.
	var keys []*compiledAccount
	for _, class := range []func(*compiledAccount) bool{
		func(a *compiledAccount) bool { return a.signer && a.writable },
		func(a *compiledAccount) bool { return a.signer && !a.writable },
		func(a *compiledAccount) bool { return !a.signer && a.writable },
		func(a *compiledAccount) bool { return !a.signer && !a.writable },
	} {
		for _, pk := range order {
			if acc := merged[pk]; class(acc) {
				keys = append(keys, acc)
			}
		}
	}

	index := make(map[string]int, len(keys))
	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	for i, acc := range keys {
		index[acc.pubkey] = i
		if acc.signer {
			numSigners++
			if !acc.writable {
				numReadonlySigned++
			}
		} else if !acc.writable {
			numReadonlyUnsigned++
		}
	}

	var msg bytes.Buffer
	msg.WriteByte(byte(numSigners))
	msg.WriteByte(byte(numReadonlySigned))
	msg.WriteByte(byte(numReadonlyUnsigned))

	writeCompactU16(&msg, len(keys))
	for _, acc := range keys {
		raw, err := base58.Decode(acc.pubkey)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("bad account key %q", acc.pubkey)
		}
		msg.Write(raw)
	}

	hashRaw, err := base58.Decode(blockhash)
	if err != nil || len(hashRaw) != 32 {
		return nil, fmt.Errorf("bad blockhash %q", blockhash)
	}
	msg.Write(hashRaw)

	writeCompactU16(&msg, len(ixs))
	for _, ix := range ixs {
		msg.WriteByte(byte(index[ix.ProgramID]))
		writeCompactU16(&msg, len(ix.Accounts))
		for _, meta := range ix.Accounts {
			msg.WriteByte(byte(index[meta.Pubkey]))
		}
		writeCompactU16(&msg, len(ix.Data))
		msg.Write(ix.Data)
	}

	return msg.Bytes(), nil
}

// writeCompactU16 writes a shortvec length prefix.
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
