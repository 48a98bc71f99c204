package withdraw

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

// Taproot outputs carry a 34-byte script (OP_1 + 32-byte key push).
const taprootScriptSize = 34

// perInputPadding overestimates the witness contribution of one key-path
// input (signature plus sighash byte plus varint framing) so a selection is
// never under-funded.
const perInputPadding = 30

// EstimateFee prices a spend of numInputs taproot inputs into two taproot
// outputs (recipient plus change). Deterministic for a given input count.
func EstimateFee(numInputs int, satPerByte int64) int64 {
	tx := wire.NewMsgTx(wire.TxVersion)
	for i := 0; i < numInputs; i++ {
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	}
	script := make([]byte, taprootScriptSize)
	tx.AddTxOut(wire.NewTxOut(0, script))
	tx.AddTxOut(wire.NewTxOut(0, script))
	return (int64(tx.SerializeSize()) + perInputPadding*int64(len(tx.TxIn))) * satPerByte
}

// SelectUTXOs accumulates candidates oldest-first until their sum covers
// amount plus the fee for the selection so far. Returns the chosen set and
// the fee priced for it, or ErrNotEnoughInputs without side effects.
func SelectUTXOs(candidates []bridge.UTXO, amount, satPerByte int64) ([]bridge.UTXO, int64, error) {
	var (
		chosen []bridge.UTXO
		acc    int64
	)
	for _, u := range candidates {
		chosen = append(chosen, u)
		acc += u.Amount
		fee := EstimateFee(len(chosen), satPerByte)
		if acc >= amount+fee {
			return chosen, fee, nil
		}
	}
	return nil, 0, ErrNotEnoughInputs
}
