package withdraw

import (
	"errors"
	"fmt"
)

// ErrNotEnoughInputs is returned by the UTXO selector when the unspent set
// cannot cover amount plus fee. No UTXO is marked SPEND in that case.
var ErrNotEnoughInputs = errors.New("not enough unspent inputs")

// HashMismatchError is terminal: the quorum signed a different message than
// the one computed locally, so the signature must never reach the vault.
type HashMismatchError struct {
	Nonce  uint64
	Local  string
	Remote string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("withdraw %d: local hash %s != validator hash %s", e.Nonce, e.Local, e.Remote)
}

// UTXOAssignmentError is terminal: a PROCESSING withdraw already carries a
// UTXO set, so re-selecting inputs could double-spend against an in-flight
// transaction.
type UTXOAssignmentError struct {
	Nonce uint64
}

func (e *UTXOAssignmentError) Error() string {
	return fmt.Sprintf("withdraw %d: utxos already assigned while processing", e.Nonce)
}
