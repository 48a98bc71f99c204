package withdraw

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hash computes the canonical EVM withdraw hash: keccak256 over the packed
// encoding of (token, amount, recipient, nonce). The vault recovers the
// aggregate signature against this digest, and every validator computes it
// independently from the exchange's copy of the withdraw.
func Hash(tokenAddress string, amount *big.Int, recipient string, nonce uint64) common.Hash {
	buf := make([]byte, 0, 20+32+20+32)
	buf = append(buf, common.HexToAddress(tokenAddress).Bytes()...)
	buf = append(buf, common.LeftPadBytes(amount.Bytes(), 32)...)
	buf = append(buf, common.HexToAddress(recipient).Bytes()...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// SameHash compares a local digest to the aggregator's hex rendering,
// tolerating case and an optional 0x prefix.
func SameHash(local common.Hash, remote string) bool {
	r := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(remote)), "0x")
	l := strings.TrimPrefix(strings.ToLower(local.Hex()), "0x")
	return l == r
}
