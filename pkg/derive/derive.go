// Package derive computes deterministic per-user deposit addresses. Both
// derivations are pure: same inputs produce the same address on any machine,
// and nothing here touches the network or the Store.
package derive

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zellular-xyz/zexporta-go/pkg/config"
)

// EVMAddress computes the CREATE2 address of the user deposit contract:
// keccak256(0xff ‖ factory ‖ pad32(salt) ‖ bytecodeHash)[12:], checksummed.
func EVMAddress(factory, bytecodeHash string, userID uint64) (string, error) {
	if !common.IsHexAddress(factory) {
		return "", fmt.Errorf("invalid factory address %q", factory)
	}
	codeHash, err := hex.DecodeString(strings.TrimPrefix(bytecodeHash, "0x"))
	if err != nil || len(codeHash) != 32 {
		return "", fmt.Errorf("invalid bytecode hash %q", bytecodeHash)
	}
	var salt [32]byte
	binary.BigEndian.PutUint64(salt[24:], userID)
	addr := crypto.CreateAddress2(common.HexToAddress(factory), salt, codeHash)
	return addr.Hex(), nil
}

// SaltBytes is the big-endian 8-byte encoding of the user id, used as the
// TapTweak payload in place of a script merkle root (BIP-341).
func SaltBytes(userID uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, userID)
	return b
}

// ParseGroupKey decodes the master public key from hex. Both the 32-byte
// x-only and the 33-byte compressed encodings are accepted.
func ParseGroupKey(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(pubHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid group key hex: %w", err)
	}
	switch len(raw) {
	case schnorr.PubKeyBytesLen:
		return schnorr.ParsePubKey(raw)
	case btcec.PubKeyBytesLenCompressed:
		return btcec.ParsePubKey(raw)
	default:
		return nil, fmt.Errorf("group key must be 32 or 33 bytes, got %d", len(raw))
	}
}

// BTCAddress tweaks the master key with tagged_hash("TapTweak", x(P) ‖ salt)
// and encodes the result as a P2TR bech32m address on the given network.
func BTCAddress(groupKey *btcec.PublicKey, userID uint64, params *chaincfg.Params) (string, error) {
	outputKey := txscript.ComputeTaprootOutputKey(groupKey, SaltBytes(userID))
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// TweakedPrivKey applies the same TapTweak to the master private key,
// negating for even-y per BIP-341. The result signs key-path spends of the
// user's deposit outputs.
func TweakedPrivKey(priv *btcec.PrivateKey, userID uint64) *btcec.PrivateKey {
	return txscript.TweakTaprootPrivKey(*priv, SaltBytes(userID))
}

// NetworkParams maps the deployment environment to Bitcoin network
// parameters.
func NetworkParams(env config.Env) *chaincfg.Params {
	if env == config.EnvProd {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}
