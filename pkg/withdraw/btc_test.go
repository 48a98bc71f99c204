package withdraw

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zellular-xyz/zexporta-go/pkg/derive"
)

func TestSingleKeySignerDeterministic(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	signer := NewSingleKeySigner(priv)

	digest := sha256.Sum256([]byte("spend"))
	s1, err := signer.SignInput(digest, 7)
	require.NoError(t, err)
	s2, err := signer.SignInput(digest, 7)
	require.NoError(t, err)
	assert.Equal(t, s1, s2, "same digest and salt must produce the same signature")
	assert.Len(t, s1, schnorr.SignatureSize)
}

func TestSingleKeySignerVerifiesAgainstOutputKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	signer := NewSingleKeySigner(priv)

	const salt = 42
	digest := sha256.Sum256([]byte("spend"))
	raw, err := signer.SignInput(digest, salt)
	require.NoError(t, err)

	sig, err := schnorr.ParseSignature(raw)
	require.NoError(t, err)

	outputKey := txscript.ComputeTaprootOutputKey(priv.PubKey(), derive.SaltBytes(salt))
	assert.True(t, sig.Verify(digest[:], outputKey),
		"signature must verify against the tweaked output key")
}

func TestSingleKeySignerDistinctPerSalt(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	signer := NewSingleKeySigner(priv)

	digest := sha256.Sum256([]byte("spend"))
	s1, err := signer.SignInput(digest, 1)
	require.NoError(t, err)
	s2, err := signer.SignInput(digest, 2)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}
