package withdraw

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testToken     = "0x3333333333333333333333333333333333333333"
	testRecipient = "0x4444444444444444444444444444444444444444"
)

func TestHashDeterministic(t *testing.T) {
	amount := big.NewInt(1_000_000)
	h1 := Hash(testToken, amount, testRecipient, 17)
	h2 := Hash(testToken, amount, testRecipient, 17)
	assert.Equal(t, h1, h2)
}

func TestHashSensitiveToEveryField(t *testing.T) {
	amount := big.NewInt(1_000_000)
	base := Hash(testToken, amount, testRecipient, 17)

	assert.NotEqual(t, base, Hash(testRecipient, amount, testRecipient, 17))
	assert.NotEqual(t, base, Hash(testToken, big.NewInt(1_000_001), testRecipient, 17))
	assert.NotEqual(t, base, Hash(testToken, amount, testToken, 17))
	assert.NotEqual(t, base, Hash(testToken, amount, testRecipient, 18))
}

func TestHashHandlesLargeAmounts(t *testing.T) {
	amount, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	assert.True(t, ok)
	h := Hash(testToken, amount, testRecipient, 1)
	assert.NotEqual(t, Hash(testToken, big.NewInt(0), testRecipient, 1), h)
}

func TestSameHash(t *testing.T) {
	h := Hash(testToken, big.NewInt(5), testRecipient, 3)

	assert.True(t, SameHash(h, h.Hex()))
	assert.True(t, SameHash(h, strings.TrimPrefix(h.Hex(), "0x")))
	assert.True(t, SameHash(h, strings.ToUpper(strings.TrimPrefix(h.Hex(), "0x"))))
	assert.True(t, SameHash(h, " "+h.Hex()+" "))
	assert.False(t, SameHash(h, "0xdeadbeef"))
}
