package bridge

import (
	"fmt"
	"math/big"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// BigInt is a big.Int that round-trips through BSON and JSON as a base-10
// string. Token values routinely exceed 2^63, so they are never persisted as
// native integers.
type BigInt struct {
	big.Int
}

// NewBigInt wraps v.
func NewBigInt(v *big.Int) *BigInt {
	b := new(BigInt)
	if v != nil {
		b.Int.Set(v)
	}
	return b
}

// NewBigIntFromUint64 wraps v.
func NewBigIntFromUint64(v uint64) *BigInt {
	b := new(BigInt)
	b.Int.SetUint64(v)
	return b
}

// ParseBigInt parses a base-10 string.
func ParseBigInt(s string) (*BigInt, error) {
	b := new(BigInt)
	if _, ok := b.Int.SetString(s, 10); !ok {
		return nil, fmt.Errorf("invalid integer value %q", s)
	}
	return b, nil
}

func (b *BigInt) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bsontype.String, bsoncore.AppendString(nil, b.Int.String()), nil
}

func (b *BigInt) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t != bsontype.String {
		return fmt.Errorf("cannot decode %v as integer value", t)
	}
	s, _, ok := bsoncore.ReadString(data)
	if !ok {
		return fmt.Errorf("corrupt string value")
	}
	if _, ok := b.Int.SetString(s, 10); !ok {
		return fmt.Errorf("invalid integer value %q", s)
	}
	return nil
}

func (b *BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.Int.String() + `"`), nil
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if _, ok := b.Int.SetString(s, 10); !ok {
		return fmt.Errorf("invalid integer value %q", s)
	}
	return nil
}
