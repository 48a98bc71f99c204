package sa

import (
	"encoding/json"
	"fmt"
	"os"
)

// DKGKey is the metadata of one distributed key generation ceremony: the
// aggregated group key and the validator party that holds its shares.
type DKGKey struct {
	Name      string   `json:"-"`
	PublicKey string   `json:"public_key"`
	Party     []string `json:"party"`
	Threshold int      `json:"threshold"`
}

// ParseDKGJSON loads the ceremony named name from the JSON file at path.
func ParseDKGJSON(path, name string) (*DKGKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dkg file: %w", err)
	}
	var keys map[string]DKGKey
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("parse dkg file %s: %w", path, err)
	}
	key, ok := keys[name]
	if !ok {
		return nil, fmt.Errorf("dkg %q not found in %s", name, path)
	}
	if len(key.Party) == 0 {
		return nil, fmt.Errorf("dkg %q has an empty party", name)
	}
	key.Name = name
	return &key, nil
}
