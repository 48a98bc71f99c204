package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

// TokenDecimals reads the cached decimals for (chain, token), ok=false on a
// cache miss.
func (s *Store) TokenDecimals(ctx context.Context, chain, token string) (int, bool, error) {
	var t bridge.Token
	err := s.tokens().FindOne(ctx, bson.M{
		"chain_symbol":  chain,
		"token_address": token,
	}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return t.Decimals, true, nil
}

// InsertToken populates the cache; duplicates are harmless.
func (s *Store) InsertToken(ctx context.Context, token bridge.Token) error {
	_, err := s.tokens().InsertOne(ctx, token)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}
