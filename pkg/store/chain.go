package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

// GetCursor returns the last observed block of the chain, ok=false before
// the first observation.
func (s *Store) GetCursor(ctx context.Context, chain string) (uint64, bool, error) {
	var state bridge.ChainState
	err := s.chains().FindOne(ctx, bson.M{"chain_symbol": chain}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return state.LastObservedBlock, true, nil
}

// UpsertCursor advances the cursor. The $max update keeps the cursor
// monotonic even under a concurrent stale writer.
func (s *Store) UpsertCursor(ctx context.Context, chain string, block uint64) error {
	_, err := s.chains().UpdateOne(ctx,
		bson.M{"chain_symbol": chain},
		bson.M{
			"$max": bson.M{"last_observed_block": block},
			"$setOnInsert": bson.M{"chain_symbol": chain},
		},
		options.Update().SetUpsert(true))
	return err
}
