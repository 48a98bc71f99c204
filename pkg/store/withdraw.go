package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

// InsertWithdrawsUnique inserts pulled withdraws, skipping nonces already
// known for the chain.
func (s *Store) InsertWithdrawsUnique(ctx context.Context, withdraws []bridge.WithdrawRequest) error {
	if len(withdraws) == 0 {
		return nil
	}
	docs := make([]interface{}, len(withdraws))
	for i, w := range withdraws {
		docs[i] = w
	}
	_, err := s.withdraws().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// UpsertWithdraw writes back a withdraw keyed by (nonce, chain).
func (s *Store) UpsertWithdraw(ctx context.Context, withdraw bridge.WithdrawRequest) error {
	filter := bson.M{"nonce": withdraw.Nonce, "chain_symbol": withdraw.Chain}
	_, err := s.withdraws().UpdateOne(ctx, filter,
		bson.M{"$set": withdraw}, options.Update().SetUpsert(true))
	return err
}

// FindWithdrawsByStatus returns withdraws in ascending nonce order; the
// exchange guarantees nonce monotonicity per chain.
func (s *Store) FindWithdrawsByStatus(ctx context.Context, chain string, status bridge.WithdrawStatus, fromNonce uint64) ([]bridge.WithdrawRequest, error) {
	filter := bson.M{
		"status":       status,
		"chain_symbol": chain,
		"nonce":        bson.M{"$gte": fromNonce},
	}
	cursor, err := s.withdraws().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "nonce", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []bridge.WithdrawRequest
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindWithdrawByNonce fetches one withdraw, nil when absent.
func (s *Store) FindWithdrawByNonce(ctx context.Context, chain string, nonce uint64) (*bridge.WithdrawRequest, error) {
	var w bridge.WithdrawRequest
	err := s.withdraws().FindOne(ctx, bson.M{"chain_symbol": chain, "nonce": nonce}).Decode(&w)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// LastWithdrawNonce returns the highest stored nonce for the chain, ok=false
// when none exist. Used as the offset when pulling from the exchange.
func (s *Store) LastWithdrawNonce(ctx context.Context, chain string) (uint64, bool, error) {
	var w bridge.WithdrawRequest
	err := s.withdraws().FindOne(ctx,
		bson.M{"chain_symbol": chain},
		options.FindOne().SetSort(bson.D{{Key: "nonce", Value: -1}}),
	).Decode(&w)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return w.Nonce, true, nil
}
