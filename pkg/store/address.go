package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

// InsertAddress inserts one derived address. Unique-index violations are
// swallowed; the derivation is deterministic so a duplicate is the same row.
func (s *Store) InsertAddress(ctx context.Context, addr bridge.UserAddress) error {
	_, err := s.addresses(addr.Chain).InsertOne(ctx, addr)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// InsertAddressesBatch inserts derived addresses, skipping duplicates.
func (s *Store) InsertAddressesBatch(ctx context.Context, chain string, addrs []bridge.UserAddress) error {
	if len(addrs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(addrs))
	for i, a := range addrs {
		docs[i] = a
	}
	_, err := s.addresses(chain).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// LastUserID returns the highest active user id on the chain, with ok=false
// when no address exists yet.
func (s *Store) LastUserID(ctx context.Context, chain string) (uint64, bool, error) {
	var addr bridge.UserAddress
	err := s.addresses(chain).FindOne(ctx,
		bson.M{"is_active": true},
		options.FindOne().SetSort(bson.D{{Key: "user_id", Value: -1}}),
	).Decode(&addr)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return addr.UserID, true, nil
}

// ActiveAddresses snapshots the tracked address set: address -> user id.
func (s *Store) ActiveAddresses(ctx context.Context, chain string) (map[string]uint64, error) {
	cursor, err := s.addresses(chain).Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	accepted := make(map[string]uint64)
	for cursor.Next(ctx) {
		var addr bridge.UserAddress
		if err := cursor.Decode(&addr); err != nil {
			return nil, err
		}
		accepted[addr.Address] = addr.UserID
	}
	return accepted, cursor.Err()
}
