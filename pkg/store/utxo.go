package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

// InsertUTXOsUnique inserts observed outputs, skipping (tx_hash, index)
// pairs already present.
func (s *Store) InsertUTXOsUnique(ctx context.Context, utxos []bridge.UTXO) error {
	if len(utxos) == 0 {
		return nil
	}
	docs := make([]interface{}, len(utxos))
	for i, u := range utxos {
		docs[i] = u
	}
	_, err := s.utxos().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// FindUTXOsByStatus returns outputs oldest-first (insertion order), keeping
// the selector deterministic.
func (s *Store) FindUTXOsByStatus(ctx context.Context, status bridge.UTXOStatus) ([]bridge.UTXO, error) {
	cursor, err := s.utxos().Find(ctx, bson.M{"status": status},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []bridge.UTXO
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertUTXO writes back an output keyed by (tx_hash, index).
func (s *Store) UpsertUTXO(ctx context.Context, utxo bridge.UTXO) error {
	filter := bson.M{"tx_hash": utxo.TxHash, "index": utxo.Index}
	_, err := s.utxos().UpdateOne(ctx, filter,
		bson.M{"$set": utxo}, options.Update().SetUpsert(true))
	return err
}
