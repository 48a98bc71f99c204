// Package store is the persistence layer. It exclusively owns the five
// entity families (addresses, transfers, chain cursors, withdraws, UTXOs);
// observers and coordinators only hold transient views.
//
// Idempotence is enforced by unique indexes, all created eagerly in Open so
// no collection is touched before its constraints exist.
package store

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const databaseName = "transaction_database"

// Store wraps one Mongo database. Safe for concurrent use.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects, pings, and creates every index the invariants rely on.
// chains is the set of chain symbols that get an address collection.
func Open(ctx context.Context, uri string, chains []string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &Store{client: client, db: client.Database(databaseName)}
	if err := s.createIndexes(ctx, chains); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) addresses(chain string) *mongo.Collection {
	return s.db.Collection("user_addresses_" + strings.ToLower(chain))
}

func (s *Store) transfers() *mongo.Collection { return s.db.Collection("transfer") }
func (s *Store) chains() *mongo.Collection    { return s.db.Collection("chain") }
func (s *Store) withdraws() *mongo.Collection { return s.db.Collection("withdraw") }
func (s *Store) utxos() *mongo.Collection     { return s.db.Collection("utxo") }
func (s *Store) tokens() *mongo.Collection    { return s.db.Collection("token") }

func unique(keys bson.D) mongo.IndexModel {
	return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
}

func (s *Store) createIndexes(ctx context.Context, chainSymbols []string) error {
	for _, chain := range chainSymbols {
		_, err := s.addresses(chain).Indexes().CreateMany(ctx, []mongo.IndexModel{
			unique(bson.D{{Key: "user_id", Value: 1}}),
			unique(bson.D{{Key: "address", Value: 1}}),
		})
		if err != nil {
			return err
		}
	}
	_, err := s.transfers().Indexes().CreateOne(ctx, unique(bson.D{
		{Key: "tx_hash", Value: 1},
		{Key: "chain_symbol", Value: 1},
		{Key: "index", Value: 1},
	}))
	if err != nil {
		return err
	}
	_, err = s.chains().Indexes().CreateOne(ctx, unique(bson.D{
		{Key: "chain_symbol", Value: 1},
	}))
	if err != nil {
		return err
	}
	_, err = s.withdraws().Indexes().CreateOne(ctx, unique(bson.D{
		{Key: "nonce", Value: 1},
		{Key: "chain_symbol", Value: 1},
	}))
	if err != nil {
		return err
	}
	_, err = s.utxos().Indexes().CreateOne(ctx, unique(bson.D{
		{Key: "tx_hash", Value: 1},
		{Key: "index", Value: 1},
	}))
	if err != nil {
		return err
	}
	_, err = s.tokens().Indexes().CreateOne(ctx, unique(bson.D{
		{Key: "chain_symbol", Value: 1},
		{Key: "token_address", Value: 1},
	}))
	return err
}
