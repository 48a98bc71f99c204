package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

// InsertTransfersUnique inserts the batch, silently dropping rows whose
// (tx_hash, chain, index) already exists. Re-running an observer iteration
// over a processed range therefore yields no new rows.
func (s *Store) InsertTransfersUnique(ctx context.Context, transfers []bridge.UserTransfer) error {
	if len(transfers) == 0 {
		return nil
	}
	docs := make([]interface{}, len(transfers))
	for i, t := range transfers {
		docs[i] = t
	}
	_, err := s.transfers().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// TransfersByStatus returns matching transfers ordered ascending by block
// number. fromBlock=0 means no lower bound.
func (s *Store) TransfersByStatus(ctx context.Context, status bridge.TransferStatus, chain string, fromBlock uint64) ([]bridge.UserTransfer, error) {
	filter := bson.M{
		"status":       status,
		"chain_symbol": chain,
		"block_number": bson.M{"$gte": fromBlock},
	}
	cursor, err := s.transfers().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "block_number", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []bridge.UserTransfer
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TransfersByStatusLimit is TransfersByStatus with a batch cap, used by the
// vault depositor.
func (s *Store) TransfersByStatusLimit(ctx context.Context, status bridge.TransferStatus, chain string, limit int64) ([]bridge.UserTransfer, error) {
	filter := bson.M{"status": status, "chain_symbol": chain}
	cursor, err := s.transfers().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "block_number", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []bridge.UserTransfer
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkFinalized atomically flips PENDING transfers at or below
// finalizedBlock, restricted to the verified tx hash set, to FINALIZED.
// Returns the number of rows promoted.
func (s *Store) MarkFinalized(ctx context.Context, chain string, finalizedBlock uint64, txHashes []string) (int64, error) {
	if len(txHashes) == 0 {
		return 0, nil
	}
	filter := bson.M{
		"chain_symbol": chain,
		"status":       bridge.TransferPending,
		"block_number": bson.M{"$lte": finalizedBlock},
		"tx_hash":      bson.M{"$in": txHashes},
	}
	res, err := s.transfers().UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"status": bridge.TransferFinalized}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MarkReorg flips transfers with the given status in [fromBlock, toBlock]
// to REORG. Returns the number of rows demoted.
func (s *Store) MarkReorg(ctx context.Context, chain string, fromBlock, toBlock uint64, status bridge.TransferStatus) (int64, error) {
	filter := bson.M{
		"chain_symbol": chain,
		"status":       status,
		"block_number": bson.M{"$gte": fromBlock, "$lte": toBlock},
	}
	res, err := s.transfers().UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"status": bridge.TransferReorg}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// UpsertTransfer writes back a transfer keyed by (tx_hash, chain, index).
func (s *Store) UpsertTransfer(ctx context.Context, transfer bridge.UserTransfer) error {
	filter := bson.M{
		"tx_hash":      transfer.TxHash,
		"chain_symbol": transfer.Chain,
		"index":        transfer.Index,
	}
	_, err := s.transfers().UpdateOne(ctx, filter,
		bson.M{"$set": transfer}, options.Update().SetUpsert(true))
	return err
}

// PendingBlockNumbers returns the distinct block numbers of PENDING
// transfers at or below finalizedBlock, ascending.
func (s *Store) PendingBlockNumbers(ctx context.Context, chain string, finalizedBlock uint64) ([]uint64, error) {
	filter := bson.M{
		"chain_symbol": chain,
		"status":       bridge.TransferPending,
		"block_number": bson.M{"$lte": finalizedBlock},
	}
	raw, err := s.transfers().Distinct(ctx, "block_number", filter)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int64:
			out = append(out, uint64(n))
		case int32:
			out = append(out, uint64(n))
		}
	}
	return out, nil
}
