// Package observer advances a per-chain cursor through new blocks, extracts
// transfers to tracked addresses, and persists both the transfers and the
// cursor. The loop invariant: after a successful iteration every block in
// (prev_cursor, new_cursor] has been processed and no transfer to a tracked
// address in that range is missing from the Store.
package observer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/clients"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/metrics"
)

// maxAddressBackfill bounds the address derivation work done per iteration
// so a cold start cannot stall block observation.
const maxAddressBackfill = 1024

// ChainClient is the capability subset the observer consumes.
type ChainClient interface {
	Symbol() string
	LatestBlock(ctx context.Context) (uint64, error)
	ExtractTransfers(ctx context.Context, block uint64) ([]bridge.Transfer, error)
	TransactionSuccessful(ctx context.Context, txHash string) (bool, error)
	TokenDecimals(ctx context.Context, token string) (int, error)
}

// LogTransferExtractor is implemented by the EVM client; ERC-20 Transfer
// events are pulled once per batch instead of per block.
type LogTransferExtractor interface {
	ExtractLogTransfers(ctx context.Context, from, to uint64) ([]bridge.Transfer, error)
}

// Store is the persistence surface the observer consumes.
type Store interface {
	GetCursor(ctx context.Context, chain string) (uint64, bool, error)
	UpsertCursor(ctx context.Context, chain string, block uint64) error
	ActiveAddresses(ctx context.Context, chain string) (map[string]uint64, error)
	LastUserID(ctx context.Context, chain string) (uint64, bool, error)
	InsertAddressesBatch(ctx context.Context, chain string, addrs []bridge.UserAddress) error
	InsertTransfersUnique(ctx context.Context, transfers []bridge.UserTransfer) error
	InsertUTXOsUnique(ctx context.Context, utxos []bridge.UTXO) error
	TokenDecimals(ctx context.Context, chain, token string) (int, bool, error)
	InsertToken(ctx context.Context, token bridge.Token) error
}

// Exchange reports newly registered users.
type Exchange interface {
	LatestUserID(ctx context.Context) (uint64, bool, error)
}

// DeriveFunc computes the deposit address for a user id.
type DeriveFunc func(userID uint64) (string, error)

// Observer watches one chain.
type Observer struct {
	cfg    config.ChainConfig
	client ChainClient
	store  Store
	zex    Exchange
	derive DeriveFunc
	log    logger.Logger

	// checkReceipts gates the per-transfer receipt confirmation (EVM).
	checkReceipts bool
	// ingestUTXOs persists an UNSPENT UTXO per matched transfer (BTC).
	ingestUTXOs bool

	// addrMu serializes address backfill so two iterations cannot race on
	// the last_user_id .. latest_zex_user_id range.
	addrMu sync.Mutex
}

// New builds an observer for the chain. The receipt check is enabled for
// EVM chains; UTXO ingestion for BTC chains.
func New(cfg config.ChainConfig, client ChainClient, st Store, exchange Exchange, derive DeriveFunc, log logger.Logger) *Observer {
	return &Observer{
		cfg:           cfg,
		client:        client,
		store:         st,
		zex:           exchange,
		derive:        derive,
		log:           logger.WithChain(log, cfg.Symbol),
		checkReceipts: cfg.Kind == bridge.ChainKindEVM,
		ingestUTXOs:   cfg.Kind == bridge.ChainKindBTC,
	}
}

// Run loops until ctx is done. Transient failures are logged and retried
// after the configured delay; the cursor never advances past a failed batch.
func (o *Observer) Run(ctx context.Context) error {
	o.log.Printf("starting observation loop")
	for {
		if err := o.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Printf("iteration failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.Delay):
		}
	}
}

// runOnce performs one observation iteration.
func (o *Observer) runOnce(ctx context.Context) error {
	latest, err := o.client.LatestBlock(ctx)
	if err != nil {
		if clients.IsNotFound(err) {
			o.log.Printf("latest block not found, retrying")
			return nil
		}
		return err
	}

	cursor, ok, err := o.store.GetCursor(ctx, o.cfg.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		// First observation: start at the head, do not replay history.
		o.log.Printf("no cursor yet, starting at block %d", latest)
		return o.store.UpsertCursor(ctx, o.cfg.Symbol, latest)
	}
	if cursor == latest {
		return nil
	}
	if cursor > latest {
		o.log.Printf("cursor %d is ahead of latest %d, rpc is lagging", cursor, latest)
		return nil
	}

	if err := o.backfillAddresses(ctx); err != nil {
		// Address backfill failures must not stall block observation.
		o.log.Printf("address backfill failed: %v", err)
	}

	accepted, err := o.store.ActiveAddresses(ctx, o.cfg.Symbol)
	if err != nil {
		return err
	}

	for _, batch := range BlockBatches(cursor+1, latest, o.cfg.BatchBlockSize) {
		transfers, err := o.observeBatch(ctx, batch, accepted)
		if err != nil {
			return err
		}
		if len(transfers) > 0 {
			if err := o.store.InsertTransfersUnique(ctx, transfers); err != nil {
				return err
			}
			if o.ingestUTXOs {
				if err := o.store.InsertUTXOsUnique(ctx, utxosFrom(transfers)); err != nil {
					return err
				}
			}
			metrics.TransfersObserved.WithLabelValues(o.cfg.Symbol).Add(float64(len(transfers)))
		}
		if err := o.store.UpsertCursor(ctx, o.cfg.Symbol, batch.High); err != nil {
			return err
		}
		metrics.ObserverCursor.WithLabelValues(o.cfg.Symbol).Set(float64(batch.High))
	}
	return nil
}

// observeBatch fetches the batch's blocks with a bounded fan-out, extracts
// raw transfers, and resolves the ones addressed to tracked users.
func (o *Observer) observeBatch(ctx context.Context, batch BlockRange, accepted map[string]uint64) ([]bridge.UserTransfer, error) {
	batchCtx, cancel := context.WithTimeout(ctx, o.cfg.Delay*time.Duration(batch.Len())+30*time.Second)
	defer cancel()

	perBlock := make([][]bridge.Transfer, batch.Len())
	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(batch.Len())
	for i := 0; i < batch.Len(); i++ {
		i := i
		g.Go(func() error {
			transfers, err := o.client.ExtractTransfers(gctx, batch.Low+uint64(i))
			if err != nil {
				return err
			}
			perBlock[i] = transfers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var raw []bridge.Transfer
	for _, transfers := range perBlock {
		raw = append(raw, transfers...)
	}
	if extractor, ok := o.client.(LogTransferExtractor); ok {
		logTransfers, err := extractor.ExtractLogTransfers(batchCtx, batch.Low, batch.High)
		if err != nil {
			return nil, err
		}
		raw = append(raw, logTransfers...)
	}
	return o.acceptTransfers(batchCtx, raw, accepted)
}

// acceptTransfers filters by the tracked address set and emits PENDING
// user transfers, confirming receipts and resolving decimals on the way.
func (o *Observer) acceptTransfers(ctx context.Context, raw []bridge.Transfer, accepted map[string]uint64) ([]bridge.UserTransfer, error) {
	var out []bridge.UserTransfer
	for _, transfer := range raw {
		userID, tracked := accepted[transfer.To]
		if !tracked {
			continue
		}
		if o.checkReceipts {
			ok, err := o.client.TransactionSuccessful(ctx, transfer.TxHash)
			if err != nil {
				if clients.IsNotFound(err) {
					o.log.Printf("receipt not found for %s, skipping", transfer.TxHash)
					continue
				}
				return nil, err
			}
			if !ok {
				continue
			}
		}
		decimals, err := o.resolveDecimals(ctx, transfer.Token)
		if err != nil {
			return nil, err
		}
		out = append(out, bridge.UserTransfer{
			Transfer: transfer,
			UserID:   userID,
			Decimals: decimals,
			Status:   bridge.TransferPending,
		})
	}
	return out, nil
}

// resolveDecimals consults the Store cache before the chain.
func (o *Observer) resolveDecimals(ctx context.Context, token string) (int, error) {
	decimals, ok, err := o.store.TokenDecimals(ctx, o.cfg.Symbol, token)
	if err != nil {
		return 0, err
	}
	if ok {
		return decimals, nil
	}
	decimals, err = o.client.TokenDecimals(ctx, token)
	if err != nil {
		return 0, err
	}
	if err := o.store.InsertToken(ctx, bridge.Token{
		Chain:    o.cfg.Symbol,
		Address:  token,
		Decimals: decimals,
	}); err != nil {
		return 0, err
	}
	return decimals, nil
}

// backfillAddresses derives and inserts addresses for users the exchange
// has registered since the last run. Work is bounded per iteration and the
// id range is strictly increasing.
func (o *Observer) backfillAddresses(ctx context.Context) error {
	o.addrMu.Lock()
	defer o.addrMu.Unlock()

	latestID, ok, err := o.zex.LatestUserID(ctx)
	if err != nil || !ok {
		return err
	}
	first := uint64(0)
	if last, exists, err := o.store.LastUserID(ctx, o.cfg.Symbol); err != nil {
		return err
	} else if exists {
		first = last + 1
	}
	if first > latestID {
		return nil
	}
	if latestID-first+1 > maxAddressBackfill {
		latestID = first + maxAddressBackfill - 1
	}

	addrs := make([]bridge.UserAddress, 0, latestID-first+1)
	for userID := first; userID <= latestID; userID++ {
		address, err := o.derive(userID)
		if err != nil {
			return err
		}
		addrs = append(addrs, bridge.UserAddress{
			UserID:   userID,
			Address:  address,
			Chain:    o.cfg.Symbol,
			IsActive: true,
		})
	}
	o.log.Printf("backfilling %d addresses (user ids %d..%d)", len(addrs), first, latestID)
	return o.store.InsertAddressesBatch(ctx, o.cfg.Symbol, addrs)
}

// utxosFrom converts BTC user transfers into UNSPENT outputs.
func utxosFrom(transfers []bridge.UserTransfer) []bridge.UTXO {
	utxos := make([]bridge.UTXO, 0, len(transfers))
	for _, t := range transfers {
		utxos = append(utxos, bridge.UTXO{
			Status:  bridge.UTXOUnspent,
			TxHash:  t.TxHash,
			Index:   t.Index,
			Address: t.To,
			Amount:  t.Value.Int64(),
			Salt:    t.UserID,
		})
	}
	return utxos
}

// BlockRange is an inclusive block interval.
type BlockRange struct {
	Low  uint64
	High uint64
}

// Len is the number of blocks in the range.
func (r BlockRange) Len() int {
	return int(r.High - r.Low + 1)
}

// BlockBatches partitions [from, to] into ranges of at most size blocks.
// size < 1 is treated as 1.
func BlockBatches(from, to uint64, size int) []BlockRange {
	if to < from {
		return nil
	}
	if size < 1 {
		size = 1
	}
	var batches []BlockRange
	for low := from; low <= to; low += uint64(size) {
		high := low + uint64(size) - 1
		if high > to {
			high = to
		}
		batches = append(batches, BlockRange{Low: low, High: high})
	}
	return batches
}
