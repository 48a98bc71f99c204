package observer

import (
	"context"
	"time"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/clients"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/metrics"
)

// FinalizerClient is the capability subset the finalizer consumes.
type FinalizerClient interface {
	Symbol() string
	FinalizedBlock(ctx context.Context) (uint64, error)
	TransactionSuccessful(ctx context.Context, txHash string) (bool, error)
}

// FinalizerStore is the persistence surface the finalizer consumes.
type FinalizerStore interface {
	TransfersByStatus(ctx context.Context, status bridge.TransferStatus, chain string, fromBlock uint64) ([]bridge.UserTransfer, error)
	MarkFinalized(ctx context.Context, chain string, finalizedBlock uint64, txHashes []string) (int64, error)
	MarkReorg(ctx context.Context, chain string, fromBlock, toBlock uint64, status bridge.TransferStatus) (int64, error)
}

// Finalizer promotes PENDING transfers whose block has passed the chain's
// finalization depth and still carries the transaction, and demotes the
// rest to REORG. It never re-observes; the observer owns the cursor.
type Finalizer struct {
	cfg    config.ChainConfig
	client FinalizerClient
	store  FinalizerStore
	log    logger.Logger
}

// NewFinalizer builds a finalizer for the chain.
func NewFinalizer(cfg config.ChainConfig, client FinalizerClient, st FinalizerStore, log logger.Logger) *Finalizer {
	return &Finalizer{
		cfg:    cfg,
		client: client,
		store:  st,
		log:    logger.WithChain(log, cfg.Symbol),
	}
}

// Run loops until ctx is done.
func (f *Finalizer) Run(ctx context.Context) error {
	f.log.Printf("starting finalization loop")
	for {
		if err := f.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Printf("iteration failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.Delay):
		}
	}
}

// runOnce checks every PENDING transfer at or below the finalized block.
// Transfers whose transaction is still live and successful are promoted in
// one batch; blocks that lost a transaction are demoted as a range so a
// reorg never leaves a partially finalized block behind.
func (f *Finalizer) runOnce(ctx context.Context) error {
	finalized, err := f.client.FinalizedBlock(ctx)
	if err != nil {
		return err
	}

	pending, err := f.store.TransfersByStatus(ctx, bridge.TransferPending, f.cfg.Symbol, 0)
	if err != nil {
		return err
	}

	var (
		confirmed []string
		reorgLow  uint64
		reorgHigh uint64
		reorged   bool
	)
	for _, transfer := range pending {
		if transfer.BlockNumber > finalized {
			// TransfersByStatus sorts by block ascending.
			break
		}
		ok, err := f.client.TransactionSuccessful(ctx, transfer.TxHash)
		switch {
		case err == nil && ok:
			confirmed = append(confirmed, transfer.TxHash)
		case err == nil, clients.IsNotFound(err):
			// Dropped by a reorg or mined into a failing context.
			if !reorged || transfer.BlockNumber < reorgLow {
				reorgLow = transfer.BlockNumber
			}
			if transfer.BlockNumber > reorgHigh {
				reorgHigh = transfer.BlockNumber
			}
			reorged = true
		default:
			return err
		}
	}

	if len(confirmed) > 0 {
		n, err := f.store.MarkFinalized(ctx, f.cfg.Symbol, finalized, confirmed)
		if err != nil {
			return err
		}
		if n > 0 {
			f.log.Printf("finalized %d transfers up to block %d", n, finalized)
			metrics.TransfersFinalized.WithLabelValues(f.cfg.Symbol).Add(float64(n))
		}
	}
	if reorged {
		n, err := f.store.MarkReorg(ctx, f.cfg.Symbol, reorgLow, reorgHigh, bridge.TransferPending)
		if err != nil {
			return err
		}
		f.log.Printf("reorg detected, demoted %d transfers in blocks %d..%d", n, reorgLow, reorgHigh)
		metrics.TransfersReorged.WithLabelValues(f.cfg.Symbol).Add(float64(n))
	}
	return nil
}
