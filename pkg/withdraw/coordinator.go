package withdraw

import (
	"context"
	"errors"
	"time"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/clients"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/metrics"
	"github.com/zellular-xyz/zexporta-go/pkg/sa"
)

// transientBackoff is the sleep after an RPC or aggregator outage before
// the queue is retried.
const transientBackoff = 60 * time.Second

// CoordinatorStore is the persistence surface the coordinator consumes.
type CoordinatorStore interface {
	InsertWithdrawsUnique(ctx context.Context, withdraws []bridge.WithdrawRequest) error
	FindWithdrawsByStatus(ctx context.Context, chain string, status bridge.WithdrawStatus, fromNonce uint64) ([]bridge.WithdrawRequest, error)
	LastWithdrawNonce(ctx context.Context, chain string) (uint64, bool, error)
	UpsertWithdraw(ctx context.Context, withdraw bridge.WithdrawRequest) error
}

// Exchange feeds the withdraw queue.
type Exchange interface {
	Withdraws(ctx context.Context, chain string, offset uint64, limit int) ([]bridge.WithdrawRequest, error)
}

// Aggregator is the threshold-signing surface (EVM path only).
type Aggregator interface {
	RequestNonces(ctx context.Context, party []string, count int) (map[string]string, error)
	RequestSignature(ctx context.Context, key *sa.DKGKey, nonces map[string]string, data sa.SignRequestData) (*sa.SignResult, error)
}

// Coordinator drains one chain's withdraw queue in ascending nonce order.
// Terminal statuses are never left; everything non-terminal is retried.
type Coordinator struct {
	cfg   config.ChainConfig
	store CoordinatorStore
	zex   Exchange
	log   logger.Logger

	// EVM path.
	agg Aggregator
	dkg *sa.DKGKey
	evm *EVMProcessor

	// BTC path.
	btc *BTCProcessor

	delay time.Duration
	batch int
}

// NewEVMCoordinator wires the aggregator-signed vault path.
func NewEVMCoordinator(cfg config.ChainConfig, st CoordinatorStore, exchange Exchange, agg Aggregator, dkg *sa.DKGKey, proc *EVMProcessor, delay time.Duration, batch int, log logger.Logger) *Coordinator {
	return &Coordinator{
		cfg: cfg, store: st, zex: exchange,
		agg: agg, dkg: dkg, evm: proc,
		delay: delay, batch: batch,
		log: logger.WithChain(log, cfg.Symbol),
	}
}

// NewBTCCoordinator wires the taproot spend path.
func NewBTCCoordinator(cfg config.ChainConfig, st CoordinatorStore, exchange Exchange, proc *BTCProcessor, delay time.Duration, batch int, log logger.Logger) *Coordinator {
	return &Coordinator{
		cfg: cfg, store: st, zex: exchange,
		btc:   proc,
		delay: delay, batch: batch,
		log: logger.WithChain(log, cfg.Symbol),
	}
}

// Run loops until ctx is done. Transient failures back off for a minute so
// a flapping RPC does not hammer the aggregator.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Printf("starting withdraw loop")
	for {
		sleep := c.delay
		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Printf("iteration failed: %v", err)
			if clients.IsTransient(err) {
				sleep = transientBackoff
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// runOnce pulls new withdraws from the exchange and advances the queue.
func (c *Coordinator) runOnce(ctx context.Context) error {
	if err := c.pull(ctx); err != nil {
		// The queue already persisted is still processable.
		c.log.Printf("pulling withdraws failed: %v", err)
	}

	queue, err := c.queue(ctx)
	if err != nil {
		return err
	}
	for i := range queue {
		w := queue[i]
		if w.Terminal() {
			continue
		}
		if err := c.processOne(ctx, &w); err != nil {
			return err
		}
	}
	return nil
}

// pull fetches withdraws past the highest persisted nonce and inserts the
// unseen ones as PENDING.
func (c *Coordinator) pull(ctx context.Context) error {
	offset := uint64(0)
	if last, ok, err := c.store.LastWithdrawNonce(ctx, c.cfg.Symbol); err != nil {
		return err
	} else if ok {
		offset = last + 1
	}
	withdraws, err := c.zex.Withdraws(ctx, c.cfg.Symbol, offset, c.batch)
	if err != nil {
		return err
	}
	if len(withdraws) == 0 {
		return nil
	}
	return c.store.InsertWithdrawsUnique(ctx, withdraws)
}

// queue lists the withdraws to attempt this cycle, ascending by nonce.
// PROCESSING rows are revisited first: on BTC they signal an interrupted
// attempt that must be resolved before new inputs are assigned.
func (c *Coordinator) queue(ctx context.Context) ([]bridge.WithdrawRequest, error) {
	processing, err := c.store.FindWithdrawsByStatus(ctx, c.cfg.Symbol, bridge.WithdrawProcessing, 0)
	if err != nil {
		return nil, err
	}
	pending, err := c.store.FindWithdrawsByStatus(ctx, c.cfg.Symbol, bridge.WithdrawPending, 0)
	if err != nil {
		return nil, err
	}
	return append(processing, pending...), nil
}

// processOne advances a single withdraw. A returned error aborts the cycle
// (transient); terminal conditions are persisted here and return nil.
func (c *Coordinator) processOne(ctx context.Context, w *bridge.WithdrawRequest) error {
	var err error
	if c.btc != nil {
		err = c.processBTC(ctx, w)
	} else {
		err = c.processEVM(ctx, w)
	}

	switch {
	case err == nil:
		metrics.Withdraws.WithLabelValues(c.cfg.Symbol, string(bridge.WithdrawSuccessful)).Inc()
		return nil
	case isTerminal(err):
		c.log.Printf("withdraw %d rejected: %v", w.Nonce, err)
		w.Status = bridge.WithdrawRejected
		if uerr := c.store.UpsertWithdraw(ctx, *w); uerr != nil {
			return uerr
		}
		metrics.Withdraws.WithLabelValues(c.cfg.Symbol, string(bridge.WithdrawRejected)).Inc()
		return nil
	case errors.Is(err, ErrNotEnoughInputs):
		// Wait for deposits to replenish the UTXO set.
		c.log.Printf("withdraw %d deferred: %v", w.Nonce, err)
		return nil
	default:
		var resultErr *sa.ResultError
		if errors.As(err, &resultErr) {
			// Validator-side refusal: retried on the next poll.
			c.log.Printf("withdraw %d not signed: %v", w.Nonce, err)
			return nil
		}
		return err
	}
}

// processEVM runs the aggregator-sign-then-broadcast path for one withdraw.
func (c *Coordinator) processEVM(ctx context.Context, w *bridge.WithdrawRequest) error {
	nonces, err := c.agg.RequestNonces(ctx, c.dkg.Party, 1)
	if err != nil {
		return err
	}
	result, err := c.agg.RequestSignature(ctx, c.dkg, nonces, sa.WithdrawSignData(c.cfg.Symbol, w.Nonce))
	if err != nil {
		return err
	}

	local := Hash(w.TokenAddress, &w.Amount.Int, w.Recipient, w.Nonce)
	if !SameHash(local, result.MessageHash) {
		return &HashMismatchError{Nonce: w.Nonce, Local: local.Hex(), Remote: result.MessageHash}
	}

	txHash, err := c.evm.Process(ctx, w, result)
	if err != nil {
		return err
	}
	w.TxHash = txHash
	w.Status = bridge.WithdrawSuccessful
	return c.store.UpsertWithdraw(ctx, *w)
}

// processBTC delegates to the taproot processor, which persists the status
// transitions itself.
func (c *Coordinator) processBTC(ctx context.Context, w *bridge.WithdrawRequest) error {
	return c.btc.Process(ctx, w)
}

// isTerminal classifies errors that must park the withdraw in REJECTED.
func isTerminal(err error) bool {
	var (
		mismatch   *HashMismatchError
		assignment *UTXOAssignmentError
		contract   *ContractError
	)
	return errors.As(err, &mismatch) || errors.As(err, &assignment) || errors.As(err, &contract)
}
