// Package deposit sweeps verified deposits into the vault. Funds land on
// per-user CREATE2 contracts; the depositor either deploys the contract
// (first deposit for a user) or calls its transfer entrypoint to forward
// the balance to the vault.
package deposit

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/metrics"
)

// Gas ceilings per transaction kind. Fixed rather than estimated: the
// callee code is ours and its cost is known.
const (
	gasContractDeploy = 1_560_000
	gasNativeTransfer = 55_000
	gasERC20Transfer  = 65_000
)

const receiptPollInterval = 3 * time.Second

// TxKind tags the two sweep transaction shapes.
type TxKind string

const (
	TxContractDeploy TxKind = "contract_deploy"
	TxTokenTransfer  TxKind = "token_transfer"
)

const factoryABIJSON = `[
  {"type":"function","name":"deploy","inputs":[{"name":"salt","type":"uint256"}],"outputs":[]}
]`

const userDepositABIJSON = `[
  {"type":"function","name":"transferNativeToken","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"transferERC20","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// EVMClient is the capability subset the depositor consumes.
type EVMClient interface {
	Symbol() string
	ChainID() *big.Int
	CodeAt(ctx context.Context, addr string) ([]byte, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitForReceipt(ctx context.Context, txHash common.Hash, interval time.Duration) (*types.Receipt, error)
}

// Store is the persistence surface the depositor consumes.
type Store interface {
	TransfersByStatusLimit(ctx context.Context, status bridge.TransferStatus, chain string, limit int64) ([]bridge.UserTransfer, error)
	UpsertTransfer(ctx context.Context, transfer bridge.UserTransfer) error
}

// sweep binds one deposit to the transaction built for it, so receipts are
// matched back by identity rather than by slice position.
type sweep struct {
	deposit bridge.UserTransfer
	kind    TxKind
	tx      *types.Transaction
	sent    bool
}

// Depositor sweeps one EVM chain.
type Depositor struct {
	cfg       config.ChainConfig
	client    EVMClient
	store     Store
	key       *ecdsa.PrivateKey
	sender    common.Address
	factory   common.Address
	batchSize int64
	log       logger.Logger

	factoryABI abi.ABI
	depositABI abi.ABI
}

// New builds a depositor. factory is the CREATE2 factory address; key is
// the funded sender account.
func New(cfg config.ChainConfig, client EVMClient, st Store, key *ecdsa.PrivateKey, factory string, batchSize int64, log logger.Logger) (*Depositor, error) {
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, err
	}
	depositABI, err := abi.JSON(strings.NewReader(userDepositABIJSON))
	if err != nil {
		return nil, err
	}
	return &Depositor{
		cfg:        cfg,
		client:     client,
		store:      st,
		key:        key,
		sender:     crypto.PubkeyToAddress(key.PublicKey),
		factory:    common.HexToAddress(factory),
		batchSize:  batchSize,
		log:        logger.WithChain(log, cfg.Symbol),
		factoryABI: factoryABI,
		depositABI: depositABI,
	}, nil
}

// Run loops until ctx is done.
func (d *Depositor) Run(ctx context.Context) error {
	d.log.Printf("starting vault depositor loop")
	for {
		if err := d.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Printf("iteration failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.Delay):
		}
	}
}

// runOnce sweeps one batch of VERIFIED deposits. The nonce is read once and
// incremented locally; broadcast and receipt-wait fan out per sweep, and a
// failed sweep leaves its deposit VERIFIED for the next cycle.
func (d *Depositor) runOnce(ctx context.Context) error {
	deposits, err := d.store.TransfersByStatusLimit(ctx, bridge.TransferVerified, d.cfg.Symbol, d.batchSize)
	if err != nil {
		return err
	}
	if len(deposits) == 0 {
		return nil
	}

	nonce, err := d.client.PendingNonce(ctx, d.sender)
	if err != nil {
		return err
	}
	gasPrice, err := d.client.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}

	sweeps := make([]*sweep, 0, len(deposits))
	for _, deposit := range deposits {
		sw, err := d.buildSweep(ctx, deposit, nonce, gasPrice)
		if err != nil {
			d.log.Printf("building sweep for %s failed: %v", deposit.TxHash, err)
			continue
		}
		sweeps = append(sweeps, sw)
		nonce++
	}
	if len(sweeps) == 0 {
		return nil
	}

	d.broadcast(ctx, sweeps)
	d.gatherReceipts(ctx, sweeps)
	return nil
}

// buildSweep decides deploy-vs-transfer for one deposit and signs the tx.
func (d *Depositor) buildSweep(ctx context.Context, deposit bridge.UserTransfer, nonce uint64, gasPrice *big.Int) (*sweep, error) {
	code, err := d.client.CodeAt(ctx, deposit.To)
	if err != nil {
		return nil, err
	}

	var (
		kind TxKind
		to   common.Address
		gas  uint64
		data []byte
	)
	if len(code) == 0 {
		kind = TxContractDeploy
		to = d.factory
		gas = gasContractDeploy
		data, err = d.factoryABI.Pack("deploy", new(big.Int).SetUint64(deposit.UserID))
	} else if deposit.Token == bridge.EVMNativeToken {
		kind = TxTokenTransfer
		to = common.HexToAddress(deposit.To)
		gas = gasNativeTransfer
		data, err = d.depositABI.Pack("transferNativeToken", &deposit.Value.Int)
	} else {
		kind = TxTokenTransfer
		to = common.HexToAddress(deposit.To)
		gas = gasERC20Transfer
		data, err = d.depositABI.Pack("transferERC20", common.HexToAddress(deposit.Token), &deposit.Value.Int)
	}
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", kind, err)
	}

	tx := types.NewTransaction(nonce, to, new(big.Int), gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(d.client.ChainID()), d.key)
	if err != nil {
		return nil, err
	}
	return &sweep{deposit: deposit, kind: kind, tx: signed}, nil
}

// broadcast sends all sweeps concurrently. Nonce ordering is preserved by
// the node's mempool, not by send order.
func (d *Depositor) broadcast(ctx context.Context, sweeps []*sweep) {
	var wg sync.WaitGroup
	for _, sw := range sweeps {
		sw := sw
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.client.SendTransaction(ctx, sw.tx); err != nil {
				d.log.Printf("broadcast %s for %s failed: %v", sw.kind, sw.deposit.TxHash, err)
				return
			}
			sw.sent = true
		}()
	}
	wg.Wait()
}

// gatherReceipts waits for all sent sweeps concurrently and applies the
// status transitions: a successful TOKEN_TRANSFER promotes its deposit to
// SUCCESSFUL, a CONTRACT_DEPLOY leaves it VERIFIED for the next pass.
func (d *Depositor) gatherReceipts(ctx context.Context, sweeps []*sweep) {
	var wg sync.WaitGroup
	for _, sw := range sweeps {
		sw := sw
		if !sw.sent {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := d.client.WaitForReceipt(ctx, sw.tx.Hash(), receiptPollInterval)
			if err != nil {
				d.log.Printf("receipt for %s (%s) failed: %v", sw.tx.Hash(), sw.kind, err)
				return
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				d.log.Printf("sweep %s for %s reverted", sw.kind, sw.deposit.TxHash)
				return
			}
			metrics.VaultSweeps.WithLabelValues(d.cfg.Symbol, string(sw.kind)).Inc()
			if sw.kind != TxTokenTransfer {
				d.log.Printf("deployed user deposit contract for user %d", sw.deposit.UserID)
				return
			}
			sw.deposit.Status = bridge.TransferSuccessful
			if err := d.store.UpsertTransfer(ctx, sw.deposit); err != nil {
				d.log.Printf("persisting swept deposit %s failed: %v", sw.deposit.TxHash, err)
			}
		}()
	}
	wg.Wait()
}
