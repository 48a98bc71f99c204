// Package evm implements the ChainClient capability set for EVM-family
// chains on top of go-ethereum's ethclient.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/clients"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
)

// erc20TransferTopic = keccak256("Transfer(address,address,uint256)").
var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// decimalsSelector is the 4-byte selector of decimals().
var decimalsSelector = crypto.Keccak256([]byte("decimals()"))[:4]

// Client talks to one EVM chain. Safe for concurrent use.
type Client struct {
	eth *ethclient.Client
	cfg config.ChainConfig
	log logger.Logger

	decimalsMu sync.Mutex
	decimals   map[string]int
}

// Dial connects and verifies the chain id matches the configuration.
func Dial(ctx context.Context, cfg config.ChainConfig, log logger.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.PrivateRPC)
	if err != nil {
		return nil, clients.Transient(err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, clients.Transient(err)
	}
	if chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain %s: rpc reports chain id %d, config says %d",
			cfg.Symbol, chainID.Int64(), cfg.ChainID)
	}
	return &Client{
		eth:      eth,
		cfg:      cfg,
		log:      log,
		decimals: make(map[string]int),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Raw exposes the underlying ethclient for transaction submission paths.
func (c *Client) Raw() *ethclient.Client {
	return c.eth
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int {
	return big.NewInt(c.cfg.ChainID)
}

// Symbol returns the chain tag.
func (c *Client) Symbol() string {
	return c.cfg.Symbol
}

// LatestBlock returns the current head number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// FinalizedBlock is latest minus the configured confirmation depth.
func (c *Client) FinalizedBlock(ctx context.Context) (uint64, error) {
	latest, err := c.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	if latest < c.cfg.FinalizeBlockCount {
		return 0, nil
	}
	return latest - c.cfg.FinalizeBlockCount, nil
}

// BlockTxHashes returns the hashes of all transactions in block n.
func (c *Client) BlockTxHashes(ctx context.Context, n uint64) ([]string, error) {
	block, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, mapErr(err)
	}
	hashes := make([]string, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		hashes = append(hashes, tx.Hash().Hex())
	}
	return hashes, nil
}

// ExtractTransfers returns the native-value transfers of block n. ERC-20
// transfers are extracted per batch via ExtractLogTransfers.
func (c *Client) ExtractTransfers(ctx context.Context, n uint64) ([]bridge.Transfer, error) {
	block, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return nil, mapErr(err)
	}
	var transfers []bridge.Transfer
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil || tx.Value().Sign() <= 0 {
			continue
		}
		transfers = append(transfers, bridge.Transfer{
			TxHash:      tx.Hash().Hex(),
			BlockNumber: n,
			Chain:       c.cfg.Symbol,
			To:          to.Hex(),
			Token:       bridge.EVMNativeToken,
			Value:       bridge.NewBigInt(tx.Value()),
		})
	}
	return transfers, nil
}

// ExtractLogTransfers returns ERC-20 Transfer events in [from, to].
func (c *Client) ExtractLogTransfers(ctx context.Context, from, to uint64) ([]bridge.Transfer, error) {
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{{erc20TransferTopic}},
	})
	if err != nil {
		return nil, mapErr(err)
	}
	var transfers []bridge.Transfer
	for _, lg := range logs {
		if lg.Removed || len(lg.Topics) != 3 || len(lg.Data) != 32 {
			continue
		}
		recipient := common.BytesToAddress(lg.Topics[2].Bytes())
		transfers = append(transfers, bridge.Transfer{
			TxHash:      lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
			Chain:       c.cfg.Symbol,
			To:          recipient.Hex(),
			Token:       lg.Address.Hex(),
			Value:       bridge.NewBigInt(new(big.Int).SetBytes(lg.Data)),
		})
	}
	return transfers, nil
}

// TxReceipt fetches a receipt, mapping absence to ErrNotFound.
func (c *Client) TxReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, mapErr(err)
	}
	return receipt, nil
}

// TransactionSuccessful reports whether the tx is mined with status 1.
func (c *Client) TransactionSuccessful(ctx context.Context, txHash string) (bool, error) {
	receipt, err := c.TxReceipt(ctx, txHash)
	if err != nil {
		return false, err
	}
	return receipt.Status == types.ReceiptStatusSuccessful, nil
}

// TokenDecimals calls decimals() and memoizes the result per token.
func (c *Client) TokenDecimals(ctx context.Context, token string) (int, error) {
	c.decimalsMu.Lock()
	if d, ok := c.decimals[token]; ok {
		c.decimalsMu.Unlock()
		return d, nil
	}
	c.decimalsMu.Unlock()

	addr := common.HexToAddress(token)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: decimalsSelector}, nil)
	if err != nil {
		return 0, mapErr(err)
	}
	if len(out) < 32 {
		return 0, clients.Formatf("decimals() returned %d bytes for %s", len(out), token)
	}
	d := int(new(big.Int).SetBytes(out).Int64())

	c.decimalsMu.Lock()
	c.decimals[token] = d
	c.decimalsMu.Unlock()
	return d, nil
}

// Call executes a read-only contract call against the latest state. The
// raw error is returned unclassified so callers can inspect revert data.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// CodeAt returns the contract code at addr, empty for an EOA.
func (c *Client) CodeAt(ctx context.Context, addr string) ([]byte, error) {
	code, err := c.eth.CodeAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		return nil, mapErr(err)
	}
	return code, nil
}

// PendingNonce returns the pending-state nonce of addr.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, mapErr(err)
	}
	return nonce, nil
}

// SuggestGasPrice proxies eth_gasPrice.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return price, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return mapErr(err)
	}
	return nil
}

// WaitForReceipt polls until the tx is mined or ctx expires.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash, interval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.log.Printf("error getting receipt for %s: %v", txHash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// mapErr classifies an ethclient error into the shared taxonomy.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ethereum.NotFound):
		return fmt.Errorf("%w: %s", clients.ErrNotFound, err)
	case strings.Contains(err.Error(), "not found"):
		return fmt.Errorf("%w: %s", clients.ErrNotFound, err)
	default:
		return clients.Transient(err)
	}
}
