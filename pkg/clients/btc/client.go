// Package btc implements the ChainClient capability set for Bitcoin on top
// of an esplora/electrs-compatible indexer. Raw transactions are submitted
// through POST /tx; everything else is read from the indexer JSON API.
package btc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/clients"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
)

// txsPerPage is the fixed esplora page size for /block/{hash}/txs/{start}.
const txsPerPage = 25

// feeTargetBlocks is the confirmation target used for fee estimation.
const feeTargetBlocks = "6"

// Client talks to one Bitcoin indexer. Safe for concurrent use.
type Client struct {
	cfg  config.ChainConfig
	http *http.Client
	log  logger.Logger
}

// New builds a client for the configured indexer endpoints.
func New(cfg config.ChainConfig, log logger.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// Symbol returns the chain tag.
func (c *Client) Symbol() string {
	return c.cfg.Symbol
}

// LatestBlock returns the indexer tip height.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, clients.Formatf("tip height %q: %v", body, err)
	}
	return height, nil
}

// FinalizedBlock is latest minus the configured confirmation depth
// (typically 6).
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

// blockHash resolves a height to a block hash.
func (c *Client) blockHash(ctx context.Context, height uint64) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// blockTxs pages through all transactions of a block.
func (c *Client) blockTxs(ctx context.Context, height uint64) ([]Tx, error) {
	hash, err := c.blockHash(ctx, height)
	if err != nil {
		return nil, err
	}
	var all []Tx
	for start := 0; ; start += txsPerPage {
		body, err := c.get(ctx, fmt.Sprintf("/block/%s/txs/%d", hash, start))
		if err != nil {
			if clients.IsNotFound(err) && start > 0 {
				break
			}
			return nil, err
		}
		var page []Tx
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, clients.Formatf("block txs page: %v", err)
		}
		all = append(all, page...)
		if len(page) < txsPerPage {
			break
		}
	}
	return all, nil
}

// BlockTxHashes returns the txids of block n.
func (c *Client) BlockTxHashes(ctx context.Context, n uint64) ([]string, error) {
	txs, err := c.blockTxs(ctx, n)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(txs))
	for _, tx := range txs {
		hashes = append(hashes, tx.TxID)
	}
	return hashes, nil
}

// ExtractTransfers yields one transfer per address-bearing vout of block n.
// Single pass over the block; identity is (txid, vout index).
func (c *Client) ExtractTransfers(ctx context.Context, n uint64) ([]bridge.Transfer, error) {
	txs, err := c.blockTxs(ctx, n)
	if err != nil {
		return nil, err
	}
	var transfers []bridge.Transfer
	for _, tx := range txs {
		transfers = append(transfers, parseTransfers(tx, c.cfg.Symbol, n)...)
	}
	return transfers, nil
}

// parseTransfers converts the address-bearing outputs of tx.
func parseTransfers(tx Tx, chain string, height uint64) []bridge.Transfer {
	var out []bridge.Transfer
	for i, vout := range tx.Vout {
		if vout.ScriptPubKeyAddress == "" {
			continue
		}
		out = append(out, bridge.Transfer{
			TxHash:      tx.TxID,
			BlockNumber: height,
			Chain:       chain,
			To:          vout.ScriptPubKeyAddress,
			Token:       bridge.EVMNativeToken,
			Value:       bridge.NewBigIntFromUint64(uint64(vout.Value)),
			Index:       uint32(i),
		})
	}
	return out
}

// TxByHash fetches one transaction.
func (c *Client) TxByHash(ctx context.Context, txid string) (*Tx, error) {
	body, err := c.get(ctx, "/tx/"+txid)
	if err != nil {
		return nil, err
	}
	var tx Tx
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, clients.Formatf("tx %s: %v", txid, err)
	}
	return &tx, nil
}

// TransactionSuccessful reports whether the tx is known to the indexer.
func (c *Client) TransactionSuccessful(ctx context.Context, txid string) (bool, error) {
	if _, err := c.TxByHash(ctx, txid); err != nil {
		if clients.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TokenDecimals is constant on Bitcoin.
func (c *Client) TokenDecimals(ctx context.Context, token string) (int, error) {
	return bridge.BTCDecimals, nil
}

// FeeEstimate returns sat/vByte for the configured confirmation target,
// never below 1.
func (c *Client) FeeEstimate(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/fee-estimates")
	if err != nil {
		return 0, err
	}
	estimates := map[string]float64{}
	if err := json.Unmarshal(body, &estimates); err != nil {
		return 0, clients.Formatf("fee estimates: %v", err)
	}
	rate, ok := estimates[feeTargetBlocks]
	if !ok || rate < 1 {
		return 1, nil
	}
	return int64(math.Ceil(rate)), nil
}

// SendRaw broadcasts a signed raw transaction (hex) and returns the txid.
func (c *Client) SendRaw(ctx context.Context, rawHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.PrivateRPC, "/")+"/tx", strings.NewReader(rawHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", clients.Transient(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", clients.Transientf("sendtx status %d: %s", resp.StatusCode, body)
	}
	return strings.TrimSpace(string(body)), nil
}

// get performs an indexer GET with taxonomy-mapped failures.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	url := strings.TrimRight(c.cfg.IndexerRPC, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, clients.Transient(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, clients.Transient(err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, clients.NotFoundf("GET %s", path)
	case resp.StatusCode >= 500:
		return nil, clients.Transientf("GET %s: status %d", path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, clients.Formatf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}
	return body, nil
}
