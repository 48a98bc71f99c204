// Package zex is the read-only HTTP client to the exchange API. The core
// consumes three endpoints: the latest registered user id, the withdraw
// queue per chain, and per-user asset balances.
package zex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/clients"
)

// APIError wraps any exchange-side failure so callers can skip the cycle
// without touching persisted state.
type APIError struct {
	Op     string
	Status int
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("zex api %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("zex api %s: status %d", e.Op, e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// Client calls the exchange. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the given base URL (e.g. https://api.zex.finance/v1).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// LatestUserID returns the id of the most recently registered user, ok=false
// when the exchange has no users yet.
func (c *Client) LatestUserID(ctx context.Context) (uint64, bool, error) {
	body, err := c.get(ctx, "/users/latest-id")
	if err != nil {
		return 0, false, err
	}
	id, parseErr := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if parseErr != nil {
		return 0, false, &APIError{Op: "users/latest-id", Err: clients.Formatf("%q: %v", body, parseErr)}
	}
	return id, true, nil
}

// withdrawPayload is the exchange's wire shape for one withdraw.
type withdrawPayload struct {
	Nonce        uint64         `json:"nonce"`
	Chain        string         `json:"chain"`
	UserID       uint64         `json:"user_id"`
	Recipient    string         `json:"recipient"`
	TokenAddress string         `json:"token_address"`
	Amount       *bridge.BigInt `json:"amount"`
}

// Withdraws pulls up to limit withdraws for the chain starting at offset
// (the withdraw nonce). New rows enter the Store as PENDING.
func (c *Client) Withdraws(ctx context.Context, chain string, offset uint64, limit int) ([]bridge.WithdrawRequest, error) {
	path := fmt.Sprintf("/withdraws?chain=%s&offset=%d&limit=%d", chain, offset, limit)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var payloads []withdrawPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, &APIError{Op: "withdraws", Err: clients.Formatf("%v", err)}
	}
	out := make([]bridge.WithdrawRequest, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, bridge.WithdrawRequest{
			Nonce:        p.Nonce,
			Chain:        chain,
			UserID:       p.UserID,
			Recipient:    p.Recipient,
			TokenAddress: p.TokenAddress,
			Amount:       p.Amount,
			Status:       bridge.WithdrawPending,
		})
	}
	return out, nil
}

// Asset is one user balance entry.
type Asset struct {
	Token  string         `json:"token"`
	Chain  string         `json:"chain"`
	Amount *bridge.BigInt `json:"amount"`
}

// UserAssets lists the balances the exchange credits to a user.
func (c *Client) UserAssets(ctx context.Context, userID uint64) ([]Asset, error) {
	body, err := c.get(ctx, fmt.Sprintf("/users/%d/assets", userID))
	if err != nil {
		return nil, err
	}
	var assets []Asset
	if err := json.Unmarshal(body, &assets); err != nil {
		return nil, &APIError{Op: "users/assets", Err: clients.Formatf("%v", err)}
	}
	return assets, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &APIError{Op: path, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Op: path, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Op: path, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: path, Status: resp.StatusCode}
	}
	return body, nil
}
