// Package sa is the client of the external signing aggregator. The
// aggregator fans a sign request out to the DKG party, each validator
// independently fetches the referenced withdraw from the exchange, and the
// aggregator returns the threshold signature together with the message hash
// the quorum signed. Reconciling that hash against the locally computed one
// is the caller's job.
package sa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

// ResultSuccessful is the aggregator's terminal success marker.
const ResultSuccessful = "SUCCESSFUL"

// ResultError is returned when the aggregate result is anything but
// SUCCESSFUL; the caller logs and retries on the next poll.
type ResultError struct {
	Result string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("aggregator result %q", e.Result)
}

// SignRequestData identifies the withdraw each validator must fetch and
// hash independently.
type SignRequestData struct {
	Method string `json:"method"`
	Data   struct {
		ChainSymbol     string `json:"chain_symbol"`
		SAWithdrawNonce uint64 `json:"sa_withdraw_nonce"`
	} `json:"data"`
}

// WithdrawSignData builds the request payload for one withdraw.
func WithdrawSignData(chain string, nonce uint64) SignRequestData {
	var d SignRequestData
	d.Method = "withdraw"
	d.Data.ChainSymbol = chain
	d.Data.SAWithdrawNonce = nonce
	return d
}

// SignResult is the aggregate signing outcome.
type SignResult struct {
	Result      string         `json:"result"`
	MessageHash string         `json:"message_hash"`
	Signature   *bridge.BigInt `json:"signature"`
	Nonce       string         `json:"nonce"`
}

// Client talks to the aggregator. One shared connection, serialized per
// withdraw by the coordinator.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// RequestNonces asks the party for count fresh signing nonces per member.
func (c *Client) RequestNonces(ctx context.Context, party []string, count int) (map[string]string, error) {
	req := map[string]interface{}{
		"request_id":       uuid.NewString(),
		"party":            party,
		"number_of_nonces": count,
	}
	var resp map[string]struct {
		Data []string `json:"data"`
	}
	if err := c.post(ctx, "/v1/nonces", req, &resp); err != nil {
		return nil, err
	}
	nonces := make(map[string]string, len(resp))
	for id, entry := range resp {
		if len(entry.Data) == 0 {
			return nil, fmt.Errorf("node %s returned no nonces", id)
		}
		nonces[id] = entry.Data[0]
	}
	return nonces, nil
}

// RequestSignature submits a sign request and returns the aggregate result.
// A non-SUCCESSFUL result is surfaced as *ResultError.
func (c *Client) RequestSignature(ctx context.Context, key *DKGKey, nonces map[string]string, data SignRequestData) (*SignResult, error) {
	req := map[string]interface{}{
		"request_id": uuid.NewString(),
		"dkg_key":    key.PublicKey,
		"nonces":     nonces,
		"data":       data,
		"party":      key.Party,
	}
	var result SignResult
	if err := c.post(ctx, "/v1/sign", req, &result); err != nil {
		return nil, err
	}
	if result.Result != ResultSuccessful {
		return nil, &ResultError{Result: result.Result}
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("aggregator %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("aggregator %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("aggregator %s: status %d: %s", path, resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("aggregator %s: decode: %w", path, err)
	}
	return nil
}
