package sa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second)
}

func testKey() *DKGKey {
	return &DKGKey{Name: "ethereum", PublicKey: "02abcd", Party: []string{"n1", "n2"}, Threshold: 2}
}

func TestRequestNonces(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/nonces", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["request_id"])
		assert.Equal(t, float64(1), req["number_of_nonces"])
		fmt.Fprint(w, `{"n1":{"data":["nonce-1"]},"n2":{"data":["nonce-2"]}}`)
	}))

	nonces, err := client.RequestNonces(context.Background(), []string{"n1", "n2"}, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"n1": "nonce-1", "n2": "nonce-2"}, nonces)
}

func TestRequestNoncesEmptyNode(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"n1":{"data":[]}}`)
	}))
	_, err := client.RequestNonces(context.Background(), []string{"n1"}, 1)
	assert.Error(t, err)
}

func TestRequestSignatureSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sign", r.URL.Path)
		var req struct {
			Data SignRequestData `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "withdraw", req.Data.Method)
		assert.Equal(t, "OPT", req.Data.Data.ChainSymbol)
		assert.Equal(t, uint64(17), req.Data.Data.SAWithdrawNonce)
		fmt.Fprint(w, `{"result":"SUCCESSFUL","message_hash":"0xbeef","signature":"99","nonce":"0x5555"}`)
	}))

	result, err := client.RequestSignature(context.Background(), testKey(), map[string]string{"n1": "x"}, WithdrawSignData("OPT", 17))
	require.NoError(t, err)
	assert.Equal(t, "0xbeef", result.MessageHash)
	assert.Equal(t, "99", result.Signature.String())
	assert.Equal(t, "0x5555", result.Nonce)
}

func TestRequestSignatureRefusal(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":"NOT_VERIFIED"}`)
	}))

	_, err := client.RequestSignature(context.Background(), testKey(), nil, WithdrawSignData("OPT", 17))
	var resultErr *ResultError
	require.ErrorAs(t, err, &resultErr)
	assert.Equal(t, "NOT_VERIFIED", resultErr.Result)
}

func TestRequestSignatureHTTPError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	_, err := client.RequestSignature(context.Background(), testKey(), nil, WithdrawSignData("OPT", 1))
	assert.Error(t, err)
}
