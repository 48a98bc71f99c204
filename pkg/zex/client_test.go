package zex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestLatestUserID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/latest-id", r.URL.Path)
		fmt.Fprint(w, " 1234\n")
	}))

	id, ok, err := client.LatestUserID(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1234), id)
}

func TestLatestUserIDBadBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not-a-number")
	}))
	_, _, err := client.LatestUserID(context.Background())
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestWithdraws(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/withdraws", r.URL.Path)
		assert.Equal(t, "OPT", r.URL.Query().Get("chain"))
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[
			{"nonce":5,"chain":"OPT","user_id":42,"recipient":"0xabc","token_address":"0xdef","amount":"123456789012345678901234567890"}
		]`)
	}))

	withdraws, err := client.Withdraws(context.Background(), "OPT", 5, 10)
	require.NoError(t, err)
	require.Len(t, withdraws, 1)

	w := withdraws[0]
	assert.Equal(t, uint64(5), w.Nonce)
	assert.Equal(t, "OPT", w.Chain)
	assert.Equal(t, uint64(42), w.UserID)
	assert.Equal(t, "123456789012345678901234567890", w.Amount.String())
	assert.Equal(t, bridge.WithdrawPending, w.Status, "new withdraws enter as PENDING")
}

func TestWithdrawsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	withdraws, err := client.Withdraws(context.Background(), "OPT", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, withdraws)
}

func TestErrorStatusSurfacesAsAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, _, err := client.LatestUserID(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestUserAssets(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/42/assets", r.URL.Path)
		fmt.Fprint(w, `[{"token":"0xdef","chain":"OPT","amount":"7"}]`)
	}))
	assets, err := client.UserAssets(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "7", assets[0].Amount.String())
}
