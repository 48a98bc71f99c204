package btc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/clients"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
)

func TestParseTransfersKeepsVoutIndex(t *testing.T) {
	tx := Tx{
		TxID: "T",
		Vout: []Vout{
			{ScriptPubKey: "6a", Value: 0}, // op_return, no address
			{ScriptPubKeyAddress: "bc1p-user", Value: 50_000},
			{ScriptPubKeyAddress: "bc1p-change", Value: 1_234},
		},
	}

	transfers := parseTransfers(tx, "BTC", 830_000)
	require.Len(t, transfers, 2)

	first := transfers[0]
	assert.Equal(t, "T", first.TxHash)
	assert.Equal(t, uint32(1), first.Index, "index is the vout position, not the emit order")
	assert.Equal(t, "bc1p-user", first.To)
	assert.Equal(t, "50000", first.Value.String())
	assert.Equal(t, bridge.EVMNativeToken, first.Token)
	assert.Equal(t, uint64(830_000), first.BlockNumber)

	assert.Equal(t, uint32(2), transfers[1].Index)
}

func TestParseTransfersEmptyTx(t *testing.T) {
	assert.Empty(t, parseTransfers(Tx{TxID: "T"}, "BTC", 1))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.ChainConfig{
		Symbol:             "BTC",
		Kind:               bridge.ChainKindBTC,
		PrivateRPC:         srv.URL,
		IndexerRPC:         srv.URL,
		FinalizeBlockCount: 6,
	}, logger.Nop{})
}

func TestLatestAndFinalizedBlock(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/blocks/tip/height", r.URL.Path)
		fmt.Fprint(w, "830006\n")
	}))

	latest, err := client.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(830_006), latest)

	finalized, err := client.FinalizedBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(830_000), finalized)
}

func TestExtractTransfersPagesThroughBlock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/block-height/830000", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hash830000")
	})
	mux.HandleFunc("/block/hash830000/txs/0", func(w http.ResponseWriter, r *http.Request) {
		// A short page ends the pagination.
		fmt.Fprint(w, `[{"txid":"T","vout":[{"scriptpubkey_address":"bc1p-user","value":50000}]}]`)
	})
	client := newTestClient(t, mux)

	transfers, err := client.ExtractTransfers(context.Background(), 830_000)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "bc1p-user", transfers[0].To)
}

func TestFeeEstimate(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"1":30.5,"6":12.2,"144":2.0}`)
	}))
	rate, err := client.FeeEstimate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(13), rate, "rate is rounded up")
}

func TestFeeEstimateFloorsAtOne(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"6":0.4}`)
	}))
	rate, err := client.FeeEstimate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rate)
}

func TestSendRaw(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tx", r.URL.Path)
		fmt.Fprint(w, "deadbeef")
	}))
	txid, err := client.SendRaw(context.Background(), "0200aa")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", txid)
}

func TestGetMapsNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	_, err := client.TxByHash(context.Background(), "missing")
	assert.True(t, clients.IsNotFound(err))

	ok, err := client.TransactionSuccessful(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
