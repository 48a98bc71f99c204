package withdraw

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
)

type fakeBTCClient struct {
	satPerByte int64
	txid       string
	broadcasts []string
}

func (f *fakeBTCClient) FeeEstimate(context.Context) (int64, error) { return f.satPerByte, nil }

func (f *fakeBTCClient) SendRaw(_ context.Context, rawHex string) (string, error) {
	f.broadcasts = append(f.broadcasts, rawHex)
	return f.txid, nil
}

type fakeBTCStore struct {
	unspent   []bridge.UTXO
	utxos     map[string]bridge.UTXO
	withdraws map[uint64]bridge.WithdrawRequest
}

func newFakeBTCStore(unspent []bridge.UTXO) *fakeBTCStore {
	return &fakeBTCStore{
		unspent:   unspent,
		utxos:     map[string]bridge.UTXO{},
		withdraws: map[uint64]bridge.WithdrawRequest{},
	}
}

func (f *fakeBTCStore) FindUTXOsByStatus(_ context.Context, status bridge.UTXOStatus) ([]bridge.UTXO, error) {
	var out []bridge.UTXO
	for _, u := range f.unspent {
		current, overridden := f.utxos[u.TxHash]
		if overridden {
			u = current
		}
		if u.Status == status {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeBTCStore) UpsertUTXO(_ context.Context, utxo bridge.UTXO) error {
	f.utxos[utxo.TxHash] = utxo
	return nil
}

func (f *fakeBTCStore) UpsertWithdraw(_ context.Context, withdraw bridge.WithdrawRequest) error {
	f.withdraws[withdraw.Nonce] = withdraw
	return nil
}

func newTestProcessor(t *testing.T, client *fakeBTCClient, st *fakeBTCStore) (*BTCProcessor, *btcec.PrivateKey) {
	t.Helper()
	groupKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	vaultAddr := taprootAddr(t, groupKey.PubKey(), 0)
	proc := NewBTCProcessor(
		config.ChainConfig{Symbol: "BTC", Kind: bridge.ChainKindBTC, VaultAddress: vaultAddr},
		client, st, NewSingleKeySigner(groupKey), &chaincfg.TestNet3Params, logger.Nop{})
	return proc, groupKey
}

func TestProcessRejectsAssignedProcessingWithdraw(t *testing.T) {
	proc, _ := newTestProcessor(t, &fakeBTCClient{}, newFakeBTCStore(nil))

	w := &bridge.WithdrawRequest{
		Nonce:  5,
		Status: bridge.WithdrawProcessing,
		UTXOs:  []bridge.UTXO{{TxHash: fakeTxHash(0)}},
		Amount: bridge.NewBigIntFromUint64(1),
	}
	err := proc.Process(context.Background(), w)
	var assignErr *UTXOAssignmentError
	require.ErrorAs(t, err, &assignErr)
	assert.Equal(t, uint64(5), assignErr.Nonce)
}

func TestProcessInsufficientFundsLeavesUTXOsUnspent(t *testing.T) {
	groupKeyStore := newFakeBTCStore(nil)
	client := &fakeBTCClient{satPerByte: 10}
	proc, groupKey := newTestProcessor(t, client, groupKeyStore)

	groupKeyStore.unspent = []bridge.UTXO{
		{Status: bridge.UTXOUnspent, TxHash: fakeTxHash(0), Index: 0,
			Address: taprootAddr(t, groupKey.PubKey(), 1), Amount: 1_000, Salt: 1},
	}

	w := &bridge.WithdrawRequest{
		Nonce:  6,
		Status: bridge.WithdrawPending,
		Amount: bridge.NewBigIntFromUint64(1_000_000),
	}
	err := proc.Process(context.Background(), w)
	require.ErrorIs(t, err, ErrNotEnoughInputs)

	assert.Empty(t, groupKeyStore.utxos, "no UTXO may be marked SPEND on selection failure")
	assert.Empty(t, groupKeyStore.withdraws)
	assert.Empty(t, client.broadcasts)
	assert.Equal(t, bridge.WithdrawPending, w.Status)
}

func TestProcessHappyPath(t *testing.T) {
	st := newFakeBTCStore(nil)
	client := &fakeBTCClient{satPerByte: 10, txid: "txid-final"}
	proc, groupKey := newTestProcessor(t, client, st)

	st.unspent = []bridge.UTXO{
		{Status: bridge.UTXOUnspent, TxHash: fakeTxHash(0), Index: 0,
			Address: taprootAddr(t, groupKey.PubKey(), 1), Amount: 8_000, Salt: 1},
		{Status: bridge.UTXOUnspent, TxHash: fakeTxHash(1), Index: 1,
			Address: taprootAddr(t, groupKey.PubKey(), 2), Amount: 12_000, Salt: 2},
		{Status: bridge.UTXOUnspent, TxHash: fakeTxHash(2), Index: 0,
			Address: taprootAddr(t, groupKey.PubKey(), 3), Amount: 30_000, Salt: 3},
	}

	recipient := taprootAddr(t, groupKey.PubKey(), 99)
	w := &bridge.WithdrawRequest{
		Nonce:     7,
		Chain:     "BTC",
		Status:    bridge.WithdrawPending,
		Recipient: recipient,
		Amount:    bridge.NewBigIntFromUint64(25_000),
	}
	require.NoError(t, proc.Process(context.Background(), w))

	assert.Equal(t, bridge.WithdrawSuccessful, w.Status)
	assert.Equal(t, "txid-final", w.TxHash)
	assert.Equal(t, int64(10), w.SatPerByte)
	require.Len(t, w.UTXOs, 3, "8000+12000 cannot cover amount plus fee")

	for _, u := range st.utxos {
		assert.Equal(t, bridge.UTXOSpend, u.Status)
	}
	require.Len(t, client.broadcasts, 1)

	final := st.withdraws[7]
	assert.Equal(t, bridge.WithdrawSuccessful, final.Status)
}
