package withdraw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/sa"
)

type fakeStore struct {
	withdraws map[uint64]bridge.WithdrawRequest
	inserted  []bridge.WithdrawRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{withdraws: make(map[uint64]bridge.WithdrawRequest)}
}

func (f *fakeStore) InsertWithdrawsUnique(_ context.Context, withdraws []bridge.WithdrawRequest) error {
	for _, w := range withdraws {
		if _, ok := f.withdraws[w.Nonce]; ok {
			continue
		}
		f.withdraws[w.Nonce] = w
		f.inserted = append(f.inserted, w)
	}
	return nil
}

func (f *fakeStore) FindWithdrawsByStatus(_ context.Context, _ string, status bridge.WithdrawStatus, fromNonce uint64) ([]bridge.WithdrawRequest, error) {
	var out []bridge.WithdrawRequest
	for _, w := range f.withdraws {
		if w.Status == status && w.Nonce >= fromNonce {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) LastWithdrawNonce(_ context.Context, _ string) (uint64, bool, error) {
	var last uint64
	found := false
	for nonce := range f.withdraws {
		if !found || nonce > last {
			last = nonce
			found = true
		}
	}
	return last, found, nil
}

func (f *fakeStore) UpsertWithdraw(_ context.Context, w bridge.WithdrawRequest) error {
	f.withdraws[w.Nonce] = w
	return nil
}

type fakeExchange struct {
	queue []bridge.WithdrawRequest
}

func (f *fakeExchange) Withdraws(_ context.Context, _ string, offset uint64, _ int) ([]bridge.WithdrawRequest, error) {
	var out []bridge.WithdrawRequest
	for _, w := range f.queue {
		if w.Nonce >= offset {
			out = append(out, w)
		}
	}
	return out, nil
}

type fakeAggregator struct {
	result *sa.SignResult
	err    error
}

func (f *fakeAggregator) RequestNonces(_ context.Context, party []string, count int) (map[string]string, error) {
	nonces := make(map[string]string, len(party))
	for _, id := range party {
		nonces[id] = "nonce"
	}
	return nonces, nil
}

func (f *fakeAggregator) RequestSignature(_ context.Context, _ *sa.DKGKey, _ map[string]string, _ sa.SignRequestData) (*sa.SignResult, error) {
	return f.result, f.err
}

func testChain() config.ChainConfig {
	return config.ChainConfig{Symbol: "OPT", Kind: bridge.ChainKindEVM}
}

func testWithdraw(nonce uint64) bridge.WithdrawRequest {
	return bridge.WithdrawRequest{
		Nonce:        nonce,
		Chain:        "OPT",
		UserID:       1,
		Recipient:    testRecipient,
		TokenAddress: testToken,
		Amount:       bridge.NewBigIntFromUint64(1_000_000),
		Status:       bridge.WithdrawPending,
	}
}

func TestCoordinatorPullsNewWithdraws(t *testing.T) {
	st := newFakeStore()
	exchange := &fakeExchange{queue: []bridge.WithdrawRequest{testWithdraw(1), testWithdraw(2)}}
	agg := &fakeAggregator{err: &sa.ResultError{Result: "FAILED"}}
	dkg := &sa.DKGKey{Name: "ethereum", Party: []string{"n1"}}

	c := NewEVMCoordinator(testChain(), st, exchange, agg, dkg, nil, 0, 10, logger.Nop{})
	require.NoError(t, c.runOnce(context.Background()))

	// Both pulled and persisted; a validator refusal leaves them PENDING.
	require.Len(t, st.inserted, 2)
	assert.Equal(t, bridge.WithdrawPending, st.withdraws[1].Status)
	assert.Equal(t, bridge.WithdrawPending, st.withdraws[2].Status)

	// A second pull past the highest nonce inserts nothing new.
	require.NoError(t, c.runOnce(context.Background()))
	assert.Len(t, st.inserted, 2)
}

func TestCoordinatorRejectsHashMismatch(t *testing.T) {
	st := newFakeStore()
	w := testWithdraw(17)
	require.NoError(t, st.UpsertWithdraw(context.Background(), w))

	agg := &fakeAggregator{result: &sa.SignResult{
		Result:      sa.ResultSuccessful,
		MessageHash: "0xdeadbeef",
		Signature:   bridge.NewBigIntFromUint64(1),
		Nonce:       "0x5555555555555555555555555555555555555555",
	}}
	dkg := &sa.DKGKey{Name: "ethereum", Party: []string{"n1"}}

	c := NewEVMCoordinator(testChain(), st, &fakeExchange{}, agg, dkg, nil, 0, 10, logger.Nop{})
	require.NoError(t, c.runOnce(context.Background()))

	assert.Equal(t, bridge.WithdrawRejected, st.withdraws[17].Status)
	assert.Empty(t, st.withdraws[17].TxHash, "no vault transaction may be broadcast on mismatch")
}

func TestCoordinatorSkipsTerminalWithdraws(t *testing.T) {
	st := newFakeStore()
	done := testWithdraw(3)
	done.Status = bridge.WithdrawSuccessful
	require.NoError(t, st.UpsertWithdraw(context.Background(), done))

	// A nil aggregator would panic if a terminal withdraw were processed.
	c := NewEVMCoordinator(testChain(), st, &fakeExchange{}, nil, nil, nil, 0, 10, logger.Nop{})
	require.NoError(t, c.runOnce(context.Background()))
	assert.Equal(t, bridge.WithdrawSuccessful, st.withdraws[3].Status)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, isTerminal(&HashMismatchError{Nonce: 1}))
	assert.True(t, isTerminal(&UTXOAssignmentError{Nonce: 1}))
	assert.True(t, isTerminal(&ContractError{Name: "InvalidSignature"}))
	assert.False(t, isTerminal(ErrNotEnoughInputs))
	assert.False(t, isTerminal(assert.AnError))
}
