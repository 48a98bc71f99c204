package deposit

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
)

const (
	testFactory  = "0x1111111111111111111111111111111111111111"
	depositAddr  = "0x2222222222222222222222222222222222222222"
	testERC20    = "0x3333333333333333333333333333333333333333"
	testChainTag = "HOL"
)

type fakeEVM struct {
	mu sync.Mutex

	code     map[string][]byte
	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

func newFakeEVM() *fakeEVM {
	return &fakeEVM{
		code:     map[string][]byte{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeEVM) Symbol() string    { return testChainTag }
func (f *fakeEVM) ChainID() *big.Int { return big.NewInt(17000) }

func (f *fakeEVM) CodeAt(_ context.Context, addr string) ([]byte, error) {
	return f.code[addr], nil
}

func (f *fakeEVM) PendingNonce(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeEVM) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEVM) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
	}
	return nil
}

func (f *fakeEVM) WaitForReceipt(_ context.Context, txHash common.Hash, _ time.Duration) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[txHash], nil
}

type fakeDepositStore struct {
	mu        sync.Mutex
	verified  []bridge.UserTransfer
	upserted  []bridge.UserTransfer
}

func (f *fakeDepositStore) TransfersByStatusLimit(_ context.Context, status bridge.TransferStatus, _ string, limit int64) ([]bridge.UserTransfer, error) {
	if status != bridge.TransferVerified {
		return nil, nil
	}
	if int64(len(f.verified)) > limit {
		return f.verified[:limit], nil
	}
	return f.verified, nil
}

func (f *fakeDepositStore) UpsertTransfer(_ context.Context, transfer bridge.UserTransfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, transfer)
	return nil
}

func verifiedDeposit(token string) bridge.UserTransfer {
	return bridge.UserTransfer{
		Transfer: bridge.Transfer{
			TxHash:      "0xdead",
			BlockNumber: 90,
			Chain:       testChainTag,
			To:          depositAddr,
			Token:       token,
			Value:       bridge.NewBigIntFromUint64(1_000_000),
		},
		UserID:   42,
		Decimals: 18,
		Status:   bridge.TransferVerified,
	}
}

func newTestDepositor(t *testing.T, client EVMClient, st Store) *Depositor {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	d, err := New(config.ChainConfig{Symbol: testChainTag, Kind: bridge.ChainKindEVM},
		client, st, key, testFactory, 10, logger.Nop{})
	require.NoError(t, err)
	return d
}

func TestDepositorDeploysWhenNoCode(t *testing.T) {
	evm := newFakeEVM()
	st := &fakeDepositStore{verified: []bridge.UserTransfer{verifiedDeposit(bridge.EVMNativeToken)}}
	d := newTestDepositor(t, evm, st)

	require.NoError(t, d.runOnce(context.Background()))

	require.Len(t, evm.sent, 1)
	tx := evm.sent[0]
	assert.Equal(t, common.HexToAddress(testFactory), *tx.To(), "deploy goes through the factory")
	assert.Equal(t, uint64(gasContractDeploy), tx.Gas())

	// The deploy pass does not promote the deposit.
	assert.Empty(t, st.upserted)
}

func TestDepositorSweepsNativeWhenCodePresent(t *testing.T) {
	evm := newFakeEVM()
	evm.code[depositAddr] = []byte{0x60, 0x80}
	st := &fakeDepositStore{verified: []bridge.UserTransfer{verifiedDeposit(bridge.EVMNativeToken)}}
	d := newTestDepositor(t, evm, st)

	require.NoError(t, d.runOnce(context.Background()))

	require.Len(t, evm.sent, 1)
	tx := evm.sent[0]
	assert.Equal(t, common.HexToAddress(depositAddr), *tx.To(), "sweep calls the user deposit contract")
	assert.Equal(t, uint64(gasNativeTransfer), tx.Gas())

	require.Len(t, st.upserted, 1)
	assert.Equal(t, bridge.TransferSuccessful, st.upserted[0].Status)
}

func TestDepositorSweepsERC20(t *testing.T) {
	evm := newFakeEVM()
	evm.code[depositAddr] = []byte{0x60, 0x80}
	st := &fakeDepositStore{verified: []bridge.UserTransfer{verifiedDeposit(testERC20)}}
	d := newTestDepositor(t, evm, st)

	require.NoError(t, d.runOnce(context.Background()))

	require.Len(t, evm.sent, 1)
	assert.Equal(t, uint64(gasERC20Transfer), evm.sent[0].Gas())
	require.Len(t, st.upserted, 1)
	assert.Equal(t, bridge.TransferSuccessful, st.upserted[0].Status)
}

func TestDepositorLocalNonceDiscipline(t *testing.T) {
	evm := newFakeEVM()
	evm.nonce = 5
	evm.code[depositAddr] = []byte{0x60, 0x80}
	st := &fakeDepositStore{verified: []bridge.UserTransfer{
		verifiedDeposit(bridge.EVMNativeToken),
		verifiedDeposit(testERC20),
	}}
	d := newTestDepositor(t, evm, st)

	require.NoError(t, d.runOnce(context.Background()))
	require.Len(t, evm.sent, 2)

	nonces := map[uint64]bool{evm.sent[0].Nonce(): true, evm.sent[1].Nonce(): true}
	assert.Equal(t, map[uint64]bool{5: true, 6: true}, nonces,
		"one pending nonce read, incremented locally per transaction")
}

func TestDepositorEmptyBatch(t *testing.T) {
	evm := newFakeEVM()
	d := newTestDepositor(t, evm, &fakeDepositStore{})
	require.NoError(t, d.runOnce(context.Background()))
	assert.Empty(t, evm.sent)
}
