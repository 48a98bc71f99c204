package withdraw

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/sa"
)

const gasVaultWithdraw = 300_000

const receiptPollInterval = 3 * time.Second

const vaultABIJSON = `[
  {"type":"function","name":"withdraw","inputs":[
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"recipient","type":"address"},
    {"name":"nonce","type":"uint256"},
    {"name":"signature","type":"uint256"},
    {"name":"sigNonce","type":"address"},
    {"name":"shieldSignature","type":"bytes"}],"outputs":[]},
  {"type":"error","name":"InvalidSignature","inputs":[]},
  {"type":"error","name":"InvalidShieldSignature","inputs":[]},
  {"type":"error","name":"NonceAlreadyUsed","inputs":[{"name":"nonce","type":"uint256"}]}
]`

// ContractError is a decoded vault revert. Terminal for the withdraw.
type ContractError struct {
	Name string
	Data string
}

func (e *ContractError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("vault reverted with undecoded data %s", e.Data)
	}
	return fmt.Sprintf("vault reverted with %s (%s)", e.Name, e.Data)
}

// EVMClient is the chain surface the EVM path consumes.
type EVMClient interface {
	ChainID() *big.Int
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitForReceipt(ctx context.Context, txHash common.Hash, interval time.Duration) (*types.Receipt, error)
}

// EVMProcessor broadcasts aggregator-signed withdraws to the vault.
type EVMProcessor struct {
	cfg       config.ChainConfig
	client    EVMClient
	sender    common.Address
	key       *ecdsa.PrivateKey
	shieldKey *ecdsa.PrivateKey
	vault     common.Address
	vaultABI  abi.ABI
	log       logger.Logger
}

// NewEVMProcessor builds the processor. key funds and signs the outer
// transaction; shieldKey co-signs the withdraw digest.
func NewEVMProcessor(cfg config.ChainConfig, client EVMClient, key, shieldKey *ecdsa.PrivateKey, log logger.Logger) (*EVMProcessor, error) {
	vaultABI, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, err
	}
	return &EVMProcessor{
		cfg:       cfg,
		client:    client,
		sender:    crypto.PubkeyToAddress(key.PublicKey),
		key:       key,
		shieldKey: shieldKey,
		vault:     common.HexToAddress(cfg.VaultAddress),
		vaultABI:  vaultABI,
		log:       logger.WithChain(log, cfg.Symbol),
	}, nil
}

// Process submits the vault withdraw call carrying the aggregate signature
// and a locally produced shield signature over the same digest. Returns the
// tx hash on success; a decoded revert surfaces as *ContractError, which is
// terminal for the withdraw.
func (p *EVMProcessor) Process(ctx context.Context, withdraw *bridge.WithdrawRequest, result *sa.SignResult) (string, error) {
	digest := Hash(withdraw.TokenAddress, &withdraw.Amount.Int, withdraw.Recipient, withdraw.Nonce)

	shieldSig, err := crypto.Sign(digest.Bytes(), p.shieldKey)
	if err != nil {
		return "", err
	}
	// ecrecover wants the legacy v offset.
	shieldSig[64] += 27

	data, err := p.vaultABI.Pack("withdraw",
		common.HexToAddress(withdraw.TokenAddress),
		&withdraw.Amount.Int,
		common.HexToAddress(withdraw.Recipient),
		new(big.Int).SetUint64(withdraw.Nonce),
		&result.Signature.Int,
		common.HexToAddress(result.Nonce),
		shieldSig,
	)
	if err != nil {
		return "", err
	}

	// Simulate before spending gas; a revert here is decodable and final.
	if _, err := p.client.Call(ctx, p.vault, data); err != nil {
		if cerr := p.decodeRevert(err); cerr != nil {
			return "", cerr
		}
		return "", err
	}

	nonce, err := p.client.PendingNonce(ctx, p.sender)
	if err != nil {
		return "", err
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}
	tx := types.NewTransaction(nonce, p.vault, new(big.Int), gasVaultWithdraw, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.client.ChainID()), p.key)
	if err != nil {
		return "", err
	}
	if err := p.client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}

	receipt, err := p.client.WaitForReceipt(ctx, signed.Hash(), receiptPollInterval)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", &ContractError{Data: signed.Hash().Hex()}
	}
	p.log.Printf("withdraw %d confirmed in block %d as %s", withdraw.Nonce, receipt.BlockNumber, signed.Hash())
	return signed.Hash().Hex(), nil
}

// dataError is implemented by go-ethereum JSON-RPC errors that carry
// revert data.
type dataError interface {
	ErrorData() interface{}
}

// decodeRevert matches revert data against the vault's declared custom
// errors. Returns nil when the error carries no decodable revert data.
func (p *EVMProcessor) decodeRevert(err error) *ContractError {
	var de dataError
	if !asDataError(err, &de) {
		return nil
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return nil
	}
	payload, decodeErr := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if decodeErr != nil || len(payload) < 4 {
		return nil
	}
	for _, abiErr := range p.vaultABI.Errors {
		if string(abiErr.ID[:4]) == string(payload[:4]) {
			return &ContractError{Name: abiErr.Name, Data: raw}
		}
	}
	return &ContractError{Data: raw}
}

// asDataError walks the wrap chain looking for revert data.
func asDataError(err error, target *dataError) bool {
	for err != nil {
		if de, ok := err.(dataError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
