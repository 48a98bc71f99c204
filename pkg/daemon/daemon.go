// Package daemon holds the wiring shared by the cmd binaries: signal-aware
// contexts, key parsing, per-chain client construction and address
// derivation closures.
package daemon

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/clients/btc"
	"github.com/zellular-xyz/zexporta-go/pkg/clients/evm"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/derive"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
	"github.com/zellular-xyz/zexporta-go/pkg/metrics"
	"github.com/zellular-xyz/zexporta-go/pkg/observer"
)

// Context returns a context cancelled on SIGINT or SIGTERM.
func Context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ChainClient is the union surface of the two client families; the daemons
// hand it to the narrower per-subsystem interfaces.
type ChainClient interface {
	Symbol() string
	LatestBlock(ctx context.Context) (uint64, error)
	FinalizedBlock(ctx context.Context) (uint64, error)
	ExtractTransfers(ctx context.Context, block uint64) ([]bridge.Transfer, error)
	TransactionSuccessful(ctx context.Context, txHash string) (bool, error)
	TokenDecimals(ctx context.Context, token string) (int, error)
}

// NewChainClient builds the kind-appropriate chain client.
func NewChainClient(ctx context.Context, cfg config.ChainConfig, log logger.Logger) (ChainClient, error) {
	switch cfg.Kind {
	case bridge.ChainKindEVM:
		return evm.Dial(ctx, cfg, log)
	case bridge.ChainKindBTC:
		return btc.New(cfg, log), nil
	default:
		return nil, fmt.Errorf("chain %s: unknown kind %q", cfg.Symbol, cfg.Kind)
	}
}

// DeriveFor returns the deposit address derivation closure for a chain.
func DeriveFor(cfg *config.Config, chain config.ChainConfig) (observer.DeriveFunc, error) {
	switch chain.Kind {
	case bridge.ChainKindEVM:
		factory, bytecodeHash := cfg.UserDepositFactoryAddress, cfg.UserDepositBytecodeHash
		if factory == "" || bytecodeHash == "" {
			return nil, fmt.Errorf("chain %s: factory address and bytecode hash are required", chain.Symbol)
		}
		return func(userID uint64) (string, error) {
			return derive.EVMAddress(factory, bytecodeHash, userID)
		}, nil
	case bridge.ChainKindBTC:
		groupKey, err := derive.ParseGroupKey(cfg.BTCGroupPubKey)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", chain.Symbol, err)
		}
		params := derive.NetworkParams(cfg.Env)
		return func(userID uint64) (string, error) {
			return derive.BTCAddress(groupKey, userID, params)
		}, nil
	default:
		return nil, fmt.Errorf("chain %s: unknown kind %q", chain.Symbol, chain.Kind)
	}
}

// ParseECDSAKey decodes a hex-encoded secp256k1 private key, with or
// without the 0x prefix.
func ParseECDSAKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// ParseBTCKey decodes a hex-encoded Bitcoin private key.
func ParseBTCKey(hexKey string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// StartMetrics serves /metrics in the background.
func StartMetrics(addr string, log logger.Logger) {
	go func() {
		if err := metrics.Serve(addr); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
}
