package withdraw

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/zellular-xyz/zexporta-go/pkg/bridge"
	"github.com/zellular-xyz/zexporta-go/pkg/config"
	"github.com/zellular-xyz/zexporta-go/pkg/derive"
	"github.com/zellular-xyz/zexporta-go/pkg/logger"
)

// TaprootSigner produces a key-path signature for one input. The salt picks
// the per-user tweak of the group key, so a distributed implementation can
// slot in behind the same contract.
type TaprootSigner interface {
	SignInput(digest [32]byte, salt uint64) ([]byte, error)
}

// SingleKeySigner holds the group private key locally and applies the
// per-user tweak itself.
type SingleKeySigner struct {
	priv *btcec.PrivateKey
}

// NewSingleKeySigner wraps the master private key.
func NewSingleKeySigner(priv *btcec.PrivateKey) *SingleKeySigner {
	return &SingleKeySigner{priv: priv}
}

// SignInput tweaks the key for the salt and signs the digest with a
// deterministic aux, so signing the same (digest, salt) twice yields the
// same signature.
func (s *SingleKeySigner) SignInput(digest [32]byte, salt uint64) ([]byte, error) {
	tweaked := derive.TweakedPrivKey(s.priv, salt)
	aux := sha256.Sum256(append(digest[:], tweaked.Serialize()...))
	sig, err := schnorr.Sign(tweaked, digest[:], schnorr.CustomNonce(aux))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// BTCClient is the chain surface the BTC path consumes.
type BTCClient interface {
	FeeEstimate(ctx context.Context) (int64, error)
	SendRaw(ctx context.Context, rawHex string) (string, error)
}

// BTCStore is the persistence surface the BTC path consumes.
type BTCStore interface {
	FindUTXOsByStatus(ctx context.Context, status bridge.UTXOStatus) ([]bridge.UTXO, error)
	UpsertUTXO(ctx context.Context, utxo bridge.UTXO) error
	UpsertWithdraw(ctx context.Context, withdraw bridge.WithdrawRequest) error
}

// BTCProcessor executes one withdraw on the Bitcoin chain: select inputs,
// build and sign the taproot spend, broadcast.
type BTCProcessor struct {
	cfg    config.ChainConfig
	client BTCClient
	store  BTCStore
	signer TaprootSigner
	params *chaincfg.Params
	log    logger.Logger
}

// NewBTCProcessor builds the processor. params selects mainnet or testnet
// address encoding; the vault address receives the change output.
func NewBTCProcessor(cfg config.ChainConfig, client BTCClient, st BTCStore, signer TaprootSigner, params *chaincfg.Params, log logger.Logger) *BTCProcessor {
	return &BTCProcessor{
		cfg:    cfg,
		client: client,
		store:  st,
		signer: signer,
		params: params,
		log:    logger.WithChain(log, cfg.Symbol),
	}
}

// Process advances one withdraw to SUCCESSFUL, or returns a terminal error
// (*UTXOAssignmentError) the coordinator converts to REJECTED. Selection
// failures and broadcast failures are transient: nothing is marked SPEND on
// a selection failure, and a persisted PROCESSING withdraw keeps its UTXO
// set so a retry rebuilds the identical transaction.
func (p *BTCProcessor) Process(ctx context.Context, withdraw *bridge.WithdrawRequest) error {
	if withdraw.Status == bridge.WithdrawProcessing && len(withdraw.UTXOs) > 0 {
		return &UTXOAssignmentError{Nonce: withdraw.Nonce}
	}

	satPerByte, err := p.client.FeeEstimate(ctx)
	if err != nil {
		return err
	}
	unspent, err := p.store.FindUTXOsByStatus(ctx, bridge.UTXOUnspent)
	if err != nil {
		return err
	}
	amount := withdraw.Amount.Int64()
	chosen, fee, err := SelectUTXOs(unspent, amount, satPerByte)
	if err != nil {
		return fmt.Errorf("withdraw %d: %w", withdraw.Nonce, err)
	}

	// Point of no return: the inputs are reserved before anything is
	// signed, so a crash cannot double-assign them.
	for i := range chosen {
		chosen[i].Status = bridge.UTXOSpend
		if err := p.store.UpsertUTXO(ctx, chosen[i]); err != nil {
			return err
		}
	}
	withdraw.UTXOs = chosen
	withdraw.SatPerByte = satPerByte
	withdraw.Status = bridge.WithdrawProcessing
	if err := p.store.UpsertWithdraw(ctx, *withdraw); err != nil {
		return err
	}

	rawHex, err := p.buildAndSign(withdraw, chosen, fee)
	if err != nil {
		return err
	}
	txid, err := p.client.SendRaw(ctx, rawHex)
	if err != nil {
		return err
	}

	withdraw.TxHash = txid
	withdraw.Status = bridge.WithdrawSuccessful
	p.log.Printf("withdraw %d broadcast as %s (fee %d sat)", withdraw.Nonce, txid, fee)
	return p.store.UpsertWithdraw(ctx, *withdraw)
}

// buildAndSign assembles the two-output taproot spend and signs every input
// with the per-salt tweaked key (key-path, SIGHASH_ALL).
func (p *BTCProcessor) buildAndSign(withdraw *bridge.WithdrawRequest, inputs []bridge.UTXO, fee int64) (string, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(inputs))
	total := int64(0)
	for _, u := range inputs {
		hash, err := chainhash.NewHashFromStr(u.TxHash)
		if err != nil {
			return "", fmt.Errorf("utxo %s: %w", u.TxHash, err)
		}
		outPoint := wire.NewOutPoint(hash, u.Index)
		tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))

		script, err := p.scriptFor(u.Address)
		if err != nil {
			return "", err
		}
		prevOuts[*outPoint] = wire.NewTxOut(u.Amount, script)
		total += u.Amount
	}

	amount := withdraw.Amount.Int64()
	recipientScript, err := p.scriptFor(withdraw.Recipient)
	if err != nil {
		return "", err
	}
	changeScript, err := p.scriptFor(p.cfg.VaultAddress)
	if err != nil {
		return "", err
	}
	tx.AddTxOut(wire.NewTxOut(amount, recipientScript))
	tx.AddTxOut(wire.NewTxOut(total-amount-fee, changeScript))

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, u := range inputs {
		digest, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashAll, tx, i, fetcher)
		if err != nil {
			return "", fmt.Errorf("sighash input %d: %w", i, err)
		}
		var d [32]byte
		copy(d[:], digest)
		sig, err := p.signer.SignInput(d, u.Salt)
		if err != nil {
			return "", fmt.Errorf("sign input %d: %w", i, err)
		}
		// Non-default sighash type is encoded as a trailing byte.
		tx.TxIn[i].Witness = wire.TxWitness{append(sig, byte(txscript.SigHashAll))}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func (p *BTCProcessor) scriptFor(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, p.params)
	if err != nil {
		return nil, fmt.Errorf("address %s: %w", address, err)
	}
	return txscript.PayToAddrScript(addr)
}
