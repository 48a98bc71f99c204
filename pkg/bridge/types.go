// Package bridge holds the domain entities shared by the observer, finalizer,
// vault depositor and withdraw coordinator. The Store owns every persisted
// instance; everything here is a transient view.
package bridge

// ChainKind discriminates the two client families.
type ChainKind string

const (
	ChainKindEVM ChainKind = "evm"
	ChainKindBTC ChainKind = "btc"
)

// TransferStatus is the deposit state machine of a UserTransfer.
//
//	PENDING -> FINALIZED -> VERIFIED -> SUCCESSFUL
//	PENDING -> REORG
//	any     -> REJECTED (policy)
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferFinalized  TransferStatus = "finalized"
	TransferReorg      TransferStatus = "reorg"
	TransferVerified   TransferStatus = "verified"
	TransferSuccessful TransferStatus = "successful"
	TransferRejected   TransferStatus = "rejected"
)

// WithdrawStatus is the withdraw state machine. SUCCESSFUL and REJECTED are
// terminal and never left.
type WithdrawStatus string

const (
	WithdrawPending    WithdrawStatus = "pending"
	WithdrawProcessing WithdrawStatus = "processing"
	WithdrawSuccessful WithdrawStatus = "successful"
	WithdrawRejected   WithdrawStatus = "rejected"
)

// UTXOStatus tracks spendability of an observed output.
type UTXOStatus string

const (
	UTXOUnspent UTXOStatus = "unspent"
	UTXOSpend   UTXOStatus = "spend"
)

// UserAddress is a deterministically derived deposit address for one user on
// one chain. (user_id, chain) and (address, chain) are unique.
type UserAddress struct {
	UserID   uint64 `bson:"user_id" json:"user_id"`
	Address  string `bson:"address" json:"address"`
	Chain    string `bson:"chain_symbol" json:"chain_symbol"`
	IsActive bool   `bson:"is_active" json:"is_active"`
}

// Transfer is a raw on-chain transfer as extracted from a block, before it is
// matched against the tracked address set. Index is the vout index on BTC and
// zero on EVM; identity is (tx_hash, chain, index).
type Transfer struct {
	TxHash      string  `bson:"tx_hash" json:"tx_hash"`
	BlockNumber uint64  `bson:"block_number" json:"block_number"`
	Chain       string  `bson:"chain_symbol" json:"chain_symbol"`
	To          string  `bson:"to" json:"to"`
	Token       string  `bson:"token" json:"token"`
	Value       *BigInt `bson:"value" json:"value"`
	Index       uint32  `bson:"index" json:"index"`
}

// UserTransfer is a Transfer credited to a tracked user, advancing through
// TransferStatus.
type UserTransfer struct {
	Transfer `bson:",inline"`
	UserID   uint64         `bson:"user_id" json:"user_id"`
	Decimals int            `bson:"decimals" json:"decimals"`
	Status   TransferStatus `bson:"status" json:"status"`
}

// ChainState is the per-chain observation cursor. LastObservedBlock is
// monotonic non-decreasing.
type ChainState struct {
	Chain             string `bson:"chain_symbol" json:"chain_symbol"`
	LastObservedBlock uint64 `bson:"last_observed_block" json:"last_observed_block"`
}

// Token caches ERC-20 decimals per (chain, token address).
type Token struct {
	Chain    string `bson:"chain_symbol" json:"chain_symbol"`
	Address  string `bson:"token_address" json:"token_address"`
	Decimals int    `bson:"decimals" json:"decimals"`
}

// UTXO is an observed unspent output on a tracked Taproot address. Salt is
// the user id whose tweak controls the output.
type UTXO struct {
	Status  UTXOStatus `bson:"status" json:"status"`
	TxHash  string     `bson:"tx_hash" json:"tx_hash"`
	Index   uint32     `bson:"index" json:"index"`
	Address string     `bson:"address" json:"address"`
	Amount  int64      `bson:"amount" json:"amount"`
	Salt    uint64     `bson:"salt" json:"salt"`
}

// WithdrawRequest is a withdraw pulled from the exchange. Nonce is monotonic
// per chain on the exchange side; (nonce, chain) is unique in the Store.
// Amount is in base units (wei for EVM, satoshi for BTC). The BTC extension
// fields are populated once the request enters PROCESSING.
type WithdrawRequest struct {
	Nonce        uint64         `bson:"nonce" json:"nonce"`
	Chain        string         `bson:"chain_symbol" json:"chain_symbol"`
	UserID       uint64         `bson:"user_id" json:"user_id"`
	Recipient    string         `bson:"recipient" json:"recipient"`
	TokenAddress string         `bson:"token_address" json:"token_address"`
	Amount       *BigInt        `bson:"amount" json:"amount"`
	Status       WithdrawStatus `bson:"status" json:"status"`
	TxHash       string         `bson:"tx_hash,omitempty" json:"tx_hash,omitempty"`

	// BTC extension.
	UTXOs      []UTXO `bson:"utxos,omitempty" json:"utxos,omitempty"`
	SatPerByte int64  `bson:"sat_per_byte,omitempty" json:"sat_per_byte,omitempty"`
}

// Terminal reports whether the withdraw can never change status again.
func (w *WithdrawRequest) Terminal() bool {
	return w.Status == WithdrawSuccessful || w.Status == WithdrawRejected
}

// EVMNativeToken is the sentinel token address for native-value transfers.
const EVMNativeToken = "0x0000000000000000000000000000000000000000"

// BTCDecimals is fixed; satoshi is the base unit.
const BTCDecimals = 8
