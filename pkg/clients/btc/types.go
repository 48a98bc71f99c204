package btc

// Wire shapes of the esplora/electrs indexer API. Only the fields the bridge
// reads are declared.

// TxStatus is the confirmation state attached to a transaction.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
}

// Vout is one transaction output.
type Vout struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

// Tx is one indexed transaction.
type Tx struct {
	TxID   string   `json:"txid"`
	Status TxStatus `json:"status"`
	Vout   []Vout   `json:"vout"`
}
