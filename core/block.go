package core

import (
	"encoding/json"
	"time"

	"github.com/tolelom/zktrivia/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Height      int64  `json:"height"`
	PrevHash    string `json:"prev_hash"`
	StateRoot   string `json:"state_root"`   // hash of state after executing this block
	TxRoot      string `json:"tx_root"`      // hash of all transaction IDs
	ReceiptRoot string `json:"receipt_root"` // hash of all receipts
	Timestamp   int64  `json:"timestamp"`    // ms since epoch; "now" for every action in the block
	Proposer    string `json:"proposer"`
}

// Receipt records the outcome of one transaction. A rejected action stays in
// the block with a non-zero Code and no state effect.
type Receipt struct {
	TxID      string `json:"tx_id"`
	Codespace string `json:"codespace,omitempty"`
	Code      uint32 `json:"code"`
	Log       string `json:"log,omitempty"`
}

// OK reports whether the transaction was applied.
func (r Receipt) OK() bool { return r.Code == 0 }

// Block is a collection of transactions with a signed header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Receipts     []Receipt      `json:"receipts"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign seals the receipt root, sets Hash and signs the block.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Header.ReceiptRoot = ComputeReceiptRoot(b.Receipts)
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks the block signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	ids := make([][]byte, len(txs))
	for i, tx := range txs {
		ids[i] = []byte(tx.ID)
	}
	return crypto.HashParts(ids...)
}

// ComputeReceiptRoot hashes the receipts in order.
func ComputeReceiptRoot(receipts []Receipt) string {
	data, err := json.Marshal(receipts)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// NewBlock creates an unsigned block stamped with the current wall clock.
func NewBlock(height int64, prevHash, proposer string, txs []*Transaction) *Block {
	return NewBlockAt(height, prevHash, proposer, txs, time.Now().UnixMilli())
}

// NewBlockAt creates an unsigned block with an explicit timestamp (ms).
func NewBlockAt(height int64, prevHash, proposer string, txs []*Transaction, ts int64) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: ts,
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}
