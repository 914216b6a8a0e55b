package core

import (
	"fmt"
	"sync"
)

// BlockStore is the persistence interface used by Blockchain.
// Implementations live in the storage package.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns the current tip hash, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	// CommitBlock atomically writes the block, its height index entry, and
	// the tip pointer.
	CommitBlock(block *Block) error
}

// Blockchain is the canonical sequence of committed blocks. Game deadlines
// are compared against block timestamps, so the chain refuses any block
// whose clock runs backwards.
type Blockchain struct {
	mu    sync.RWMutex
	store BlockStore
	tip   *Block
}

// NewBlockchain returns a Blockchain backed by store. Call Init to resume a
// persisted chain.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip, if any.
func (bc *Blockchain) Init() error {
	hash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if hash == "" {
		return nil
	}
	tip, err := bc.store.GetBlock(hash)
	if err != nil {
		return fmt.Errorf("load tip %s: %w", hash, err)
	}
	bc.mu.Lock()
	bc.tip = tip
	bc.mu.Unlock()
	return nil
}

// follows checks that block extends the current tip.
func (bc *Blockchain) follows(block *Block) error {
	if bc.tip == nil {
		return nil
	}
	h := block.Header
	switch {
	case h.Height != bc.tip.Header.Height+1:
		return fmt.Errorf("block height %d does not follow tip %d", h.Height, bc.tip.Header.Height)
	case h.PrevHash != bc.tip.Hash:
		return fmt.Errorf("prev_hash mismatch: got %s want %s", h.PrevHash, bc.tip.Hash)
	case h.Timestamp < bc.tip.Header.Timestamp:
		return fmt.Errorf("block timestamp %d before tip %d", h.Timestamp, bc.tip.Header.Timestamp)
	}
	return nil
}

// AddBlock persists block and makes it the tip.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if err := bc.follows(block); err != nil {
		return err
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Header.Height, err)
	}
	bc.tip = block
	return nil
}

func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	return bc.store.GetBlock(hash)
}

func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// Tip returns the latest block, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height is the tip height; 0 for a fresh chain or one holding only genesis.
func (bc *Blockchain) Height() int64 {
	if tip := bc.Tip(); tip != nil {
		return tip.Header.Height
	}
	return 0
}
