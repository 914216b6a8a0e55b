package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	maxTxAge       = int64(time.Hour)
	maxTxFuture    = int64(5 * time.Minute)
)

var (
	ErrMempoolFull  = errors.New("mempool full")
	ErrTxKnown      = errors.New("tx already in pool")
	ErrTxExpired    = errors.New("transaction expired")
	ErrTxFromFuture = errors.New("transaction timestamp too far in the future")
)

// Mempool is a thread-safe pending-transaction pool. Both client actions
// and engine callbacks enter the chain through it.
type Mempool struct {
	mu     sync.RWMutex
	txs    map[string]*Transaction
	ord    []string // insertion order; the sequencer executes in this order
	limit  int
	exempt map[string]bool // senders admitted past limit
	now    func() int64
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{
		txs:    make(map[string]*Transaction),
		limit:  maxMempoolSize,
		exempt: make(map[string]bool),
		now:    func() int64 { return time.Now().UnixNano() },
	}
}

// Exempt admits transactions from sender even when the pool is full. The
// computation engine is exempt so client traffic cannot hold back the
// results of games already in progress.
func (m *Mempool) Exempt(sender string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exempt[sender] = true
}

// Add validates and inserts a transaction.
func (m *Mempool) Add(tx *Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := m.now()
	if now-tx.Timestamp > maxTxAge {
		return ErrTxExpired
	}
	if tx.Timestamp-now > maxTxFuture {
		return ErrTxFromFuture
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= m.limit && !m.exempt[tx.From] {
		return ErrMempoolFull
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrTxKnown
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Transaction, 0, min(n, len(m.ord)))
	for _, id := range m.ord {
		if len(result) >= n {
			break
		}
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
		}
	}
	return result
}

// Remove deletes transactions by ID (called after block commit).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.txs, id)
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if _, ok := m.txs[id]; ok {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
