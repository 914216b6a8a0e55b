// Package consensus implements single-sequencer block production. The
// sequencer orders pending transactions, executes them, and seals each
// block with its signature. Block timestamps are the clock every game
// deadline is measured against.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/log"

	"github.com/tolelom/zktrivia/config"
	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/crypto"
	"github.com/tolelom/zktrivia/events"
	"github.com/tolelom/zktrivia/vm"
)

// ErrHalted wraps every error after which the sequencer must stop.
var ErrHalted = errors.New("sequencer halted")

// errEmpty means there was nothing to sequence.
var errEmpty = errors.New("no pending transactions")

// Sequencer produces blocks from the mempool.
type Sequencer struct {
	maxTxs  int
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	logger  log.Logger
	now     func() time.Time
}

// New creates a Sequencer signing with privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	logger log.Logger,
) *Sequencer {
	maxTxs := cfg.MaxBlockTxs
	if maxTxs <= 0 {
		maxTxs = 500
	}
	return &Sequencer{
		maxTxs:  maxTxs,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		logger:  logger.With("module", "sequencer"),
		now:     time.Now,
	}
}

// ProduceBlock executes up to maxTxs pending transactions and commits the
// resulting block. Rejected actions stay in the block with a failing
// receipt. A protocol violation, or any failure after execution has
// touched the state buffer, is returned wrapped in ErrHalted.
func (s *Sequencer) ProduceBlock() (*core.Block, error) {
	txs := s.mempool.Pending(s.maxTxs)
	if len(txs) == 0 {
		return nil, errEmpty
	}

	tip := s.bc.Tip()
	prevHash := config.GenesisHash
	nextHeight := int64(1)
	ts := s.now().UnixMilli()
	if tip != nil {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
		ts = max(ts, tip.Header.Timestamp)
	}
	block := core.NewBlockAt(nextHeight, prevHash, s.pubKey.Hex(), txs, ts)

	if err := s.exec.ExecuteBlock(block); err != nil {
		return nil, fmt.Errorf("%w: block %d: %w", ErrHalted, nextHeight, err)
	}

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = s.state.ComputeRoot()
	block.Sign(s.privKey)

	if err := s.bc.AddBlock(block); err != nil {
		return nil, fmt.Errorf("%w: add block: %w", ErrHalted, err)
	}
	if err := s.state.Commit(); err != nil {
		return nil, fmt.Errorf("%w: block %d stored but state commit failed: %w", ErrHalted, block.Header.Height, err)
	}

	// Emit after Sign() so block.Hash is set correctly.
	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions), "timestamp": block.Header.Timestamp},
		})
	}

	txIDs := make([]string, len(txs))
	failed := 0
	for i, tx := range txs {
		txIDs[i] = tx.ID
		if !block.Receipts[i].OK() {
			failed++
		}
	}
	s.mempool.Remove(txIDs)
	s.logger.Info("block committed", "height", block.Header.Height, "txs", len(txs), "rejected", failed, "hash", block.Hash)
	return block, nil
}

// ValidateBlock checks that block was sealed by this sequencer and links to
// the current tip.
func (s *Sequencer) ValidateBlock(block *core.Block) error {
	if block.Header.Proposer != s.pubKey.Hex() {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, s.pubKey.Hex())
	}
	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(s.pubKey); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if len(block.Receipts) != len(block.Transactions) {
		return fmt.Errorf("%d receipts for %d transactions", len(block.Receipts), len(block.Transactions))
	}

	tip := s.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	return nil
}

// Run produces a block every interval until ctx is cancelled. It returns
// nil on cancellation and the halting error otherwise.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := s.ProduceBlock()
			switch {
			case err == nil, errors.Is(err, errEmpty):
			case errors.Is(err, ErrHalted):
				s.logger.Error("halting block production", "err", err)
				return err
			default:
				s.logger.Error("produce block", "err", err)
			}
		}
	}
}
