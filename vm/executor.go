// Package vm dispatches transactions to the registered action handlers.
package vm

import (
	"errors"
	"fmt"
	"math"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/events"
	"github.com/tolelom/zktrivia/zk"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction and the computation engine.
// Requests and events are buffered and only take effect if the handler
// succeeds.
type Context struct {
	State  core.State
	Block  *core.Block
	Tx     *core.Transaction
	ZK     zk.Lookup
	Logger log.Logger

	requests []zk.Request
	events   []events.Event
}

// Now is the block timestamp in ms, the clock every action observes.
func (c *Context) Now() int64 {
	return c.Block.Header.Timestamp
}

// Sender is the pubkey hex of the transaction signer.
func (c *Context) Sender() string {
	return c.Tx.From
}

// Request queues work for the computation engine.
func (c *Context) Request(r zk.Request) {
	c.requests = append(c.requests, r)
}

// Emit queues a domain event.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events = append(c.events, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Executor applies transactions to the state using a Handler registry.
type Executor struct {
	state    core.State
	engine   zk.Engine
	emitter  *events.Emitter
	registry *Registry
	logger   log.Logger
}

// NewExecutor creates an Executor backed by the global registry.
func NewExecutor(state core.State, engine zk.Engine, emitter *events.Emitter, logger log.Logger) *Executor {
	return &Executor{
		state:    state,
		engine:   engine,
		emitter:  emitter,
		registry: globalRegistry,
		logger:   logger.With("module", "vm"),
	}
}

// ExecuteBlock applies every transaction in order and fills block.Receipts.
// Rejected actions get a failing receipt and leave no trace in state. Only
// a protocol violation aborts the block.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	block.Receipts = make([]core.Receipt, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		err := e.ExecuteTx(block, tx)
		if core.IsFatal(err) {
			return fmt.Errorf("tx %s: %w", tx.ID, err)
		}
		block.Receipts = append(block.Receipts, receiptFor(tx, err))
	}
	return nil
}

func receiptFor(tx *core.Transaction, err error) core.Receipt {
	if err == nil {
		return core.Receipt{TxID: tx.ID}
	}
	space, code, msg := errorsmod.ABCIInfo(err, false)
	return core.Receipt{TxID: tx.ID, Codespace: space, Code: code, Log: msg}
}

// ExecuteTx verifies and executes a single transaction. The sender nonce is
// consumed even when the handler fails; handler effects are rolled back.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	err := e.executeTx(block, tx)
	if err != nil && e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventTxRejected,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "error": err.Error()},
		})
	}
	if err != nil {
		e.logger.Debug("tx rejected", "tx", tx.ID, "type", tx.Type, "err", err)
	}
	return err
}

func (e *Executor) executeTx(block *core.Block, tx *core.Transaction) error {
	params, err := e.state.GetParams()
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	if tx.ChainID != params.ChainID {
		return core.ErrInvalidTx.Wrapf("chain id %q, want %q", tx.ChainID, params.ChainID)
	}
	if err := tx.Verify(); err != nil {
		return core.ErrInvalidTx.Wrapf("signature: %v", err)
	}
	rt, ok := e.registry.lookup(tx.Type)
	if !ok {
		return core.ErrInvalidTx.Wrapf("no handler for tx type %q", tx.Type)
	}

	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return core.ErrInvalidTx.Wrapf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return core.ErrInvalidTx.Wrapf("nonce overflow for account %s", tx.From)
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	if rt.origin == OriginEngine && tx.From != params.Engine {
		return core.ErrUnauthorized.Wrapf("%s may only be sent by the computation engine", tx.Type)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	ctx := &Context{
		State:  e.state,
		Block:  block,
		Tx:     tx,
		ZK:     e.engine,
		Logger: e.logger.With("tx", tx.ID, "type", string(tx.Type)),
	}
	if err := e.apply(rt.h, ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	if e.emitter != nil {
		for _, ev := range ctx.events {
			e.emitter.Emit(ev)
		}
		e.emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return nil
}

func (e *Executor) apply(h Handler, ctx *Context) error {
	if err := h(ctx, ctx.Tx.Payload); err != nil {
		return err
	}
	if len(ctx.requests) == 0 {
		return nil
	}
	if e.engine == nil {
		return errors.New("no computation engine configured")
	}
	if err := e.engine.Apply(ctx.Block, ctx.Tx, ctx.requests); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}
