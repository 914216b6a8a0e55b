// Package local is an in-process stand-in for the secret-sharing
// computation network. Values are split into additive shares across a set
// of simulated nodes and are only recombined inside the scoring circuit or
// when explicitly opened. It is a development engine, not a security
// boundary.
package local

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/google/uuid"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/crypto"
	"github.com/tolelom/zktrivia/zk"
)

const codespace = "zklocal"

var (
	ErrNoPendingInput = errorsmod.Register(codespace, 1, "no pending input for origin transaction")
	ErrWrongOwner     = errorsmod.Register(codespace, 2, "input owned by another party")
	ErrBadInput       = errorsmod.Register(codespace, 3, "malformed secret input")
	ErrBadRequest     = errorsmod.Register(codespace, 4, "request cannot be served")
)

// Sink receives the callback transactions produced by the engine.
// *core.Mempool satisfies it.
type Sink interface {
	Add(tx *core.Transaction) error
}

// Config configures an Engine.
type Config struct {
	ChainID string
	Key     crypto.PrivateKey
	// Nodes is the number of simulated share holders (>= 2).
	Nodes int
	// Nonce is the next nonce of the engine account on chain.
	Nonce uint64
}

type variable struct {
	meta   core.Variable
	shares [][]byte // one per node; nil while pending
	size   int
}

// PendingInput describes an input the engine is waiting for.
type PendingInput struct {
	VarID    core.VarID        `json:"var_id"`
	Origin   string            `json:"origin_tx"`
	Owner    string            `json:"owner"`
	Kind     core.VariableKind `json:"kind"`
	Size     int               `json:"size"`
	callback core.TxType
	staged   bool // value received, callback not yet accepted by the sink
}

// delivery is a callback waiting for the sink. done applies the engine-side
// state change and runs only once the sink has accepted the transaction.
type delivery struct {
	typ     core.TxType
	payload any
	done    func()
}

type job struct {
	id       string
	origin   string
	compute  *zk.ComputeRequest
	open     *zk.OpenRequest
	callback core.TxType
}

// Engine implements zk.Engine.
type Engine struct {
	mu sync.Mutex

	chainID string
	key     crypto.PrivateKey
	nodes   int
	nonce   uint64
	nextID  core.VarID

	vars    map[core.VarID]*variable
	pending map[string][]*PendingInput // by origin tx id
	jobs    []job
	outbox  []delivery

	sink   Sink
	rand   io.Reader
	logger log.Logger
}

var _ zk.Engine = (*Engine)(nil)

// New creates an Engine that pushes its callbacks into sink.
func New(cfg Config, sink Sink, logger log.Logger) (*Engine, error) {
	if cfg.Nodes < 2 {
		return nil, fmt.Errorf("local engine needs at least 2 nodes, got %d", cfg.Nodes)
	}
	if len(cfg.Key) == 0 {
		return nil, fmt.Errorf("local engine: missing signing key")
	}
	return &Engine{
		chainID: cfg.ChainID,
		key:     cfg.Key,
		nodes:   cfg.Nodes,
		nonce:   cfg.Nonce,
		nextID:  1,
		vars:    make(map[core.VarID]*variable),
		pending: make(map[string][]*PendingInput),
		sink:    sink,
		rand:    rand.Reader,
		logger:  logger.With("module", "zk-local"),
	}, nil
}

// Identity is the pubkey hex the engine signs callbacks with.
func (e *Engine) Identity() string {
	return e.key.Public().Hex()
}

// Variable implements zk.Lookup.
func (e *Engine) Variable(id core.VarID) (*core.Variable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vars[id]
	if !ok {
		return nil, core.ErrUnknownVariable.Wrapf("var %d", id)
	}
	out := v.meta
	if out.Data != nil {
		out.Data = append([]byte(nil), out.Data...)
	}
	return &out, nil
}

// PendingInput returns the inputs requested by the transaction origin.
func (e *Engine) PendingInput(origin string) ([]PendingInput, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.pending[origin]
	if !ok {
		return nil, false
	}
	out := make([]PendingInput, len(ps))
	for i, p := range ps {
		out[i] = *p
	}
	return out, true
}

// Apply implements zk.Engine. Input requests allocate pending variables;
// computations and openings are queued for the next Process call. Either
// every request is accepted or none is.
func (e *Engine) Apply(block *core.Block, tx *core.Transaction, reqs []zk.Request) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range reqs {
		if err := e.check(r); err != nil {
			return err
		}
	}
	for _, r := range reqs {
		switch req := r.(type) {
		case zk.InputRequest:
			id := e.allocate(req.Owner, req.Kind)
			e.vars[id].size = req.Size
			e.pending[tx.ID] = append(e.pending[tx.ID], &PendingInput{
				VarID:    id,
				Origin:   tx.ID,
				Owner:    req.Owner,
				Kind:     req.Kind,
				Size:     req.Size,
				callback: req.Callback,
			})
			e.logger.Debug("input requested", "var", id, "kind", req.Kind.String(), "origin", tx.ID, "height", block.Header.Height)
		case zk.ComputeRequest:
			c := req
			e.jobs = append(e.jobs, job{id: uuid.NewString(), origin: tx.ID, compute: &c, callback: req.Callback})
		case zk.OpenRequest:
			o := req
			e.jobs = append(e.jobs, job{id: uuid.NewString(), origin: tx.ID, open: &o, callback: req.Callback})
		}
	}
	return nil
}

func (e *Engine) check(r zk.Request) error {
	switch req := r.(type) {
	case zk.InputRequest:
		if req.Size <= 0 {
			return ErrBadRequest.Wrapf("input size %d", req.Size)
		}
	case zk.ComputeRequest:
		if len(req.Inputs) != 2 {
			return ErrBadRequest.Wrapf("scoring takes 2 inputs, got %d", len(req.Inputs))
		}
		for _, in := range req.Inputs {
			if err := e.requireCommitted(in); err != nil {
				return err
			}
			if size := e.vars[in].size; size != zk.AnswerSize {
				return ErrBadRequest.Wrapf("var %d holds %d bytes, scoring needs %d", in, size, zk.AnswerSize)
			}
		}
	case zk.OpenRequest:
		for _, in := range req.Vars {
			if err := e.requireCommitted(in); err != nil {
				return err
			}
		}
	default:
		return ErrBadRequest.Wrapf("unsupported request %T", r)
	}
	return nil
}

func (e *Engine) allocate(owner string, kind core.VariableKind) core.VarID {
	id := e.nextID
	e.nextID++
	e.vars[id] = &variable{meta: core.Variable{ID: id, Owner: owner, Kind: kind, State: core.VarPending}}
	return id
}

func (e *Engine) requireCommitted(id core.VarID) error {
	v, ok := e.vars[id]
	if !ok {
		return ErrBadRequest.Wrapf("unknown var %d", id)
	}
	if v.meta.State == core.VarPending {
		return ErrBadRequest.Wrapf("var %d has no value yet", id)
	}
	return nil
}

// InputDigest is the message an owner signs when delivering a secret.
func InputDigest(origin string, data []byte) []byte {
	return []byte(crypto.HashParts([]byte(origin), data))
}

// CommitInput delivers the owner's secret for the input requested by the
// transaction origin. The value is split into shares and the callback is
// queued for the sink; the variable becomes committed once the sink accepts
// it. Repeating a commit that is still waiting for delivery returns the same
// handle.
func (e *Engine) CommitInput(origin, owner string, data []byte, sigHex string) (core.VarID, error) {
	if err := crypto.VerifyHex(owner, InputDigest(origin, data), sigHex); err != nil {
		return 0, ErrBadInput.Wrapf("signature: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ps := e.pending[origin]
	var p *PendingInput
	for _, cand := range ps {
		if cand.Owner == owner {
			p = cand
			break
		}
	}
	if p == nil {
		if len(ps) > 0 {
			return 0, ErrWrongOwner.Wrapf("origin %s", origin)
		}
		return 0, ErrNoPendingInput.Wrapf("origin %s", origin)
	}
	if p.staged {
		e.retry()
		return p.VarID, nil
	}
	if len(data) != p.Size {
		return 0, ErrBadInput.Wrapf("want %d bytes, got %d", p.Size, len(data))
	}
	shares, err := e.split(data)
	if err != nil {
		return 0, err
	}
	v := e.vars[p.VarID]
	v.shares = shares
	p.staged = true
	e.logger.Info("input received", "var", p.VarID, "kind", p.Kind.String(), "origin", origin)

	e.outbox = append(e.outbox, delivery{
		typ:     p.callback,
		payload: core.VariablePayload{VarID: p.VarID},
		done: func() {
			v.meta.State = core.VarCommitted
			e.dropPending(origin, p)
		},
	})
	e.retry()
	return p.VarID, nil
}

func (e *Engine) dropPending(origin string, p *PendingInput) {
	ps := e.pending[origin]
	for i, cand := range ps {
		if cand == p {
			ps = append(ps[:i:i], ps[i+1:]...)
			break
		}
	}
	if len(ps) == 0 {
		delete(e.pending, origin)
		return
	}
	e.pending[origin] = ps
}

// retry flushes the outbox, leaving anything undelivered for Process.
func (e *Engine) retry() {
	if err := e.flush(); err != nil {
		e.logger.Warn("callback delivery deferred", "queued", len(e.outbox), "err", err)
	}
}

// flush hands queued callbacks to the sink in order and stops at the first
// refusal.
func (e *Engine) flush() error {
	for len(e.outbox) > 0 {
		d := e.outbox[0]
		if err := e.send(d.typ, d.payload); err != nil {
			return err
		}
		if d.done != nil {
			d.done()
		}
		e.outbox = e.outbox[1:]
	}
	return nil
}

// Process retries undelivered callbacks, then runs every queued
// computation and opening. Finished handles are reported in one batch per
// callback type. A computation that fails stays queued.
func (e *Engine) Process() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.flush(); err != nil {
		return err
	}
	if len(e.jobs) == 0 {
		return nil
	}
	jobs := e.jobs
	e.jobs = nil

	type batch struct {
		ids   []core.VarID
		dones []func()
	}
	batches := make(map[core.TxType]*batch)
	var order []core.TxType
	add := func(cb core.TxType, done func(), ids ...core.VarID) {
		b, ok := batches[cb]
		if !ok {
			b = &batch{}
			batches[cb] = b
			order = append(order, cb)
		}
		b.ids = append(b.ids, ids...)
		b.dones = append(b.dones, done)
	}

	for _, j := range jobs {
		switch {
		case j.compute != nil:
			out, err := e.score(j.compute)
			if err != nil {
				e.logger.Error("computation failed, will retry", "job", j.id, "origin", j.origin, "err", err)
				e.jobs = append(e.jobs, j)
				continue
			}
			e.logger.Debug("computation done", "job", j.id, "var", out)
			v := e.vars[out]
			add(j.callback, func() { v.meta.State = core.VarCommitted }, out)
		case j.open != nil:
			vars := j.open.Vars
			add(j.callback, func() {
				for _, id := range vars {
					v := e.vars[id]
					v.meta.Data = combine(v.shares)
					v.meta.State = core.VarOpened
				}
			}, vars...)
			e.logger.Debug("variables opened", "job", j.id, "count", len(vars))
		}
	}

	for _, cb := range order {
		b := batches[cb]
		e.outbox = append(e.outbox, delivery{
			typ:     cb,
			payload: core.VariablesPayload{VarIDs: b.ids},
			done: func() {
				for _, done := range b.dones {
					done()
				}
			},
		})
	}
	return e.flush()
}

// score evaluates the scoring circuit. Inputs are [answer key, entry].
func (e *Engine) score(req *zk.ComputeRequest) (core.VarID, error) {
	key, err := zk.DecodeAnswers(combine(e.vars[req.Inputs[0]].shares))
	if err != nil {
		return 0, fmt.Errorf("answer key: %w", err)
	}
	entry, err := zk.DecodeAnswers(combine(e.vars[req.Inputs[1]].shares))
	if err != nil {
		return 0, fmt.Errorf("entry: %w", err)
	}
	shares, err := e.split(zk.EncodeScore(zk.Score(key, entry)))
	if err != nil {
		return 0, err
	}
	id := e.allocate(e.Identity(), req.Output)
	v := e.vars[id]
	v.shares = shares
	v.size = 1
	return id, nil
}

func (e *Engine) split(data []byte) ([][]byte, error) {
	shares := make([][]byte, e.nodes)
	last := append([]byte(nil), data...)
	for i := 0; i < e.nodes-1; i++ {
		s := make([]byte, len(data))
		if _, err := io.ReadFull(e.rand, s); err != nil {
			return nil, fmt.Errorf("share randomness: %w", err)
		}
		for k := range last {
			last[k] -= s[k]
		}
		shares[i] = s
	}
	shares[e.nodes-1] = last
	return shares, nil
}

func combine(shares [][]byte) []byte {
	if len(shares) == 0 {
		return nil
	}
	out := make([]byte, len(shares[0]))
	for _, s := range shares {
		for k := range out {
			out[k] += s[k]
		}
	}
	return out
}

// send signs a callback with the engine key and the next engine nonce. The
// nonce only advances when the sink accepts the transaction.
func (e *Engine) send(typ core.TxType, payload any) error {
	tx, err := core.NewTransaction(e.chainID, typ, e.Identity(), e.nonce, payload)
	if err != nil {
		return err
	}
	tx.Sign(e.key)
	if err := e.sink.Add(tx); err != nil {
		return fmt.Errorf("deliver %s: %w", typ, err)
	}
	e.nonce++
	e.logger.Info("callback sent", "type", typ, "tx", tx.ID, "nonce", tx.Nonce)
	return nil
}

// Run calls Process every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Process(); err != nil {
				e.logger.Error("process", "err", err)
			}
		}
	}
}
