package local

import (
	"bytes"
	"testing"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/crypto"
	"github.com/tolelom/zktrivia/zk"
)

type sink struct {
	txs    []*core.Transaction
	refuse int // number of upcoming Add calls to fail
}

func (s *sink) Add(tx *core.Transaction) error {
	if s.refuse > 0 {
		s.refuse--
		return core.ErrMempoolFull
	}
	s.txs = append(s.txs, tx)
	return nil
}

func newEngine(t *testing.T) (*Engine, *sink) {
	t.Helper()
	key, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	s := &sink{}
	e, err := New(Config{ChainID: "test", Key: key, Nodes: 4}, s, log.NewNopLogger())
	require.NoError(t, err)
	return e, s
}

func origin(id string) *core.Transaction {
	return &core.Transaction{ID: id}
}

func block() *core.Block {
	return core.NewBlockAt(1, "", "test", nil, 1)
}

func commit(t *testing.T, e *Engine, priv crypto.PrivateKey, originID string, data []byte) core.VarID {
	t.Helper()
	id, err := e.CommitInput(originID, priv.Public().Hex(), data, crypto.Sign(priv, InputDigest(originID, data)))
	require.NoError(t, err)
	return id
}

func TestNewRequiresTwoNodes(t *testing.T) {
	key, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, err = New(Config{Key: key, Nodes: 1}, &sink{}, log.NewNopLogger())
	require.Error(t, err)
}

func TestSharesHideValue(t *testing.T) {
	e, _ := newEngine(t)
	secret := bytes.Repeat([]byte{7}, 32)
	shares, err := e.split(secret)
	require.NoError(t, err)
	require.Len(t, shares, 4)
	for _, s := range shares[:3] {
		require.NotEqual(t, secret, s)
	}
	require.Equal(t, secret, combine(shares))
}

func TestInputLifecycle(t *testing.T) {
	e, s := newEngine(t)
	owner, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	kind := core.AnswerKeyKind(1, 3)
	require.NoError(t, e.Apply(block(), origin("tx1"), []zk.Request{zk.InputRequest{
		Owner: owner.Public().Hex(), Kind: kind, Size: zk.AnswerSize, Callback: core.TxAnswerKeyCommitted,
	}}))

	pending, ok := e.PendingInput("tx1")
	require.True(t, ok)
	require.Len(t, pending, 1)
	v, err := e.Variable(pending[0].VarID)
	require.NoError(t, err)
	require.Equal(t, core.VarPending, v.State)
	require.Equal(t, kind, v.Kind)

	data, err := zk.EncodeAnswers([]int8{1, 2, 3})
	require.NoError(t, err)
	id := commit(t, e, owner, "tx1", data)
	require.Equal(t, pending[0].VarID, id)

	v, err = e.Variable(id)
	require.NoError(t, err)
	require.Equal(t, core.VarCommitted, v.State)
	require.Nil(t, v.Data)
	_, ok = e.PendingInput("tx1")
	require.False(t, ok)

	require.Len(t, s.txs, 1)
	cb := s.txs[0]
	require.Equal(t, core.TxAnswerKeyCommitted, cb.Type)
	require.Equal(t, e.Identity(), cb.From)
	require.Equal(t, uint64(0), cb.Nonce)
	require.NoError(t, cb.Verify())
	var p core.VariablePayload
	require.NoError(t, core.DecodePayload(cb.Payload, &p))
	require.Equal(t, id, p.VarID)
}

func TestCommitInputRejections(t *testing.T) {
	e, s := newEngine(t)
	owner, _, _ := crypto.GenerateKeyPair()
	other, _, _ := crypto.GenerateKeyPair()
	require.NoError(t, e.Apply(block(), origin("tx1"), []zk.Request{zk.InputRequest{
		Owner: owner.Public().Hex(), Kind: core.EntryKind(1, owner.Public().Hex()), Size: 4, Callback: core.TxEntryCommitted,
	}}))
	data := []byte{1, 2, 3, 4}

	_, err := e.CommitInput("tx1", owner.Public().Hex(), data, crypto.Sign(other, InputDigest("tx1", data)))
	require.ErrorIs(t, err, ErrBadInput)

	_, err = e.CommitInput("tx1", other.Public().Hex(), data, crypto.Sign(other, InputDigest("tx1", data)))
	require.ErrorIs(t, err, ErrWrongOwner)

	_, err = e.CommitInput("tx2", owner.Public().Hex(), data, crypto.Sign(owner, InputDigest("tx2", data)))
	require.ErrorIs(t, err, ErrNoPendingInput)

	_, err = e.CommitInput("tx1", owner.Public().Hex(), data[:2], crypto.Sign(owner, InputDigest("tx1", data[:2])))
	require.ErrorIs(t, err, ErrBadInput)

	require.Empty(t, s.txs)
	commit(t, e, owner, "tx1", data)
	require.Len(t, s.txs, 1)
}

func TestScoreAndOpen(t *testing.T) {
	e, s := newEngine(t)
	creator, _, _ := crypto.GenerateKeyPair()
	player, _, _ := crypto.GenerateKeyPair()

	require.NoError(t, e.Apply(block(), origin("create"), []zk.Request{zk.InputRequest{
		Owner: creator.Public().Hex(), Kind: core.AnswerKeyKind(1, 3), Size: zk.AnswerSize, Callback: core.TxAnswerKeyCommitted,
	}}))
	require.NoError(t, e.Apply(block(), origin("submit"), []zk.Request{zk.InputRequest{
		Owner: player.Public().Hex(), Kind: core.EntryKind(1, player.Public().Hex()), Size: zk.AnswerSize, Callback: core.TxEntryCommitted,
	}}))
	key, _ := zk.EncodeAnswers([]int8{1, 2, 3})
	entry, _ := zk.EncodeAnswers([]int8{1, 2, 0})
	keyVar := commit(t, e, creator, "create", key)
	entryVar := commit(t, e, player, "submit", entry)

	result := core.ResultKind(1, player.Public().Hex())
	require.NoError(t, e.Apply(block(), origin("entry"), []zk.Request{zk.ComputeRequest{
		Inputs: []core.VarID{keyVar, entryVar}, Output: result, Callback: core.TxEntryScored,
	}}))
	s.txs = nil
	require.NoError(t, e.Process())
	require.Len(t, s.txs, 1)
	var scored core.VariablesPayload
	require.NoError(t, core.DecodePayload(s.txs[0].Payload, &scored))
	require.Len(t, scored.VarIDs, 1)

	out, err := e.Variable(scored.VarIDs[0])
	require.NoError(t, err)
	require.Equal(t, result, out.Kind)
	require.Equal(t, core.VarCommitted, out.State)
	require.Nil(t, out.Data)

	require.NoError(t, e.Apply(block(), origin("finish"), []zk.Request{zk.OpenRequest{
		Vars: scored.VarIDs, Callback: core.TxResultsOpened,
	}}))
	require.NoError(t, e.Process())
	require.Len(t, s.txs, 2)
	require.Equal(t, core.TxResultsOpened, s.txs[1].Type)
	require.Equal(t, uint64(3), s.txs[1].Nonce)

	out, err = e.Variable(scored.VarIDs[0])
	require.NoError(t, err)
	require.Equal(t, core.VarOpened, out.State)
	score, err := zk.DecodeScore(out.Data)
	require.NoError(t, err)
	require.Equal(t, int8(2), score)

	// Nothing queued: no callback.
	require.NoError(t, e.Process())
	require.Len(t, s.txs, 2)
}

func TestApplyRejectsUncommittedInputs(t *testing.T) {
	e, _ := newEngine(t)
	owner, _, _ := crypto.GenerateKeyPair()
	require.NoError(t, e.Apply(block(), origin("tx1"), []zk.Request{zk.InputRequest{
		Owner: owner.Public().Hex(), Kind: core.AnswerKeyKind(1, 1), Size: 1, Callback: core.TxAnswerKeyCommitted,
	}}))
	pending, _ := e.PendingInput("tx1")

	err := e.Apply(block(), origin("tx2"), []zk.Request{zk.OpenRequest{Vars: []core.VarID{pending[0].VarID}}})
	require.ErrorIs(t, err, ErrBadRequest)
	err = e.Apply(block(), origin("tx3"), []zk.Request{zk.ComputeRequest{Inputs: []core.VarID{42, 43}}})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = e.Variable(42)
	require.ErrorIs(t, err, core.ErrUnknownVariable)
}

func TestCommitInputSurvivesRefusedDelivery(t *testing.T) {
	e, s := newEngine(t)
	owner, _, _ := crypto.GenerateKeyPair()
	require.NoError(t, e.Apply(block(), origin("submit"), []zk.Request{zk.InputRequest{
		Owner: owner.Public().Hex(), Kind: core.EntryKind(1, owner.Public().Hex()), Size: 4, Callback: core.TxEntryCommitted,
	}}))

	s.refuse = 1
	data := []byte{1, 2, 3, 4}
	id := commit(t, e, owner, "submit", data)
	require.Empty(t, s.txs)
	v, err := e.Variable(id)
	require.NoError(t, err)
	require.Equal(t, core.VarPending, v.State)
	pending, ok := e.PendingInput("submit")
	require.True(t, ok)
	require.Equal(t, id, pending[0].VarID)

	s.refuse = 1
	again := commit(t, e, owner, "submit", data)
	require.Equal(t, id, again)
	require.Empty(t, s.txs)

	require.NoError(t, e.Process())
	require.Len(t, s.txs, 1)
	require.Equal(t, core.TxEntryCommitted, s.txs[0].Type)
	require.Equal(t, uint64(0), s.txs[0].Nonce)
	v, err = e.Variable(id)
	require.NoError(t, err)
	require.Equal(t, core.VarCommitted, v.State)
	_, ok = e.PendingInput("submit")
	require.False(t, ok)

	require.NoError(t, e.Process())
	require.Len(t, s.txs, 1, "delivered once")
}

func TestOpenSurvivesRefusedDelivery(t *testing.T) {
	e, s := newEngine(t)
	creator, _, _ := crypto.GenerateKeyPair()
	player, _, _ := crypto.GenerateKeyPair()
	require.NoError(t, e.Apply(block(), origin("create"), []zk.Request{zk.InputRequest{
		Owner: creator.Public().Hex(), Kind: core.AnswerKeyKind(1, 2), Size: zk.AnswerSize, Callback: core.TxAnswerKeyCommitted,
	}}))
	require.NoError(t, e.Apply(block(), origin("submit"), []zk.Request{zk.InputRequest{
		Owner: player.Public().Hex(), Kind: core.EntryKind(1, player.Public().Hex()), Size: zk.AnswerSize, Callback: core.TxEntryCommitted,
	}}))
	key, _ := zk.EncodeAnswers([]int8{1, 2})
	keyVar := commit(t, e, creator, "create", key)
	entryVar := commit(t, e, player, "submit", key)

	require.NoError(t, e.Apply(block(), origin("entry"), []zk.Request{zk.ComputeRequest{
		Inputs: []core.VarID{keyVar, entryVar}, Output: core.ResultKind(1, player.Public().Hex()), Callback: core.TxEntryScored,
	}}))
	s.refuse = 1
	require.ErrorIs(t, e.Process(), core.ErrMempoolFull)
	require.Len(t, s.txs, 2)
	require.NoError(t, e.Process())
	require.Len(t, s.txs, 3)
	var scored core.VariablesPayload
	require.NoError(t, core.DecodePayload(s.txs[2].Payload, &scored))
	result := scored.VarIDs[0]

	require.NoError(t, e.Apply(block(), origin("finish"), []zk.Request{zk.OpenRequest{
		Vars: []core.VarID{result}, Callback: core.TxResultsOpened,
	}}))
	s.refuse = 1
	require.ErrorIs(t, e.Process(), core.ErrMempoolFull)
	v, err := e.Variable(result)
	require.NoError(t, err)
	require.Equal(t, core.VarCommitted, v.State, "not opened until delivered")
	require.Nil(t, v.Data)

	require.NoError(t, e.Process())
	require.Len(t, s.txs, 4)
	require.Equal(t, core.TxResultsOpened, s.txs[3].Type)
	require.Equal(t, uint64(3), s.txs[3].Nonce)
	v, err = e.Variable(result)
	require.NoError(t, err)
	require.Equal(t, core.VarOpened, v.State)
	score, err := zk.DecodeScore(v.Data)
	require.NoError(t, err)
	require.Equal(t, int8(2), score)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	e, _ := newEngine(t)
	owner, _, _ := crypto.GenerateKeyPair()
	err := e.Apply(block(), origin("tx1"), []zk.Request{
		zk.InputRequest{Owner: owner.Public().Hex(), Kind: core.AnswerKeyKind(1, 1), Size: 1, Callback: core.TxAnswerKeyCommitted},
		zk.OpenRequest{Vars: []core.VarID{99}},
	})
	require.ErrorIs(t, err, ErrBadRequest)
	_, ok := e.PendingInput("tx1")
	require.False(t, ok)
	_, err = e.Variable(1)
	require.ErrorIs(t, err, core.ErrUnknownVariable)
}
