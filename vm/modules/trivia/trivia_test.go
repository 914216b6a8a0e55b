package trivia

import (
	"testing"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/crypto"
	"github.com/tolelom/zktrivia/events"
	"github.com/tolelom/zktrivia/internal/testutil"
	"github.com/tolelom/zktrivia/storage"
	"github.com/tolelom/zktrivia/vm"
	"github.com/tolelom/zktrivia/zk"
	"github.com/tolelom/zktrivia/zk/local"
)

const testChainID = "trivia-test"

type sink struct{ txs []*core.Transaction }

func (s *sink) Add(tx *core.Transaction) error {
	s.txs = append(s.txs, tx)
	return nil
}

type harness struct {
	t       *testing.T
	state   *storage.StateDB
	engine  *local.Engine
	engKey  crypto.PrivateKey
	sink    *sink
	emitter *events.Emitter
	exec    *vm.Executor
	height  int64
	now     int64
	nonces  map[string]uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	state := testutil.NewStateDB()
	engKey, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, state.SetParams(&core.Params{ChainID: testChainID, Engine: engKey.Public().Hex()}))
	require.NoError(t, state.Commit())

	s := &sink{}
	eng, err := local.New(local.Config{ChainID: testChainID, Key: engKey, Nodes: 3}, s, log.NewNopLogger())
	require.NoError(t, err)
	emitter := events.NewEmitter(log.NewNopLogger())
	return &harness{
		t:       t,
		state:   state,
		engine:  eng,
		engKey:  engKey,
		sink:    s,
		emitter: emitter,
		exec:    vm.NewExecutor(state, eng, emitter, log.NewNopLogger()),
		now:     1_000_000,
		nonces:  make(map[string]uint64),
	}
}

func (h *harness) newKey() crypto.PrivateKey {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(h.t, err)
	return priv
}

func (h *harness) tx(priv crypto.PrivateKey, typ core.TxType, payload any) *core.Transaction {
	from := priv.Public().Hex()
	tx, err := core.NewTransaction(testChainID, typ, from, h.nonces[from], payload)
	require.NoError(h.t, err)
	tx.Sign(priv)
	h.nonces[from]++
	return tx
}

// engineTx forges a callback with the engine key outside the engine's own
// nonce sequence; only usable at the end of a test.
func (h *harness) engineTx(typ core.TxType, payload any) *core.Transaction {
	acc, err := h.state.GetAccount(h.engKey.Public().Hex())
	require.NoError(h.t, err)
	tx, err := core.NewTransaction(testChainID, typ, acc.Address, acc.Nonce, payload)
	require.NoError(h.t, err)
	tx.Sign(h.engKey)
	return tx
}

func (h *harness) runErr(txs ...*core.Transaction) ([]core.Receipt, error) {
	h.height++
	block := core.NewBlockAt(h.height, "", "test", txs, h.now)
	if err := h.exec.ExecuteBlock(block); err != nil {
		return nil, err
	}
	require.NoError(h.t, h.state.Commit())
	return block.Receipts, nil
}

func (h *harness) run(txs ...*core.Transaction) []core.Receipt {
	h.t.Helper()
	receipts, err := h.runErr(txs...)
	require.NoError(h.t, err)
	require.Len(h.t, receipts, len(txs))
	return receipts
}

// deliver executes every callback the engine has produced so far.
func (h *harness) deliver() []core.Receipt {
	h.t.Helper()
	txs := h.sink.txs
	h.sink.txs = nil
	require.NotEmpty(h.t, txs, "engine produced no callbacks")
	receipts := h.run(txs...)
	for _, r := range receipts {
		require.True(h.t, r.OK(), "callback rejected: %s", r.Log)
	}
	return receipts
}

func (h *harness) commit(priv crypto.PrivateKey, origin *core.Transaction, answers ...int8) {
	h.t.Helper()
	data, err := zk.EncodeAnswers(answers)
	require.NoError(h.t, err)
	sig := crypto.Sign(priv, local.InputDigest(origin.ID, data))
	_, err = h.engine.CommitInput(origin.ID, priv.Public().Hex(), data, sig)
	require.NoError(h.t, err)
}

func (h *harness) game(id uint32) *core.Game {
	h.t.Helper()
	g, err := h.state.GetGame(id)
	require.NoError(h.t, err)
	return g
}

// startGame creates game id with the given key and returns the creator.
func (h *harness) startGame(id uint32, deadline int64, key ...int8) crypto.PrivateKey {
	h.t.Helper()
	creator := h.newKey()
	create := h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: id, QuestionCount: uint8(len(key)), Deadline: deadline})
	requireOK(h.t, h.run(create)[0])
	h.commit(creator, create, key...)
	h.deliver()
	require.Equal(h.t, core.StatusInProgress, h.game(id).Status)
	return creator
}

// play submits and commits answers for a fresh player and returns it.
func (h *harness) play(id uint32, answers ...int8) crypto.PrivateKey {
	h.t.Helper()
	player := h.newKey()
	submit := h.tx(player, core.TxSubmitAnswers, core.GamePayload{GameID: id})
	requireOK(h.t, h.run(submit)[0])
	h.commit(player, submit, answers...)
	h.deliver()
	return player
}

func requireOK(t *testing.T, r core.Receipt) {
	t.Helper()
	require.True(t, r.OK(), "receipt: %s", r.Log)
}

func requireCode(t *testing.T, r core.Receipt, want *errorsmod.Error) {
	t.Helper()
	require.Equal(t, want.Codespace(), r.Codespace, r.Log)
	require.Equal(t, want.ABCICode(), r.Code, r.Log)
}

func TestThreeQuestionGame(t *testing.T) {
	h := newHarness(t)
	deadline := h.now + 10_000
	h.startGame(7, deadline, 1, 2, 3)

	a := h.play(7, 1, 2, 3)
	b := h.play(7, 1, 0, 0)
	g := h.game(7)
	require.Len(t, g.EntryVars, 2)
	require.Equal(t, 2, g.PendingComputations())

	require.NoError(t, h.engine.Process())
	require.Len(t, h.sink.txs, 1, "scores delivered as one batch")
	h.deliver()
	require.Zero(t, h.game(7).PendingComputations())

	h.now = deadline
	requireOK(t, h.run(h.tx(h.newKey(), core.TxFinishGame, core.GamePayload{GameID: 7}))[0])
	require.Equal(t, core.StatusComplete, h.game(7).Status)

	require.NoError(t, h.engine.Process())
	h.deliver()

	g = h.game(7)
	require.Equal(t, core.StatusPublished, g.Status)
	require.Equal(t, core.Leaderboard{
		{GameID: 7, Player: a.Public().Hex(), Score: 3},
		{GameID: 7, Player: b.Public().Hex(), Score: 1},
	}, g.Leaderboard)
}

func TestCreateGameRejected(t *testing.T) {
	h := newHarness(t)
	creator := h.newKey()

	r := h.run(
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 1, QuestionCount: 3, Deadline: h.now + 100}),
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 1, QuestionCount: 5, Deadline: h.now + 500}),
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 2, QuestionCount: core.MaxQuestions + 1, Deadline: h.now + 100}),
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 3, QuestionCount: 3, Deadline: h.now}),
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 4, QuestionCount: 0, Deadline: h.now + 100}),
	)
	requireOK(t, r[0])
	requireCode(t, r[1], core.ErrGameExists)
	requireCode(t, r[2], core.ErrTooManyQuestions)
	requireCode(t, r[3], core.ErrDeadlinePassed)
	requireCode(t, r[4], core.ErrInvalidRequest)

	g := h.game(1)
	require.Equal(t, uint8(3), g.QuestionCount)
	require.Equal(t, h.now+100, g.Deadline)
	for _, id := range []uint32{2, 3, 4} {
		ok, err := h.state.HasGame(id)
		require.NoError(t, err)
		require.False(t, ok, "game %d", id)
	}
	ids, err := h.state.GameIDs()
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, ids)

	acc, err := h.state.GetAccount(creator.Public().Hex())
	require.NoError(t, err)
	require.Equal(t, uint64(5), acc.Nonce, "rejected actions still consume nonces")
}

func TestCreateGameWithInfo(t *testing.T) {
	h := newHarness(t)
	creator := h.newKey()
	info := &core.GameInfo{
		Name:        "Capitals",
		Description: "European capital cities",
		Category:    "geography",
		Questions: []core.Question{
			{Text: "Capital of France?", Choices: []string{"Lyon", "Paris"}},
			{Text: "Capital of Spain?", Choices: []string{"Madrid", "Seville"}},
		},
	}
	short := *info
	short.Name = "ab"

	r := h.run(
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 1, QuestionCount: 2, Deadline: h.now + 100, Info: info}),
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 2, QuestionCount: 2, Deadline: h.now + 100, Info: &short}),
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 3, QuestionCount: 3, Deadline: h.now + 100, Info: info}),
	)
	requireOK(t, r[0])
	requireCode(t, r[1], core.ErrInvalidRequest)
	requireCode(t, r[2], core.ErrInvalidRequest)

	require.Equal(t, info, h.game(1).Info)
	ids, err := h.state.GameIDs()
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, ids)
}

func TestSubmitBeforeStart(t *testing.T) {
	h := newHarness(t)
	creator := h.newKey()
	requireOK(t, h.run(h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 1, QuestionCount: 2, Deadline: h.now + 100}))[0])

	r := h.run(h.tx(h.newKey(), core.TxSubmitAnswers, core.GamePayload{GameID: 1}))
	requireCode(t, r[0], core.ErrInvalidStatus)
	r = h.run(h.tx(h.newKey(), core.TxSubmitAnswers, core.GamePayload{GameID: 99}))
	requireCode(t, r[0], core.ErrGameNotFound)
}

func TestSubmitDeadlineBoundary(t *testing.T) {
	h := newHarness(t)
	deadline := h.now + 1_000
	h.startGame(1, deadline, 4, 4)

	early := h.newKey()
	h.now = deadline - 1
	requireOK(t, h.run(h.tx(early, core.TxSubmitAnswers, core.GamePayload{GameID: 1}))[0])

	r := h.run(h.tx(early, core.TxSubmitAnswers, core.GamePayload{GameID: 1}))
	requireCode(t, r[0], core.ErrAlreadySubmitted)
	require.Equal(t, []string{early.Public().Hex()}, h.game(1).Players)

	h.now = deadline
	r = h.run(h.tx(h.newKey(), core.TxSubmitAnswers, core.GamePayload{GameID: 1}))
	requireCode(t, r[0], core.ErrDeadlinePassed)
	require.Len(t, h.game(1).Players, 1)
}

func TestFinishGame(t *testing.T) {
	h := newHarness(t)
	deadline := h.now + 1_000
	h.startGame(1, deadline, 1)
	anyone := h.newKey()

	r := h.run(h.tx(anyone, core.TxFinishGame, core.GamePayload{GameID: 1}))
	requireCode(t, r[0], core.ErrDeadlineNotReached)
	r = h.run(h.tx(anyone, core.TxFinishGame, core.GamePayload{GameID: 42}))
	requireCode(t, r[0], core.ErrGameNotFound)

	h.play(1, 1)
	h.now = deadline
	r = h.run(h.tx(anyone, core.TxFinishGame, core.GamePayload{GameID: 1}))
	requireCode(t, r[0], core.ErrComputationPending)
	require.Equal(t, core.StatusInProgress, h.game(1).Status)

	require.NoError(t, h.engine.Process())
	h.deliver()
	requireOK(t, h.run(h.tx(anyone, core.TxFinishGame, core.GamePayload{GameID: 1}))[0])

	r = h.run(h.tx(anyone, core.TxFinishGame, core.GamePayload{GameID: 1}))
	requireCode(t, r[0], core.ErrInvalidStatus)
}

func TestFinishWithoutPlayersPublishesEmpty(t *testing.T) {
	h := newHarness(t)
	deadline := h.now + 10
	h.startGame(3, deadline, 1, 2)

	var published int
	h.emitter.Subscribe(events.EventGamePublished, func(events.Event) { published++ })

	h.now = deadline + 5
	requireOK(t, h.run(h.tx(h.newKey(), core.TxFinishGame, core.GamePayload{GameID: 3}))[0])
	g := h.game(3)
	require.Equal(t, core.StatusPublished, g.Status)
	require.Empty(t, g.Leaderboard)
	require.Equal(t, 1, published)
	require.Empty(t, h.sink.txs)
}

func TestPublishedIsTerminal(t *testing.T) {
	h := newHarness(t)
	deadline := h.now + 10
	creator := h.startGame(3, deadline, 1)
	h.now = deadline
	requireOK(t, h.run(h.tx(creator, core.TxFinishGame, core.GamePayload{GameID: 3}))[0])

	before := h.game(3)
	r := h.run(
		h.tx(h.newKey(), core.TxSubmitAnswers, core.GamePayload{GameID: 3}),
		h.tx(creator, core.TxFinishGame, core.GamePayload{GameID: 3}),
		h.tx(creator, core.TxCreateGame, core.CreateGamePayload{GameID: 3, QuestionCount: 1, Deadline: h.now + 10}),
	)
	requireCode(t, r[0], core.ErrInvalidStatus)
	requireCode(t, r[1], core.ErrInvalidStatus)
	requireCode(t, r[2], core.ErrGameExists)
	require.Equal(t, before, h.game(3))
}

func TestEngineEventsRequireEngineSender(t *testing.T) {
	h := newHarness(t)
	mallory := h.newKey()
	r := h.run(
		h.tx(mallory, core.TxEntryScored, core.VariablesPayload{VarIDs: []core.VarID{1}}),
		h.tx(mallory, core.TxAnswerKeyCommitted, core.VariablePayload{VarID: 1}),
	)
	requireCode(t, r[0], core.ErrUnauthorized)
	requireCode(t, r[1], core.ErrUnauthorized)
}

func TestReplayedEntryDoesNotDuplicate(t *testing.T) {
	h := newHarness(t)
	h.startGame(1, h.now+1_000, 1, 2)
	h.play(1, 1, 2)
	g := h.game(1)
	require.Len(t, g.EntryVars, 1)

	r := h.run(h.engineTx(core.TxEntryCommitted, core.VariablePayload{VarID: g.EntryVars[0]}))
	requireCode(t, r[0], core.ErrDuplicateVariable)
	require.Equal(t, g.EntryVars, h.game(1).EntryVars)
}

func TestMultiGameOpeningPublishesEachOnce(t *testing.T) {
	h := newHarness(t)
	deadline := h.now + 1_000
	h.startGame(1, deadline, 1, 1)
	h.startGame(2, deadline, 2, 2)
	p1 := h.play(1, 1, 0)
	p2 := h.play(2, 2, 2)
	p3 := h.play(2, 0, 2)
	require.NoError(t, h.engine.Process())
	h.deliver()

	published := map[any]int{}
	h.emitter.Subscribe(events.EventGamePublished, func(ev events.Event) { published[ev.Data["game_id"]]++ })

	h.now = deadline
	anyone := h.newKey()
	r := h.run(
		h.tx(anyone, core.TxFinishGame, core.GamePayload{GameID: 1}),
		h.tx(anyone, core.TxFinishGame, core.GamePayload{GameID: 2}),
	)
	requireOK(t, r[0])
	requireOK(t, r[1])

	require.NoError(t, h.engine.Process())
	require.Len(t, h.sink.txs, 1, "both openings share one batch")
	h.deliver()

	require.Equal(t, map[any]int{uint32(1): 1, uint32(2): 1}, published)
	require.Equal(t, core.Leaderboard{{GameID: 1, Player: p1.Public().Hex(), Score: 1}}, h.game(1).Leaderboard)
	require.Equal(t, core.Leaderboard{
		{GameID: 2, Player: p2.Public().Hex(), Score: 2},
		{GameID: 2, Player: p3.Public().Hex(), Score: 1},
	}, h.game(2).Leaderboard)
}

func TestProtocolViolationIsFatal(t *testing.T) {
	t.Run("unknown variable", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runErr(h.engineTx(core.TxEntryCommitted, core.VariablePayload{VarID: 9999}))
		require.Error(t, err)
		require.True(t, core.IsFatal(err))
		require.ErrorIs(t, err, core.ErrUnknownVariable)
	})
	t.Run("kind mismatch", func(t *testing.T) {
		h := newHarness(t)
		h.startGame(1, h.now+1_000, 1)
		key := *h.game(1).AnswerKeyVar
		_, err := h.runErr(h.engineTx(core.TxEntryCommitted, core.VariablePayload{VarID: key}))
		require.ErrorIs(t, err, core.ErrProtocolViolation)
	})
}
