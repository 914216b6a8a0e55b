package trivia

import (
	"errors"
	"slices"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/vm"
)

// resolve looks up a delivered handle and checks it carries the tag and
// lifecycle state the event type implies. Anything else means the engine
// and the registry disagree, which is unrecoverable.
func resolve(ctx *vm.Context, id core.VarID, want core.KindType, state core.VarState) (*core.Variable, error) {
	v, err := ctx.ZK.Variable(id)
	if err != nil {
		if errors.Is(err, core.ErrUnknownVariable) {
			return nil, err
		}
		return nil, core.ErrUnknownVariable.Wrapf("var %d: %v", id, err)
	}
	if v.Kind.Type != want {
		return nil, core.ErrProtocolViolation.Wrapf("var %d is %s, want %s", id, v.Kind, want)
	}
	if v.State != state {
		return nil, core.ErrProtocolViolation.Wrapf("var %d is %s, want %s", id, v.State, state)
	}
	return v, nil
}

// loadGame fetches a game named by a client action.
func loadGame(ctx *vm.Context, id uint32) (*core.Game, error) {
	g, err := ctx.State.GetGame(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrGameNotFound.Wrapf("game %d", id)
	}
	return g, err
}

// gameOf fetches the game a variable is tagged with. The tag was written by
// this module, so a missing game is a protocol violation.
func gameOf(ctx *vm.Context, v *core.Variable) (*core.Game, error) {
	g, err := ctx.State.GetGame(v.Kind.GameID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrProtocolViolation.Wrapf("var %d tagged with unknown game %d", v.ID, v.Kind.GameID)
	}
	return g, err
}

// batch accumulates the games touched while dispatching a list of handles.
// Each game is loaded once, mutated in place and written back once.
type batch struct {
	ctx   *vm.Context
	games map[uint32]*core.Game
}

func newBatch(ctx *vm.Context) *batch {
	return &batch{ctx: ctx, games: make(map[uint32]*core.Game)}
}

func (b *batch) game(v *core.Variable) (*core.Game, error) {
	if g, ok := b.games[v.Kind.GameID]; ok {
		return g, nil
	}
	g, err := gameOf(b.ctx, v)
	if err != nil {
		return nil, err
	}
	b.games[g.ID] = g
	return g, nil
}

// touched returns the distinct games in ascending id order.
func (b *batch) touched() []*core.Game {
	ids := make([]uint32, 0, len(b.games))
	for id := range b.games {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*core.Game, len(ids))
	for i, id := range ids {
		out[i] = b.games[id]
	}
	return out
}

func (b *batch) flush() error {
	for _, g := range b.touched() {
		if err := b.ctx.State.SetGame(g); err != nil {
			return err
		}
	}
	return nil
}
