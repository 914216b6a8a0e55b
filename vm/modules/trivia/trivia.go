// Package trivia implements the game lifecycle: creation, answer
// submission, secret scoring and leaderboard publication. Client actions
// and engine-delivered events are both plain transactions.
package trivia

import (
	"encoding/json"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/events"
	"github.com/tolelom/zktrivia/vm"
	"github.com/tolelom/zktrivia/zk"
)

func init() {
	vm.Register(core.TxCreateGame, handleCreateGame)
	vm.Register(core.TxSubmitAnswers, handleSubmitAnswers)
	vm.Register(core.TxFinishGame, handleFinishGame)

	vm.RegisterEngine(core.TxAnswerKeyCommitted, handleAnswerKeyCommitted)
	vm.RegisterEngine(core.TxEntryCommitted, handleEntryCommitted)
	vm.RegisterEngine(core.TxEntryScored, handleEntryScored)
	vm.RegisterEngine(core.TxResultsOpened, handleResultsOpened)
}

func handleCreateGame(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateGamePayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	if p.QuestionCount == 0 {
		return core.ErrInvalidRequest.Wrap("question_count must be positive")
	}
	if p.QuestionCount > core.MaxQuestions {
		return core.ErrTooManyQuestions.Wrapf("%d > %d", p.QuestionCount, core.MaxQuestions)
	}
	if p.Deadline <= ctx.Now() {
		return core.ErrDeadlinePassed.Wrapf("deadline %d is not after %d", p.Deadline, ctx.Now())
	}

	if p.Info != nil {
		if err := p.Info.Validate(p.QuestionCount); err != nil {
			return err
		}
	}

	g := core.NewGame(p.GameID, ctx.Sender(), p.Deadline, p.QuestionCount, ctx.Now())
	g.Info = p.Info
	if err := ctx.State.RegisterGame(g); err != nil {
		return err
	}
	ctx.Request(zk.InputRequest{
		Owner:    ctx.Sender(),
		Kind:     core.AnswerKeyKind(p.GameID, p.QuestionCount),
		Size:     zk.AnswerSize,
		Callback: core.TxAnswerKeyCommitted,
	})
	ctx.Emit(events.EventGameCreated, map[string]any{
		"game_id":        p.GameID,
		"creator":        g.Creator,
		"deadline":       p.Deadline,
		"question_count": p.QuestionCount,
	})
	ctx.Logger.Info("game created", "game", p.GameID, "deadline", p.Deadline)
	return nil
}

func handleAnswerKeyCommitted(ctx *vm.Context, payload json.RawMessage) error {
	var p core.VariablePayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	v, err := resolve(ctx, p.VarID, core.KindAnswerKey, core.VarCommitted)
	if err != nil {
		return err
	}
	g, err := gameOf(ctx, v)
	if err != nil {
		return err
	}
	if v.Owner != g.Creator {
		return core.ErrProtocolViolation.Wrapf("answer key %d owned by %s, game %d created by %s", v.ID, v.Owner, g.ID, g.Creator)
	}
	if err := g.Start(v.ID); err != nil {
		return err
	}
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}
	ctx.Emit(events.EventGameStarted, map[string]any{"game_id": g.ID, "answer_key_var": v.ID})
	return nil
}

func handleSubmitAnswers(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GamePayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	g, err := loadGame(ctx, p.GameID)
	if err != nil {
		return err
	}
	player := ctx.Sender()
	if err := g.AddPlayer(player, ctx.Now()); err != nil {
		return err
	}
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}
	ctx.Request(zk.InputRequest{
		Owner:    player,
		Kind:     core.EntryKind(g.ID, player),
		Size:     zk.AnswerSize,
		Callback: core.TxEntryCommitted,
	})
	ctx.Emit(events.EventAnswersSubmitted, map[string]any{"game_id": g.ID, "player": player})
	return nil
}

func handleEntryCommitted(ctx *vm.Context, payload json.RawMessage) error {
	var p core.VariablePayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	v, err := resolve(ctx, p.VarID, core.KindEntry, core.VarCommitted)
	if err != nil {
		return err
	}
	if v.Owner != v.Kind.Player {
		return core.ErrProtocolViolation.Wrapf("entry %d owned by %s but tagged for %s", v.ID, v.Owner, v.Kind.Player)
	}
	g, err := gameOf(ctx, v)
	if err != nil {
		return err
	}
	if g.AnswerKeyVar == nil {
		return core.ErrProtocolViolation.Wrapf("game %d has entries but no answer key", g.ID)
	}
	if err := g.RecordEntry(v.ID); err != nil {
		return err
	}
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}
	ctx.Request(zk.ComputeRequest{
		Inputs:   []core.VarID{*g.AnswerKeyVar, v.ID},
		Output:   core.ResultKind(g.ID, v.Kind.Player),
		Callback: core.TxEntryScored,
	})
	ctx.Emit(events.EventEntryRecorded, map[string]any{"game_id": g.ID, "player": v.Kind.Player, "var_id": v.ID})
	return nil
}

func handleEntryScored(ctx *vm.Context, payload json.RawMessage) error {
	var p core.VariablesPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	b := newBatch(ctx)
	for _, id := range p.VarIDs {
		v, err := resolve(ctx, id, core.KindResult, core.VarCommitted)
		if err != nil {
			return err
		}
		g, err := b.game(v)
		if err != nil {
			return err
		}
		if err := g.RecordResult(v.ID); err != nil {
			return err
		}
	}
	if err := b.flush(); err != nil {
		return err
	}
	for _, g := range b.touched() {
		ctx.Emit(events.EventResultRecorded, map[string]any{
			"game_id": g.ID,
			"results": len(g.ResultVars),
			"pending": g.PendingComputations(),
		})
	}
	return nil
}

func handleFinishGame(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GamePayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	g, err := loadGame(ctx, p.GameID)
	if err != nil {
		return err
	}
	if err := g.Complete(ctx.Now()); err != nil {
		return err
	}
	ctx.Emit(events.EventGameFinished, map[string]any{"game_id": g.ID, "results": len(g.ResultVars)})

	if len(g.ResultVars) == 0 {
		if err := g.Publish(); err != nil {
			return err
		}
		ctx.Emit(events.EventGamePublished, map[string]any{"game_id": g.ID, "leaderboard": g.Leaderboard})
	} else {
		ctx.Request(zk.OpenRequest{
			Vars:     append([]core.VarID(nil), g.ResultVars...),
			Callback: core.TxResultsOpened,
		})
	}
	return ctx.State.SetGame(g)
}

func handleResultsOpened(ctx *vm.Context, payload json.RawMessage) error {
	var p core.VariablesPayload
	if err := core.DecodePayload(payload, &p); err != nil {
		return err
	}
	b := newBatch(ctx)
	for _, id := range p.VarIDs {
		v, err := resolve(ctx, id, core.KindResult, core.VarOpened)
		if err != nil {
			return err
		}
		score, err := zk.DecodeScore(v.Data)
		if err != nil {
			return core.ErrProtocolViolation.Wrapf("var %d: %v", v.ID, err)
		}
		g, err := b.game(v)
		if err != nil {
			return err
		}
		if err := g.AddLeaderboardEntry(core.LeaderboardPosition{
			GameID: g.ID,
			Player: v.Kind.Player,
			Score:  score,
		}); err != nil {
			return err
		}
	}

	for _, g := range b.touched() {
		if len(g.Leaderboard) < len(g.ResultVars) {
			continue
		}
		if err := g.Publish(); err != nil {
			return err
		}
		ctx.Emit(events.EventGamePublished, map[string]any{"game_id": g.ID, "leaderboard": g.Leaderboard})
		ctx.Logger.Info("game published", "game", g.ID, "players", len(g.Leaderboard))
	}
	return b.flush()
}
