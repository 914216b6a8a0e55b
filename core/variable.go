package core

import "fmt"

// VarID is an opaque handle to a secret variable living in the computation
// engine. Handles are weak references: the value itself never enters chain
// state, and handle ordering carries no game association.
type VarID uint64

// KindType discriminates the VariableKind tagged union.
type KindType string

const (
	KindAnswerKey KindType = "answer_key"
	KindEntry     KindType = "entry"
	KindResult    KindType = "result"
)

// VariableKind is the metadata tag attached to a secret variable when it is
// requested. It is the only way to correlate an asynchronous engine event
// back to the game and player it belongs to.
type VariableKind struct {
	Type   KindType `json:"type"`
	GameID uint32   `json:"game_id"`
	Length uint8    `json:"length,omitempty"` // answer_key only
	Player string   `json:"player,omitempty"` // entry and result
}

// AnswerKeyKind tags the secret answer key of a game.
func AnswerKeyKind(gameID uint32, length uint8) VariableKind {
	return VariableKind{Type: KindAnswerKey, GameID: gameID, Length: length}
}

// EntryKind tags a player's secret answers.
func EntryKind(gameID uint32, player string) VariableKind {
	return VariableKind{Type: KindEntry, GameID: gameID, Player: player}
}

// ResultKind tags the secret score computed for a player's entry.
func ResultKind(gameID uint32, player string) VariableKind {
	return VariableKind{Type: KindResult, GameID: gameID, Player: player}
}

func (k VariableKind) String() string {
	switch k.Type {
	case KindAnswerKey:
		return fmt.Sprintf("AnswerKey{game=%d len=%d}", k.GameID, k.Length)
	case KindEntry, KindResult:
		return fmt.Sprintf("%s{game=%d player=%s}", k.Type, k.GameID, k.Player)
	default:
		return fmt.Sprintf("unknown(%q)", k.Type)
	}
}

// VarState is the lifecycle of a secret variable inside the engine.
type VarState string

const (
	VarPending   VarState = "pending"   // input requested, value not delivered yet
	VarCommitted VarState = "committed" // value held secret-shared
	VarOpened    VarState = "opened"    // value reconstructed in the clear
)

// Variable is the engine's public view of a secret variable. Data is only
// populated once the variable has been opened.
type Variable struct {
	ID    VarID        `json:"id"`
	Owner string       `json:"owner"`
	Kind  VariableKind `json:"kind"`
	State VarState     `json:"state"`
	Data  []byte       `json:"data,omitempty"`
}
