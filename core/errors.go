package core

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Codespace of the trivia action errors carried in receipts.
const Codespace = "trivia"

// User/input errors. The action is rejected and has no state effect.
var (
	ErrInvalidRequest     = errorsmod.Register(Codespace, 1, "invalid request")
	ErrGameExists         = errorsmod.Register(Codespace, 2, "game id already used")
	ErrGameNotFound       = errorsmod.Register(Codespace, 3, "unknown game id")
	ErrTooManyQuestions   = errorsmod.Register(Codespace, 4, "too many questions")
	ErrDeadlinePassed     = errorsmod.Register(Codespace, 5, "deadline passed")
	ErrDeadlineNotReached = errorsmod.Register(Codespace, 6, "deadline not reached")
	ErrAlreadySubmitted   = errorsmod.Register(Codespace, 7, "player already submitted")
	ErrInvalidStatus      = errorsmod.Register(Codespace, 8, "invalid game status")
	ErrComputationPending = errorsmod.Register(Codespace, 9, "score computations still pending")
	ErrUnauthorized       = errorsmod.Register(Codespace, 10, "unauthorized")
	ErrDuplicateVariable  = errorsmod.Register(Codespace, 11, "secret variable already recorded")
	ErrInvalidTx          = errorsmod.Register(Codespace, 12, "invalid transaction")
)

// Protocol invariant violations. These mean the contract between the core and
// the computation engine is broken; the sequencer halts instead of recovering.
var (
	ErrProtocolViolation = errorsmod.Register(Codespace, 100, "protocol invariant violation")
	ErrUnknownVariable   = errorsmod.Register(Codespace, 101, "unknown secret variable")
)

// IsFatal reports whether err must halt block production.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrUnknownVariable)
}
