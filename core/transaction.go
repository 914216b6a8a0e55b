package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/zktrivia/crypto"
)

// TxType identifies the action a transaction invokes.
type TxType string

const (
	// Actions sent by creators and players.
	TxCreateGame    TxType = "trivia/create_game"
	TxSubmitAnswers TxType = "trivia/submit_answers"
	TxFinishGame    TxType = "trivia/finish_game"

	// Events delivered by the computation engine.
	TxAnswerKeyCommitted TxType = "trivia/answer_key_committed"
	TxEntryCommitted     TxType = "trivia/entry_committed"
	TxEntryScored        TxType = "trivia/entry_scored"
	TxResultsOpened      TxType = "trivia/results_opened"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"` // ns, client clock
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	if err := crypto.VerifyHex(tx.From, []byte(tx.Hash()), tx.Signature); err != nil {
		return fmt.Errorf("tx %s: %w", tx.ID, err)
	}
	return nil
}

// DecodePayload unmarshals a transaction payload into v, mapping failures to
// ErrInvalidTx.
func DecodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrInvalidTx.Wrapf("decode payload: %v", err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// CreateGamePayload starts a game and requests the secret answer key.
type CreateGamePayload struct {
	GameID        uint32    `json:"game_id"`
	QuestionCount uint8     `json:"question_count"`
	Deadline      int64     `json:"deadline"`       // ms since epoch
	Info          *GameInfo `json:"info,omitempty"` // public description
}

// GamePayload addresses an existing game (submit_answers, finish_game).
type GamePayload struct {
	GameID uint32 `json:"game_id"`
}

// VariablePayload delivers a single committed variable.
type VariablePayload struct {
	VarID VarID `json:"var_id"`
}

// VariablesPayload delivers a batch of computed or opened variables.
type VariablesPayload struct {
	VarIDs []VarID `json:"var_ids"`
}
