package wallet

import (
	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/crypto"
	"github.com/tolelom/zktrivia/zk"
	"github.com/tolelom/zktrivia/zk/local"
)

// Wallet holds a key pair and provides transaction-building helpers for
// creators and players.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key, the player identity.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// CreateGame builds a create_game action. deadline is in ms since epoch.
func (w *Wallet) CreateGame(chainID string, nonce uint64, gameID uint32, questionCount uint8, deadline int64) (*core.Transaction, error) {
	return w.CreateGameWithInfo(chainID, nonce, gameID, questionCount, deadline, nil)
}

// CreateGameWithInfo is CreateGame with a public description attached.
func (w *Wallet) CreateGameWithInfo(chainID string, nonce uint64, gameID uint32, questionCount uint8, deadline int64, info *core.GameInfo) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxCreateGame, nonce, core.CreateGamePayload{
		GameID:        gameID,
		QuestionCount: questionCount,
		Deadline:      deadline,
		Info:          info,
	})
}

// SubmitAnswers builds a submit_answers action. The answers themselves are
// delivered separately with SealAnswers once the action is sequenced.
func (w *Wallet) SubmitAnswers(chainID string, nonce uint64, gameID uint32) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxSubmitAnswers, nonce, core.GamePayload{GameID: gameID})
}

// FinishGame builds a finish_game action.
func (w *Wallet) FinishGame(chainID string, nonce uint64, gameID uint32) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxFinishGame, nonce, core.GamePayload{GameID: gameID})
}

// SealAnswers encodes answers (or an answer key) for the input requested by
// the transaction origin and signs them. The result is what submitSecret
// expects.
func (w *Wallet) SealAnswers(origin string, answers []int8) (data []byte, sig string, err error) {
	data, err = zk.EncodeAnswers(answers)
	if err != nil {
		return nil, "", err
	}
	return data, crypto.Sign(w.priv, local.InputDigest(origin, data)), nil
}
