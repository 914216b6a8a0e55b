package core

// Account tracks the replay-protection nonce of a sender.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// Params are chain-wide settings written at genesis.
type Params struct {
	ChainID string `json:"chain_id"`
	// Engine is the pubkey hex of the secret-computation engine. Only it may
	// deliver variable committed / computed / opened events.
	Engine string `json:"engine"`
}

// State is the game registry plus the host bookkeeping around it.
// Implementations must be snapshot-able so the executor can roll back a
// rejected action.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Params
	GetParams() (*Params, error)
	SetParams(p *Params) error

	// Games. GetGame returns ErrNotFound for unknown ids. RegisterGame fails
	// with ErrGameExists if the id was ever used.
	GetGame(id uint32) (*Game, error)
	HasGame(id uint32) (bool, error)
	SetGame(g *Game) error
	RegisterGame(g *Game) error
	GameIDs() ([]uint32, error)

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
