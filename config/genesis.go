package config

import (
	"errors"
	"strings"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock writes the chain params to state, commits, and returns
// the signed block #0. engine is the identity allowed to deliver
// computation events.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey, engine string) (*core.Block, error) {
	if cfg.Genesis.ChainID == "" {
		return nil, errors.New("genesis: empty chain id")
	}
	if cfg.Genesis.Engine != "" {
		engine = cfg.Genesis.Engine
	}
	if _, err := crypto.PubKeyFromHex(engine); err != nil {
		return nil, errors.Join(errors.New("genesis: invalid engine identity"), err)
	}
	if err := state.SetParams(&core.Params{ChainID: cfg.Genesis.ChainID, Engine: engine}); err != nil {
		return nil, err
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposerPriv.Public().Hex(), nil)
	block.Header.StateRoot = stateRoot
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
