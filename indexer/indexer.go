// Package indexer maintains secondary indexes over committed actions so
// clients can list games by creator or player without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"cosmossdk.io/log"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/events"
	"github.com/tolelom/zktrivia/storage"
)

const (
	prefixCreatorGames = "idx:creator:game:"
	prefixPlayerGames  = "idx:player:game:"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db     storage.DB
	logger log.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter, logger log.Logger) *Indexer {
	idx := &Indexer{db: db, logger: logger.With("module", "indexer")}
	emitter.Subscribe(events.EventGameCreated, idx.onGameCreated)
	emitter.Subscribe(events.EventAnswersSubmitted, idx.onAnswersSubmitted)
	return idx
}

// GetGamesByCreator returns the ids of games created by the given pubkey.
func (idx *Indexer) GetGamesByCreator(creator string) ([]uint32, error) {
	return idx.getList(prefixCreatorGames + creator)
}

// GetGamesByPlayer returns the ids of games the player submitted answers to.
func (idx *Indexer) GetGamesByPlayer(player string) ([]uint32, error) {
	return idx.getList(prefixPlayerGames + player)
}

// ---- event handlers ----

func (idx *Indexer) onGameCreated(ev events.Event) {
	creator, _ := ev.Data["creator"].(string)
	gameID, ok := ev.Data["game_id"].(uint32)
	if creator == "" || !ok {
		return
	}
	if err := idx.addToList(prefixCreatorGames+creator, gameID); err != nil {
		idx.logger.Error("index game creator", "game", gameID, "err", err)
	}
}

func (idx *Indexer) onAnswersSubmitted(ev events.Event) {
	player, _ := ev.Data["player"].(string)
	gameID, ok := ev.Data["game_id"].(uint32)
	if player == "" || !ok {
		return
	}
	if err := idx.addToList(prefixPlayerGames+player, gameID); err != nil {
		idx.logger.Error("index game player", "game", gameID, "err", err)
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]uint32, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint32
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

// addToList inserts value keeping the list sorted and free of duplicates.
func (idx *Indexer) addToList(key string, value uint32) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	i, found := slices.BinarySearch(ids, value)
	if found {
		return nil
	}
	ids = slices.Insert(ids, i, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
