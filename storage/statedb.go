package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

var statePrefixes []string

var (
	prefixAccount = registerPrefix("acct:")
	prefixGame    = registerPrefix("game:")
	keyParams     = registerPrefix("params")
)

// gameKey encodes the id as fixed-width hex so that prefix iteration walks
// games in ascending id order.
func gameKey(id uint32) string {
	return fmt.Sprintf("%s%08x", prefixGame, id)
}

func parseGameKey(key string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(key, prefixGame), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed game key %q: %w", key, err)
	}
	return uint32(id), nil
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation. It is owned
// by the sequencer and not safe for concurrent use; readers open their own
// StateDB over the same DB and see committed state only.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.set(key, data)
	return nil
}

// keys returns every live key under prefix, merged across DB and buffer.
func (s *StateDB) keys(prefix string) ([]string, error) {
	seen := make(map[string]bool)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		seen[string(it.Key())] = true
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, err
	}
	for k := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		if !s.deleted[k] {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out, nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Params ----

func (s *StateDB) GetParams() (*core.Params, error) {
	var p core.Params
	if err := s.getJSON(keyParams, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetParams(p *core.Params) error {
	return s.setJSON(keyParams, p)
}

// ---- Games ----

func (s *StateDB) GetGame(id uint32) (*core.Game, error) {
	var g core.Game
	if err := s.getJSON(gameKey(id), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *StateDB) HasGame(id uint32) (bool, error) {
	_, err := s.get(gameKey(id))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *StateDB) SetGame(g *core.Game) error {
	return s.setJSON(gameKey(g.ID), g)
}

// RegisterGame stores a new game; ids are never reused.
func (s *StateDB) RegisterGame(g *core.Game) error {
	exists, err := s.HasGame(g.ID)
	if err != nil {
		return fmt.Errorf("checking game %d: %w", g.ID, err)
	}
	if exists {
		return core.ErrGameExists.Wrapf("game %d", g.ID)
	}
	return s.SetGame(g)
}

// GameIDs lists every registered game id in ascending order.
func (s *StateDB) GameIDs() ([]uint32, error) {
	keys, err := s.keys(prefixGame)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, len(keys))
	for _, k := range keys {
		id, err := parseGameKey(k)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.snapshots = append(s.snapshots, stateSnapshot{
		dirty:   cloneBytesMap(s.dirty),
		deleted: cloneBoolMap(s.deleted),
	})
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it along with every later one.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]
	s.dirty = cloneBytesMap(snap.dirty)
	s.deleted = cloneBoolMap(snap.deleted)
	s.snapshots = s.snapshots[:id]
	return nil
}

func cloneBytesMap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = bytes.Clone(v)
	}
	return out
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ComputeRoot returns the deterministic hash of the complete world state:
// persisted entries under the known prefixes merged with the write buffer,
// sorted by key and length-prefix encoded. It does not flush.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			merged[string(it.Key())] = bytes.Clone(it.Value())
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB and
// clears it. Call ComputeRoot() before signing the block, then Commit()
// after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
