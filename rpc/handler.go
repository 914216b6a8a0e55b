package rpc

import (
	"cmp"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/tolelom/zktrivia/core"
	"github.com/tolelom/zktrivia/indexer"
	"github.com/tolelom/zktrivia/storage"
	"github.com/tolelom/zktrivia/zk/local"
)

// SecretEngine is the part of the computation engine clients talk to
// directly: secret inputs never travel through transactions.
type SecretEngine interface {
	Variable(id core.VarID) (*core.Variable, error)
	CommitInput(origin, owner string, data []byte, sigHex string) (core.VarID, error)
	PendingInput(origin string) ([]local.PendingInput, bool)
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	db      storage.DB
	indexer *indexer.Indexer
	engine  SecretEngine
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler. State is read from db, so callers only
// ever observe committed blocks.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, db storage.DB, idx *indexer.Indexer, engine SecretEngine, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, db: db, indexer: idx, engine: engine, chainID: chainID}
}

func (h *Handler) view() core.State {
	return storage.NewStateDB(h.db)
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getAccount":
		return h.getAccount(req)

	case "getGame":
		return withGameID(req, h.Game)

	case "listGames":
		return h.listGames(req)

	case "getLeaderboard":
		return withGameID(req, h.Leaderboard)

	case "getGamesByCreator":
		return h.getGamesBy(req, "creator", h.indexer.GetGamesByCreator)

	case "getGamesByPlayer":
		return h.getGamesBy(req, "player", h.indexer.GetGamesByPlayer)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	case "getPendingInputs":
		return h.getPendingInputs(req)

	case "submitSecret":
		return h.submitSecret(req)

	case "getVariable":
		return h.getVariable(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func result(id any) func(any, error) Response {
	return func(v any, err error) Response {
		if err != nil {
			return errFrom(id, err)
		}
		return okResponse(id, v)
	}
}

func withGameID[T any](req Request, fn func(uint32) (T, error)) Response {
	var params struct {
		GameID *uint32 `json:"game_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.GameID == nil {
		return errResponse(req.ID, CodeInvalidParams, "game_id is required")
	}
	v, err := fn(*params.GameID)
	return result(req.ID)(v, err)
}

// GameSummary is the listing view of a game.
type GameSummary struct {
	GameID        uint32          `json:"game_id"`
	Creator       string          `json:"creator"`
	Name          string          `json:"name,omitempty"`
	Category      string          `json:"category,omitempty"`
	Status        core.GameStatus `json:"status"`
	Deadline      int64           `json:"deadline"`
	QuestionCount uint8           `json:"question_count"`
	Players       int             `json:"players"`
	CreatedAt     int64           `json:"created_at"`
}

// GamePage is one page of the game listing, newest game first.
type GamePage struct {
	Games      []GameSummary `json:"games"`
	TotalItems int           `json:"total_items"`
	TotalPages int           `json:"total_pages"`
	Page       int           `json:"page"`
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// LeaderboardView is a game's ranking. Final is true once published.
type LeaderboardView struct {
	GameID      uint32           `json:"game_id"`
	Status      core.GameStatus  `json:"status"`
	Final       bool             `json:"final"`
	Leaderboard core.Leaderboard `json:"leaderboard"`
}

// Game returns the full state of a game.
func (h *Handler) Game(id uint32) (*core.Game, error) {
	g, err := h.view().GetGame(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrGameNotFound.Wrapf("game %d", id)
	}
	return g, err
}

// ListGames returns page (1-based) of the games ordered by creation time,
// newest first. Zero page or limit selects the defaults.
func (h *Handler) ListGames(page, limit int) (*GamePage, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if page < 0 || limit < 0 || limit > maxPageLimit {
		return nil, core.ErrInvalidRequest.Wrapf("page %d limit %d (limit at most %d)", page, limit, maxPageLimit)
	}

	state := h.view()
	ids, err := state.GameIDs()
	if err != nil {
		return nil, err
	}
	all := make([]GameSummary, 0, len(ids))
	for _, id := range ids {
		g, err := state.GetGame(id)
		if err != nil {
			return nil, fmt.Errorf("game %d: %w", id, err)
		}
		sum := GameSummary{
			GameID:        g.ID,
			Creator:       g.Creator,
			Status:        g.Status,
			Deadline:      g.Deadline,
			QuestionCount: g.QuestionCount,
			Players:       len(g.Players),
			CreatedAt:     g.CreatedAt,
		}
		if g.Info != nil {
			sum.Name = g.Info.Name
			sum.Category = g.Info.Category
		}
		all = append(all, sum)
	}
	slices.SortStableFunc(all, func(a, b GameSummary) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.GameID, a.GameID)
	})

	out := &GamePage{
		Games:      []GameSummary{},
		TotalItems: len(all),
		TotalPages: (len(all) + limit - 1) / limit,
		Page:       page,
	}
	if start := (page - 1) * limit; start < len(all) {
		out.Games = all[start:min(start+limit, len(all))]
	}
	return out, nil
}

func (h *Handler) listGames(req Request) Response {
	var params struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, err.Error())
		}
	}
	page, err := h.ListGames(params.Page, params.Limit)
	if errors.Is(err, core.ErrInvalidRequest) {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return result(req.ID)(page, err)
}

// Leaderboard returns the ranking of a game.
func (h *Handler) Leaderboard(id uint32) (*LeaderboardView, error) {
	g, err := h.Game(id)
	if err != nil {
		return nil, err
	}
	return &LeaderboardView{
		GameID:      g.ID,
		Status:      g.Status,
		Final:       g.Status == core.StatusPublished,
		Leaderboard: g.Leaderboard,
	}, nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errFrom(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getAccount(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.view().GetAccount(params.Address)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, acc)
}

func (h *Handler) getGamesBy(req Request, field string, fn func(string) ([]uint32, error)) Response {
	var params map[string]string
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params[field] == "" {
		return errResponse(req.ID, CodeInvalidParams, field+" is required")
	}
	ids, err := fn(params[field])
	if err != nil {
		return errFrom(req.ID, err)
	}
	if ids == nil {
		ids = []uint32{}
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeRejected, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getPendingInputs(req Request) Response {
	var params struct {
		OriginTx string `json:"origin_tx"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	inputs, ok := h.engine.PendingInput(params.OriginTx)
	if !ok {
		return errFrom(req.ID, local.ErrNoPendingInput.Wrapf("origin %s", params.OriginTx))
	}
	return okResponse(req.ID, inputs)
}

func (h *Handler) submitSecret(req Request) Response {
	var params struct {
		OriginTx  string `json:"origin_tx"`
		Owner     string `json:"owner"`
		Data      string `json:"data"` // hex
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.OriginTx == "" || params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "origin_tx and owner are required")
	}
	data, err := hex.DecodeString(params.Data)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, "data: "+err.Error())
	}
	id, err := h.engine.CommitInput(params.OriginTx, params.Owner, data, params.Signature)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, map[string]core.VarID{"var_id": id})
}

func (h *Handler) getVariable(req Request) Response {
	var params struct {
		VarID *core.VarID `json:"var_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.VarID == nil {
		return errResponse(req.ID, CodeInvalidParams, "var_id is required")
	}
	v, err := h.engine.Variable(*params.VarID)
	if err != nil {
		return errFrom(req.ID, err)
	}
	return okResponse(req.ID, v)
}
