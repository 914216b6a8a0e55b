package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"cosmossdk.io/log"
	"github.com/julienschmidt/httprouter"

	"github.com/tolelom/zktrivia/core"
)

// Server is a JSON-RPC 2.0 HTTP server with REST reads and an event stream.
type Server struct {
	handler   *Handler
	hub       *Hub
	addr      string
	authToken string // empty → no auth required
	srv       *http.Server
	logger    log.Logger
}

// NewServer creates a Server on addr. If authToken is non-empty, every
// POST must carry a matching "Authorization: Bearer <token>" header.
func NewServer(addr string, handler *Handler, hub *Hub, authToken string, logger log.Logger) *Server {
	s := &Server{handler: handler, hub: hub, addr: addr, authToken: authToken, logger: logger.With("module", "rpc")}

	router := httprouter.New()
	router.POST("/", s.serveRPC)
	router.POST("/rpc", s.serveRPC)
	router.GET("/games", s.listGames)
	router.GET("/games/:id", s.getGame)
	router.GET("/games/:id/leaderboard", s.getLeaderboard)
	router.GET("/healthz", s.healthz)
	if hub != nil {
		router.GET("/ws", hub.serveWS)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	if s.hub != nil {
		s.hub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.authToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.authToken {
			writeJSONStatus(w, http.StatusUnauthorized, errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
	}

	// Limit request body to 1 MB to prevent memory exhaustion.
	r.Body = http.MaxBytesReader(w, r.Body, 1*1024*1024)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	resp := s.handler.Dispatch(req)
	if resp.Error != nil && resp.Error.Code == CodeInternalError {
		s.logger.Error("rpc call failed", "method", req.Method, "err", resp.Error.Message)
	}
	writeJSON(w, resp)
}

func gameID(w http.ResponseWriter, ps httprouter.Params) (uint32, bool) {
	id, err := strconv.ParseUint(ps.ByName("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return 0, false
	}
	return uint32(id), true
}

func (s *Server) listGames(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	var page, limit int
	for name, dst := range map[string]*int{"page": &page, "limit": &limit} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid "+name, http.StatusBadRequest)
				return
			}
			*dst = n
		}
	}
	games, err := s.handler.ListGames(page, limit)
	s.writeREST(w, games, err)
}

func (s *Server) getGame(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, ok := gameID(w, ps)
	if !ok {
		return
	}
	g, err := s.handler.Game(id)
	s.writeREST(w, g, err)
}

func (s *Server) getLeaderboard(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, ok := gameID(w, ps)
	if !ok {
		return
	}
	lb, err := s.handler.Leaderboard(id)
	s.writeREST(w, lb, err)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"height":  s.handler.bc.Height(),
		"mempool": s.handler.mempool.Size(),
	})
}

func (s *Server) writeREST(w http.ResponseWriter, v any, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case isNotFound(err):
			status = http.StatusNotFound
		case errors.Is(err, core.ErrInvalidRequest):
			status = http.StatusBadRequest
		default:
			s.logger.Error("rest read failed", "err", err)
		}
		writeJSONStatus(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, v)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
