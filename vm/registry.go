package vm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/zktrivia/core"
)

// Handler is the function signature every action module must implement.
type Handler func(ctx *Context, payload json.RawMessage) error

// Origin says who may send a transaction type.
type Origin uint8

const (
	// OriginAny accepts any signed sender.
	OriginAny Origin = iota
	// OriginEngine accepts only the computation engine identity from Params.
	OriginEngine
)

type route struct {
	h      Handler
	origin Origin
}

// Registry maps TxTypes to Handlers. Thread-safe for concurrent registration.
type Registry struct {
	mu     sync.RWMutex
	routes map[core.TxType]route
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[core.TxType]route)}
}

// Register associates typ with h. Panics on duplicate registration.
func (r *Registry) Register(typ core.TxType, origin Origin, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for TxType %q", typ))
	}
	r.routes[typ] = route{h: h, origin: origin}
}

func (r *Registry) lookup(typ core.TxType) (route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[typ]
	return rt, ok
}

var globalRegistry = NewRegistry()

// Register adds a handler callable by any sender to the global registry.
// Module init() functions call this to self-register.
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, OriginAny, h)
}

// RegisterEngine adds a handler only the computation engine may invoke.
func RegisterEngine(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, OriginEngine, h)
}
