// Package events is the in-process pub/sub bus for committed state changes.
package events

import (
	"sync"

	"cosmossdk.io/log"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit EventType = "block_commit"
	EventTxExecuted  EventType = "tx_executed"
	EventTxRejected  EventType = "tx_rejected"

	EventGameCreated      EventType = "game_created"
	EventGameStarted      EventType = "game_started"
	EventAnswersSubmitted EventType = "answers_submitted"
	EventEntryRecorded    EventType = "entry_recorded"
	EventResultRecorded   EventType = "result_recorded"
	EventGameFinished     EventType = "game_finished"
	EventGamePublished    EventType = "game_published"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id,omitempty"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	logger   log.Logger
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter(logger log.Logger) *Emitter {
	return &Emitter{
		handlers: make(map[EventType][]Handler),
		logger:   logger.With("module", "events"),
	}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers synchronously. A panicking
// subscriber is recovered and logged so it cannot halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := append(append([]Handler(nil), e.handlers[ev.Type]...), e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("event handler panicked", "event", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
