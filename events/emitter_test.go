package events

import (
	"testing"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"
)

func TestEmitRoutesByType(t *testing.T) {
	e := NewEmitter(log.NewNopLogger())
	var typed, all []EventType
	e.Subscribe(EventGamePublished, func(ev Event) { typed = append(typed, ev.Type) })
	e.SubscribeAll(func(ev Event) { all = append(all, ev.Type) })

	e.Emit(Event{Type: EventGameCreated})
	e.Emit(Event{Type: EventGamePublished})

	require.Equal(t, []EventType{EventGamePublished}, typed)
	require.Equal(t, []EventType{EventGameCreated, EventGamePublished}, all)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	e := NewEmitter(log.NewNopLogger())
	delivered := 0
	e.SubscribeAll(func(Event) { panic("boom") })
	e.SubscribeAll(func(Event) { delivered++ })

	require.NotPanics(t, func() { e.Emit(Event{Type: EventBlockCommit}) })
	require.Equal(t, 1, delivered)
}
