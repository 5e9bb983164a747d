package events

import "github.com/Fatumayattani/ridmint/core/types"

// Event is implemented by module-specific event payloads that can render
// themselves as a canonical types.Event.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter receives events produced by native modules. Implementations must
// not block; the ledger engine emits on the mutation path.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops all events. It is the default emitter so modules can run
// without an event sink configured.
type NoopEmitter struct{}

// Emit discards the event.
func (NoopEmitter) Emit(Event) {}
