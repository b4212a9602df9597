// Package liveview is a server-driven UI framework: the server holds
// authoritative view state, renders HTML, and pushes minimal DOM patches to
// a thin client over a persistent socket. Application code supplies views;
// the framework handles mounting, event routing, diffing, and the wire
// protocol.
package liveview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

// Event is a client DOM event routed to a view's HandleEvent. The type
// "resync" is reserved by the transport, which answers it with a full
// re-render; it never reaches a view.
type Event struct {
	Type   string         `json:"type"`
	Value  map[string]any `json:"value"`
	Target string         `json:"target,omitempty"`
}

// Bind unmarshals the event value into a struct.
func (e Event) Bind(v any) error {
	raw, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal event value: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// BindAndValidate binds the event value to a struct and validates it in one
// step.
func (e Event) BindAndValidate(v any, validate *validator.Validate) error {
	if err := e.Bind(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// View is a server-side live view definition over a concrete state type.
// One instance exists per session; state flows through the callbacks and is
// never mutated outside them.
type View[T any] interface {
	// Mount produces the initial state when a session first attaches.
	Mount(ctx context.Context, socket *Socket, params map[string]string) (T, error)

	// HandleEvent computes new state from a client event. It is never called
	// for the reserved "resync" event type.
	HandleEvent(ctx context.Context, socket *Socket, event Event, state T) (T, error)

	// Render produces the view's HTML for a state.
	Render(state T) string
}

// ParamsHandler is implemented by views that react to live_patch
// navigation (URL changes without a reload).
type ParamsHandler[T any] interface {
	HandleParams(ctx context.Context, socket *Socket, params url.Values, state T) (T, error)
}

// InfoHandler is implemented by views that react to broadcast messages.
type InfoHandler[T any] interface {
	HandleInfo(ctx context.Context, socket *Socket, info any, state T) (T, error)
}

// Terminator is implemented by views that need teardown when their instance
// is destroyed.
type Terminator[T any] interface {
	Terminate(reason string, state T)
}
