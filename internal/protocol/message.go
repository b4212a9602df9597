// Package protocol implements the socket wire protocol: the framed message
// envelope, the channel state machine, and the client-side socket with
// heartbeat, reconnection, and request/reply correlation.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/PhilipJohnBasile/liveview/internal/diff"
)

// Wire event names.
const (
	EventJoin         = "phx_join"
	EventLeave        = "phx_leave"
	EventReply        = "phx_reply"
	EventClose        = "phx_close"
	EventEvent        = "event"
	EventDiff         = "diff"
	EventHeartbeat    = "heartbeat"
	EventLivePatch    = "live_patch"
	EventLiveRedirect = "live_redirect"
	EventPushPatch    = "push_patch"
	EventPushRedirect = "push_redirect"
	EventRedirect     = "redirect"
	EventPushEvent    = "push_event"
)

// HeartbeatTopic is the reserved topic for connection keepalives.
const HeartbeatTopic = "phoenix"

// ViewTopic builds the channel topic for a live view session.
func ViewTopic(view, sessionID string) string {
	return "lv:" + view + ":" + sessionID
}

// ComponentTopic builds the channel topic for a stateful component scoped
// under a view topic.
func ComponentTopic(viewTopic, componentID string) string {
	return viewTopic + ":component:" + componentID
}

// Message is the framed envelope: a JSON array [topic, event, payload, ref].
type Message struct {
	Topic   string
	Event   string
	Payload json.RawMessage
	Ref     string
}

// NewMessage builds an envelope, marshaling payload to JSON.
func NewMessage(topic, event string, payload any, ref string) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Topic: topic, Event: event, Payload: raw, Ref: ref}, nil
}

// MarshalJSON encodes the envelope as the 4-tuple wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([4]json.RawMessage{
		mustMarshalString(m.Topic),
		mustMarshalString(m.Event),
		payload,
		mustMarshalString(m.Ref),
	})
}

// UnmarshalJSON decodes the 4-tuple wire form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("malformed envelope: %w", err)
	}
	if len(tuple) != 4 {
		return fmt.Errorf("malformed envelope: want 4 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &m.Topic); err != nil {
		return fmt.Errorf("envelope topic: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &m.Event); err != nil {
		return fmt.Errorf("envelope event: %w", err)
	}
	m.Payload = tuple[2]
	if err := json.Unmarshal(tuple[3], &m.Ref); err != nil {
		return fmt.Errorf("envelope ref: %w", err)
	}
	return nil
}

func mustMarshalString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

// Reply is the payload of a phx_reply message.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// StatusOK and StatusError are the reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// JoinPayload is the client→server payload of phx_join.
type JoinPayload struct {
	URL     string            `json:"url"`
	Params  map[string]string `json:"params"`
	Session string            `json:"session"`
	Static  string            `json:"static"`
}

// JoinResponse is the server's reply to a successful join: the full render.
type JoinResponse struct {
	Rendered string `json:"rendered"`
	Seq      uint64 `json:"seq"`
}

// EventPayload is the client→server payload of an event message.
type EventPayload struct {
	Type   string         `json:"type"`
	Value  map[string]any `json:"value"`
	Target string         `json:"target,omitempty"`
}

// LivePatchPayload is the client→server payload of live_patch.
type LivePatchPayload struct {
	URL string `json:"url"`
}

// PushedEvent is a server-initiated event riding on a diff payload.
type PushedEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// DiffPayload carries a patch list plus side effects. Seq is a per-topic
// monotonic counter: the client applies a diff only when it extends the last
// applied sequence and requests a resync on a gap.
type DiffPayload struct {
	Seq     uint64        `json:"seq"`
	Patches []diff.Patch  `json:"patches"`
	Title   string        `json:"title,omitempty"`
	Events  []PushedEvent `json:"events,omitempty"`
}

// RedirectPayload is the server→client payload of a redirect message.
type RedirectPayload struct {
	To      string `json:"to"`
	Replace bool   `json:"replace"`
}

// ErrorResponse is the response body of an error reply.
type ErrorResponse struct {
	Reason string `json:"reason"`
}
