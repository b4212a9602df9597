package liveview

import (
	"sync"

	"github.com/PhilipJohnBasile/liveview/internal/protocol"
)

// FlashLevel classifies a flash message.
type FlashLevel string

const (
	FlashInfo    FlashLevel = "info"
	FlashSuccess FlashLevel = "success"
	FlashWarning FlashLevel = "warning"
	FlashError   FlashLevel = "error"
)

// Flash is a one-shot message delivered to the client on the next update.
type Flash struct {
	Level   FlashLevel `json:"level"`
	Message string     `json:"message"`
}

// Socket is the server-side handle a view uses to reach its client: pushing
// events, navigation, flashes, and topic subscriptions. Effects accumulate
// during a callback and ride on the update that callback produces.
type Socket struct {
	sessionID string
	topic     string

	subscribe   func(topic string)
	unsubscribe func(topic string)

	mu       sync.Mutex
	events   []protocol.PushedEvent
	redirect *protocol.RedirectPayload
	patchTo  string
	title    string
}

// SessionID returns the owning session's id.
func (s *Socket) SessionID() string {
	return s.sessionID
}

// Topic returns the channel topic for this view instance.
func (s *Socket) Topic() string {
	return s.topic
}

// PushEvent queues a named event for the client, delivered with the next
// diff.
func (s *Socket) PushEvent(event string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, protocol.PushedEvent{Event: event, Data: data})
}

// PutFlash queues a flash message, delivered as a "flash" event.
func (s *Socket) PutFlash(level FlashLevel, message string) {
	s.PushEvent("flash", Flash{Level: level, Message: message})
}

// SetPageTitle updates the document title with the next diff.
func (s *Socket) SetPageTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
}

// PushRedirect navigates the client to a new location, optionally replacing
// the history entry.
func (s *Socket) PushRedirect(to string, replace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirect = &protocol.RedirectPayload{To: to, Replace: replace}
}

// PushPatch updates the client URL without a reload; the view's
// HandleParams sees the new query parameters.
func (s *Socket) PushPatch(to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchTo = to
}

// Subscribe adds this session to a broadcast topic. Broadcasts on the topic
// reach the view through HandleInfo.
func (s *Socket) Subscribe(topic string) {
	if s.subscribe != nil {
		s.subscribe(topic)
	}
}

// Unsubscribe removes this session from a broadcast topic.
func (s *Socket) Unsubscribe(topic string) {
	if s.unsubscribe != nil {
		s.unsubscribe(topic)
	}
}

// takeEvents drains the queued events and title.
func (s *Socket) takeEvents() ([]protocol.PushedEvent, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	title := s.title
	s.events = nil
	s.title = ""
	return events, title
}

// takeRedirect drains a queued redirect.
func (s *Socket) takeRedirect() *protocol.RedirectPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.redirect
	s.redirect = nil
	return r
}

// takePatch drains a queued URL patch.
func (s *Socket) takePatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.patchTo
	s.patchTo = ""
	return p
}
