package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Transport is a framed bidirectional message stream. The gorilla/websocket
// adapter lives in transport.go; tests substitute in-memory pipes.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes a fresh Transport. The socket redials through it on
// every reconnect attempt.
type Dialer func(ctx context.Context) (Transport, error)

// SocketState is the connection lifecycle state.
type SocketState int

const (
	SocketDisconnected SocketState = iota
	SocketConnecting
	SocketConnected
)

func (s SocketState) String() string {
	switch s {
	case SocketDisconnected:
		return "disconnected"
	case SocketConnecting:
		return "connecting"
	case SocketConnected:
		return "connected"
	}
	return "unknown"
}

var (
	ErrTimeout      = errors.New("request timed out awaiting reply")
	ErrNotConnected = errors.New("socket is not connected")
	ErrSocketClosed = errors.New("socket closed")
)

// SocketConfig tunes the client socket.
type SocketConfig struct {
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	// ReconnectDelays is indexed by the consecutive-failure count, capped at
	// the last entry. Reconnection continues until the socket is closed; any
	// attempt cap belongs to an outer policy.
	ReconnectDelays []time.Duration
}

// DefaultSocketConfig returns the standard timing profile.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		HeartbeatInterval: 30 * time.Second,
		RequestTimeout:    10 * time.Second,
		ReconnectDelays: []time.Duration{
			10 * time.Millisecond,
			50 * time.Millisecond,
			100 * time.Millisecond,
			150 * time.Millisecond,
			200 * time.Millisecond,
			250 * time.Millisecond,
			500 * time.Millisecond,
			time.Second,
			2 * time.Second,
			5 * time.Second,
		},
	}
}

// Socket is the client side of the protocol: it owns the transport, the
// channel set, the heartbeat, and the pending-request table. Refs increase
// monotonically and are never reused while pending.
type Socket struct {
	dialer Dialer
	cfg    SocketConfig

	ctx    context.Context
	cancel context.CancelFunc

	refCounter atomic.Uint64

	mu        sync.Mutex
	state     SocketState
	transport Transport
	writeMu   sync.Mutex
	channels  map[string]*Channel
	pending   map[string]chan Reply
	failures  int
}

// NewSocket builds a socket over the given dialer. Connect starts it.
func NewSocket(dialer Dialer, cfg SocketConfig) *Socket {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultSocketConfig().HeartbeatInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultSocketConfig().RequestTimeout
	}
	if len(cfg.ReconnectDelays) == 0 {
		cfg.ReconnectDelays = DefaultSocketConfig().ReconnectDelays
	}
	return &Socket{
		dialer:   dialer,
		cfg:      cfg,
		channels: make(map[string]*Channel),
		pending:  make(map[string]chan Reply),
	}
}

// Connect starts the connection loop and blocks until the first transport is
// established or ctx is done. Reconnection afterwards is automatic with
// backoff until Close.
func (s *Socket) Connect(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	ready := make(chan struct{})
	go s.run(ready)

	select {
	case <-ready:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Close disconnects and stops all reconnection.
func (s *Socket) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// State returns the connection state.
func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failures returns the consecutive-failure count driving the backoff table.
func (s *Socket) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// BackoffDelay computes the reconnect delay after the given number of
// consecutive close events: the table entry at min(n, len-1).
func (s *Socket) BackoffDelay(n int) time.Duration {
	if n >= len(s.cfg.ReconnectDelays) {
		n = len(s.cfg.ReconnectDelays) - 1
	}
	if n < 0 {
		n = 0
	}
	return s.cfg.ReconnectDelays[n]
}

// NextRef issues a fresh monotonically increasing ref.
func (s *Socket) NextRef() string {
	return fmt.Sprintf("%d", s.refCounter.Add(1))
}

// Channel returns the channel for topic, creating it closed on first
// reference.
func (s *Socket) Channel(topic string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[topic]
	if !ok {
		ch = &Channel{Topic: topic, state: ChannelClosed}
		s.channels[topic] = ch
	}
	return ch
}

// Join sends phx_join for topic and waits for the reply. The join's ref
// becomes the channel's joinRef; the reply transitions the channel to joined
// or errored (invoking its error callback). The join payload is remembered
// for automatic rejoin after reconnects.
func (s *Socket) Join(ctx context.Context, topic string, payload JoinPayload) (Reply, error) {
	ch := s.Channel(topic)
	ch.mu.Lock()
	ch.joinPayload = payload
	ch.mu.Unlock()

	ref := s.NextRef()
	ch.markJoining(ref)

	reply, err := s.call(ctx, topic, EventJoin, payload, ref)
	if err != nil {
		ch.resolveJoin(StatusError, err.Error())
		return Reply{}, err
	}
	// State transition happens in the read loop, which sees the reply before
	// it is handed to us. Return it as-is for the caller to inspect.
	return reply, nil
}

// Leave sends phx_leave, marks the channel leaving, and discards it. No
// reply is awaited.
func (s *Socket) Leave(topic string) error {
	s.mu.Lock()
	ch, ok := s.channels[topic]
	if ok {
		delete(s.channels, topic)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	ch.setState(ChannelLeaving)
	msg, err := NewMessage(topic, EventLeave, struct{}{}, s.NextRef())
	if err != nil {
		return err
	}
	if err := s.send(msg); err != nil {
		return err
	}
	ch.setState(ChannelClosed)
	return nil
}

// Call sends an event expecting a reply and waits for it, subject to the
// configured request timeout. There is no automatic retry.
func (s *Socket) Call(ctx context.Context, topic, event string, payload any) (Reply, error) {
	return s.call(ctx, topic, event, payload, s.NextRef())
}

func (s *Socket) call(ctx context.Context, topic, event string, payload any, ref string) (Reply, error) {
	msg, err := NewMessage(topic, event, payload, ref)
	if err != nil {
		return Reply{}, err
	}

	replyCh := make(chan Reply, 1)
	s.mu.Lock()
	s.pending[ref] = replyCh
	s.mu.Unlock()

	clear := func() {
		s.mu.Lock()
		delete(s.pending, ref)
		s.mu.Unlock()
	}

	if err := s.send(msg); err != nil {
		clear()
		return Reply{}, err
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		clear()
		return Reply{}, ErrTimeout
	case <-ctx.Done():
		clear()
		return Reply{}, ctx.Err()
	}
}

// Push sends an event without expecting a reply.
func (s *Socket) Push(topic, event string, payload any) error {
	msg, err := NewMessage(topic, event, payload, s.NextRef())
	if err != nil {
		return err
	}
	return s.send(msg)
}

func (s *Socket) send(msg Message) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return t.WriteMessage(data)
}

// run is the connection loop: dial, serve until the transport closes, then
// back off and redial, forever until Close.
func (s *Socket) run(ready chan struct{}) {
	var readyOnce sync.Once

	for {
		select {
		case <-s.ctx.Done():
			s.setState(SocketDisconnected)
			return
		default:
		}

		s.setState(SocketConnecting)
		t, err := s.dialer(s.ctx)
		if err != nil {
			s.recordFailure()
			if !s.waitBackoff() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.transport = t
		s.state = SocketConnected
		s.failures = 0
		s.mu.Unlock()
		readyOnce.Do(func() { close(ready) })

		stopHeartbeat := make(chan struct{})
		go s.heartbeatLoop(stopHeartbeat)

		s.rejoinChannels()
		s.readLoop(t)

		close(stopHeartbeat)
		_ = t.Close()
		s.mu.Lock()
		s.transport = nil
		s.state = SocketDisconnected
		s.failures++
		s.mu.Unlock()

		if !s.waitBackoff() {
			return
		}
	}
}

func (s *Socket) setState(state SocketState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Socket) recordFailure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

// waitBackoff sleeps the table delay for the current failure count. It
// returns false when the socket was closed while waiting.
func (s *Socket) waitBackoff() bool {
	s.mu.Lock()
	delay := s.BackoffDelay(s.failures)
	s.mu.Unlock()

	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// heartbeatLoop pushes periodic heartbeats on the reserved topic while the
// current transport lives.
func (s *Socket) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Push(HeartbeatTopic, EventHeartbeat, struct{}{}); err != nil {
				return
			}
		}
	}
}

// rejoinChannels re-issues phx_join for every channel that was joined or
// mid-join when the previous transport dropped.
func (s *Socket) rejoinChannels() {
	s.mu.Lock()
	var rejoin []*Channel
	for _, ch := range s.channels {
		st := ch.State()
		if st == ChannelJoined || st == ChannelJoining {
			rejoin = append(rejoin, ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range rejoin {
		ref := s.NextRef()
		ch.mu.Lock()
		payload := ch.joinPayload
		ch.mu.Unlock()
		ch.markJoining(ref)

		msg, err := NewMessage(ch.Topic, EventJoin, payload, ref)
		if err != nil {
			continue
		}
		if err := s.send(msg); err != nil {
			return
		}
	}
}

// readLoop decodes envelopes until the transport fails. Replies resolve the
// pending-request table (and join state when the ref is a joinRef); all
// other events are delivered to their topic's channel.
func (s *Socket) readLoop(t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("liveview: dropping malformed frame: %v", err)
			continue
		}

		if msg.Event == EventReply {
			s.handleReply(msg)
			continue
		}

		s.mu.Lock()
		ch := s.channels[msg.Topic]
		s.mu.Unlock()
		if ch != nil {
			ch.deliver(msg)
		}
	}
}

func (s *Socket) handleReply(msg Message) {
	var reply Reply
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		log.Printf("liveview: dropping malformed reply: %v", err)
		return
	}

	// A reply to a join ref transitions its channel before the caller sees
	// the reply.
	s.mu.Lock()
	ch := s.channels[msg.Topic]
	s.mu.Unlock()
	if ch != nil && ch.JoinRef() == msg.Ref {
		ch.resolveJoin(reply.Status, replyReason(reply))
	}

	s.mu.Lock()
	replyCh := s.pending[msg.Ref]
	delete(s.pending, msg.Ref)
	s.mu.Unlock()
	if replyCh != nil {
		replyCh <- reply
	}
}

func replyReason(r Reply) string {
	var resp ErrorResponse
	if err := json.Unmarshal(r.Response, &resp); err == nil && resp.Reason != "" {
		return resp.Reason
	}
	return string(r.Response)
}
