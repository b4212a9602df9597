package liveview

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/PhilipJohnBasile/liveview/internal/diff"
	"github.com/PhilipJohnBasile/liveview/internal/protocol"
	"github.com/PhilipJohnBasile/liveview/internal/pubsub"
	"github.com/PhilipJohnBasile/liveview/internal/router"
	"github.com/PhilipJohnBasile/liveview/internal/session"
)

// BootstrapScriptPath is where served documents expect the client bundle.
const BootstrapScriptPath = "/assets/liveview.js"

// Server owns the view registry, session map, and broadcast subscriptions.
// All registries are instance state, so independent servers coexist cleanly
// in one process.
type Server struct {
	cfg      *Config
	routes   *router.Router
	sessions *session.Manager
	codec    *session.TokenCodec
	pubsub   *pubsub.PubSub
	upgrader websocket.Upgrader
	validate *validator.Validate

	mu        sync.RWMutex
	views     map[string]*viewRuntime
	instances map[string]*instance
}

// NewServer creates a server with the given configuration; nil means
// defaults.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := session.NewTokenCodec(time.Duration(cfg.SessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	return &Server{
		cfg:      cfg,
		routes:   router.New(),
		sessions: session.NewManager(time.Duration(cfg.SessionTTL), cfg.MaxSessions),
		codec:    codec,
		pubsub:   pubsub.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validate:  validator.New(),
		views:     make(map[string]*viewRuntime),
		instances: make(map[string]*instance),
	}, nil
}

// Validator returns the server's shared validator for event binding.
func (s *Server) Validator() *validator.Validate {
	return s.validate
}

// RegisterView registers a view under a name and route pattern. The pattern
// may contain ":param" segments and a trailing "*" catch-all.
func RegisterView[T any](s *Server, name, pattern string, view View[T]) error {
	if name == "" {
		return fmt.Errorf("view name cannot be empty")
	}

	rt := &viewRuntime{
		name: name,
		mount: func(ctx context.Context, sock *Socket, params map[string]string) (any, error) {
			return view.Mount(ctx, sock, params)
		},
		handleEvent: func(ctx context.Context, sock *Socket, ev Event, state any) (any, error) {
			return view.HandleEvent(ctx, sock, ev, state.(T))
		},
		render: func(state any) string {
			return view.Render(state.(T))
		},
	}

	if ph, ok := view.(ParamsHandler[T]); ok {
		rt.handleParams = func(ctx context.Context, sock *Socket, params url.Values, state any) (any, error) {
			return ph.HandleParams(ctx, sock, params, state.(T))
		}
	}
	if ih, ok := view.(InfoHandler[T]); ok {
		rt.handleInfo = func(ctx context.Context, sock *Socket, info any, state any) (any, error) {
			return ih.HandleInfo(ctx, sock, info, state.(T))
		}
	}
	if term, ok := view.(Terminator[T]); ok {
		rt.terminate = func(reason string, state any) {
			term.Terminate(reason, state.(T))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.views[name]; exists {
		return fmt.Errorf("view %q already registered", name)
	}
	s.views[name] = rt
	return s.routes.Add(pattern, rt)
}

// viewRuntime is the type-erased runtime for a registered view. The closures
// were built with the view's concrete state type, so state round-trips
// through them safely.
type viewRuntime struct {
	name         string
	mount        func(context.Context, *Socket, map[string]string) (any, error)
	handleEvent  func(context.Context, *Socket, Event, any) (any, error)
	handleParams func(context.Context, *Socket, url.Values, any) (any, error)
	handleInfo   func(context.Context, *Socket, any, any) (any, error)
	terminate    func(string, any)
	render       func(any) string
}

// instance is one live view instance: exactly one per session. The mutex
// serializes handler invocation, render, diff, and the previous-HTML swap as
// one atomic unit.
type instance struct {
	sessionID string
	runtime   *viewRuntime
	socket    *Socket

	mu       sync.Mutex
	state    any
	prevHTML string
	seq      uint64
	send     func(protocol.Message) error // nil while no connection is attached
}

// attach binds the instance to a connection's writer.
func (inst *instance) attach(send func(protocol.Message) error) {
	inst.mu.Lock()
	inst.send = send
	inst.mu.Unlock()
}

// detach unbinds the writer when its connection closes.
func (inst *instance) detach() {
	inst.mu.Lock()
	inst.send = nil
	inst.mu.Unlock()
}

// ServeHTTP routes websocket upgrades to the protocol endpoint and
// everything else to the HTTP document entry.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.reapExpiredSessions()
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	s.handleHTTP(w, r)
}

// reapExpiredSessions evicts sessions past their TTL and tears down the
// instances mounted for them. Sessions that never upgrade to a websocket
// would otherwise leave their instance behind, since only phx_leave and
// disconnect destroy instances.
func (s *Server) reapExpiredSessions() {
	for _, id := range s.sessions.CleanupExpired() {
		s.destroyInstance(id, "expired")
	}
}

// handleHTTP is the stateless entry: it mounts a fresh session, renders the
// view, and serves the full document with the session/static tokens the
// client bootstrap needs.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	value, params, ok := s.routes.Match(r.URL.Path)
	if !ok {
		http.Error(w, ErrViewNotFound.Error(), http.StatusNotFound)
		return
	}
	rt := value.(*viewRuntime)

	sess, err := s.sessions.Create(rt.name, r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	inst, err := s.mountInstance(r.Context(), rt, sess, mergeQueryParams(params, r.URL.Query()))
	if err != nil {
		s.sessions.Delete(sess.ID)
		log.Printf("liveview: mount failed for view %s: %v", rt.name, err)
		http.Error(w, "failed to mount view", http.StatusInternalServerError)
		return
	}

	token, err := s.codec.Encode(sess)
	if err != nil {
		http.Error(w, "failed to issue session token", http.StatusInternalServerError)
		return
	}
	static, err := session.StaticToken()
	if err != nil {
		http.Error(w, "failed to issue static token", http.StatusInternalServerError)
		return
	}

	inst.mu.Lock()
	content := inst.prevHTML
	inst.mu.Unlock()

	doc := s.renderDocument(rt.name, token, static, content)
	if s.cfg.MinifyHTML {
		doc = minifyHTML(doc)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(doc)); err != nil {
		log.Printf("liveview: failed to write response: %v", err)
	}
}

// mountInstance creates and registers the at-most-one instance for a
// session. A concurrent mount for the same session returns the existing
// instance.
func (s *Server) mountInstance(ctx context.Context, rt *viewRuntime, sess *session.Session, params map[string]string) (*instance, error) {
	s.mu.Lock()
	if existing, ok := s.instances[sess.ID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	sock := &Socket{
		sessionID: sess.ID,
		topic:     protocol.ViewTopic(rt.name, sess.ID),
	}
	sock.subscribe = func(topic string) {
		s.pubsub.Subscribe(sess.ID, topic, func(topic string, payload any) {
			s.deliverInfo(sess.ID, payload)
		})
	}
	sock.unsubscribe = func(topic string) {
		s.pubsub.Unsubscribe(sess.ID, topic)
	}

	state, err := rt.mount(ctx, sock, params)
	if err != nil {
		return nil, fmt.Errorf("mount callback: %w", err)
	}

	inst := &instance{
		sessionID: sess.ID,
		runtime:   rt,
		socket:    sock,
		state:     state,
		prevHTML:  rt.render(state),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[sess.ID]; ok {
		// Lost the race; the winner's instance is canonical.
		return existing, nil
	}
	s.instances[sess.ID] = inst
	return inst, nil
}

// destroyInstance terminates an instance, evicts it, and clears every topic
// subscription for its session.
func (s *Server) destroyInstance(sessionID, reason string) {
	s.mu.Lock()
	inst, ok := s.instances[sessionID]
	if ok {
		delete(s.instances, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.pubsub.UnsubscribeAll(sessionID)

	if inst.runtime.terminate != nil {
		inst.mu.Lock()
		state := inst.state
		inst.mu.Unlock()
		inst.runtime.terminate(reason, state)
	}
}

// Broadcast delivers a payload to every session subscribed to topic. Each
// subscribed view handles it through HandleInfo and receives a diff push if
// its connection is live.
func (s *Server) Broadcast(topic string, payload any) {
	s.pubsub.Broadcast(topic, payload)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Count()
}

// InstanceCount returns the number of live view instances.
func (s *Server) InstanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Subscribers exposes a topic's subscriber ids, in registration order.
func (s *Server) Subscribers(topic string) []string {
	return s.pubsub.Subscribers(topic)
}

// deliverInfo routes a broadcast payload to a session's instance and pushes
// the resulting diff when a connection is attached.
func (s *Server) deliverInfo(sessionID string, payload any) {
	s.mu.RLock()
	inst, ok := s.instances[sessionID]
	s.mu.RUnlock()
	if !ok || inst.runtime.handleInfo == nil {
		return
	}

	diffPayload, err := s.dispatch(context.Background(), inst, func(ctx context.Context, state any) (any, error) {
		return inst.runtime.handleInfo(ctx, inst.socket, payload, state)
	})
	if err != nil {
		log.Printf("liveview: handle_info failed for session %s: %v", sessionID, err)
		return
	}

	inst.mu.Lock()
	send := inst.send
	topic := inst.socket.topic
	inst.mu.Unlock()
	if send == nil {
		return
	}

	msg, err := protocol.NewMessage(topic, protocol.EventDiff, diffPayload, "")
	if err != nil {
		log.Printf("liveview: failed to encode diff push: %v", err)
		return
	}
	if err := send(msg); err != nil {
		log.Printf("liveview: diff push failed for session %s: %v", sessionID, err)
	}
}

// dispatch runs a state transition under the instance mutex: callback, new
// render, diff against the previous render, sequence bump. Handler panics
// are recovered here; the message is dropped and previous state retained.
func (s *Server) dispatch(ctx context.Context, inst *instance, fn func(context.Context, any) (any, error)) (payload *protocol.DiffPayload, err error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("liveview: handler panic for session %s: %v", inst.sessionID, r)
			payload = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	newState, err := fn(ctx, inst.state)
	if err != nil {
		return nil, err
	}

	newHTML := inst.runtime.render(newState)
	patches := diff.Diff(inst.prevHTML, newHTML)
	inst.state = newState
	inst.prevHTML = newHTML
	inst.seq++

	events, title := inst.socket.takeEvents()
	return &protocol.DiffPayload{
		Seq:     inst.seq,
		Patches: patches,
		Title:   title,
		Events:  events,
	}, nil
}

// resyncPayload produces a full-render morph at the current sequence, used
// when the client reports a sequence gap.
func (s *Server) resyncPayload(inst *instance) *protocol.DiffPayload {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return &protocol.DiffPayload{
		Seq:     inst.seq,
		Patches: []diff.Patch{{Op: diff.OpMorph, Selector: "", HTML: inst.prevHTML}},
	}
}

func mergeQueryParams(params map[string]string, query url.Values) map[string]string {
	merged := make(map[string]string, len(params)+len(query))
	for k := range query {
		merged[k] = query.Get(k)
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// renderDocument wraps a view's render in the full HTML document the client
// bootstrap expects.
func (s *Server) renderDocument(viewName, sessionToken, staticToken, content string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(`<meta charset="utf-8">` + "\n")
	b.WriteString(fmt.Sprintf(`<script src="%s" defer></script>`+"\n", BootstrapScriptPath))
	b.WriteString("</head>\n<body>\n")
	b.WriteString(fmt.Sprintf(
		`<div data-phx-main="true" data-phx-view=%q data-phx-session=%q data-phx-static=%q>`,
		viewName, sessionToken, staticToken,
	))
	b.WriteString(content)
	b.WriteString("</div>\n</body>\n</html>\n")
	return b.String()
}

// ListenAndServe runs the server on the configured address.
func (s *Server) ListenAndServe() error {
	log.Printf("liveview: listening on %s", s.cfg.Addr)
	return http.ListenAndServe(s.cfg.Addr, s)
}

// unexported helper shared with the websocket side.
func writeJSON(conn *websocket.Conn, mu *sync.Mutex, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
