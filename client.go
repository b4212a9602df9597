package liveview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/PhilipJohnBasile/liveview/internal/dom"
	"github.com/PhilipJohnBasile/liveview/internal/patch"
	"github.com/PhilipJohnBasile/liveview/internal/protocol"
	"github.com/PhilipJohnBasile/liveview/internal/session"
)

// Client is a headless live view client: it loads the served document,
// joins the view's channel over a websocket, and maintains a DOM mirror by
// applying streamed patches. It exists for programmatic consumers and
// end-to-end tests; the browser runs the JavaScript equivalent.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sock       *protocol.Socket

	mu        sync.Mutex
	topic     string
	view      string
	sessTok   string
	static    string
	path      string
	doc       *dom.Node
	seq       uint64
	title     string
	resyncing bool
	onEvent   func(protocol.PushedEvent)
	onPatch   func(to string)
	redirect  *protocol.RedirectPayload
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the HTTP client used for the document load.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithEventHandler registers a callback for server-pushed events.
func WithEventHandler(fn func(protocol.PushedEvent)) ClientOption {
	return func(c *Client) { c.onEvent = fn }
}

// WithPatchHandler registers a callback for server-initiated URL patches.
func WithPatchHandler(fn func(to string)) ClientOption {
	return func(c *Client) { c.onPatch = fn }
}

// NewClient creates a client for a server rooted at baseURL, e.g.
// "http://127.0.0.1:4000".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect performs the full bootstrap for path: load the document, read the
// session tokens off the main element, open the socket, and join the view's
// channel. On return the DOM mirror holds the joined render.
func (c *Client) Connect(ctx context.Context, path string) error {
	if err := c.loadPage(ctx, path); err != nil {
		return err
	}

	wsURL, err := c.websocketURL(path)
	if err != nil {
		return err
	}

	c.sock = protocol.NewSocket(protocol.WebSocketDialer(wsURL, nil), protocol.SocketConfig{})
	if err := c.sock.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	topic := c.topic
	payload := protocol.JoinPayload{
		URL:     c.baseURL + path,
		Session: c.sessTok,
		Static:  c.static,
	}
	c.mu.Unlock()

	ch := c.sock.Channel(topic)
	ch.OnMessage(c.handleMessage)

	reply, err := c.sock.Join(ctx, topic, payload)
	if err != nil {
		c.sock.Close()
		return fmt.Errorf("join failed: %w", err)
	}
	if reply.Status != protocol.StatusOK {
		c.sock.Close()
		return fmt.Errorf("join rejected: %s", string(reply.Response))
	}

	var joined protocol.JoinResponse
	if err := json.Unmarshal(reply.Response, &joined); err != nil {
		c.sock.Close()
		return fmt.Errorf("malformed join response: %w", err)
	}

	c.mu.Lock()
	c.doc = dom.Parse(joined.Rendered)
	c.seq = joined.Seq
	c.mu.Unlock()
	return nil
}

// loadPage fetches the document and extracts the bootstrap attributes from
// the data-phx-main element.
func (c *Client) loadPage(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("document load: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("document load: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("document load: %w", err)
	}

	main := findMainElement(dom.Parse(string(body)))
	if main == nil {
		return fmt.Errorf("document has no data-phx-main element")
	}

	sessTok, _ := main.Attr("data-phx-session")
	static, _ := main.Attr("data-phx-static")
	view, _ := main.Attr("data-phx-view")
	if sessTok == "" {
		return fmt.Errorf("document main element carries no session token")
	}

	claims, err := session.PeekClaims(sessTok)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.view = view
	c.sessTok = sessTok
	c.static = static
	c.path = path
	c.topic = protocol.ViewTopic(claims.View, claims.SessionID)
	c.mu.Unlock()
	return nil
}

func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// SendEvent sends a user event and applies the diff from the reply. It
// returns the server's error reason on a rejected event.
func (c *Client) SendEvent(ctx context.Context, eventType string, value map[string]any) error {
	payload := protocol.EventPayload{Type: eventType, Value: value}
	reply, err := c.sock.Call(ctx, c.topic, protocol.EventEvent, payload)
	if err != nil {
		return err
	}
	if reply.Status != protocol.StatusOK {
		return fmt.Errorf("event rejected: %s", string(reply.Response))
	}
	return c.applyReplyDiff(ctx, reply)
}

// LivePatch navigates to a new URL on the current view and applies the
// resulting diff.
func (c *Client) LivePatch(ctx context.Context, to string) error {
	payload := protocol.LivePatchPayload{URL: c.baseURL + to}
	reply, err := c.sock.Call(ctx, c.topic, protocol.EventLivePatch, payload)
	if err != nil {
		return err
	}
	if reply.Status != protocol.StatusOK {
		return fmt.Errorf("live_patch rejected: %s", string(reply.Response))
	}
	c.mu.Lock()
	c.path = to
	c.mu.Unlock()
	return c.applyReplyDiff(ctx, reply)
}

// Leave departs the channel. The server tears the view instance and session
// down; the socket stays open for a subsequent Connect.
func (c *Client) Leave() error {
	return c.sock.Leave(c.topic)
}

// Close shuts the socket down.
func (c *Client) Close() {
	if c.sock != nil {
		c.sock.Close()
	}
}

// Document returns the current render of the DOM mirror.
func (c *Client) Document() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return ""
	}
	return dom.RenderChildren(c.doc)
}

// Title returns the last page title the server set, if any.
func (c *Client) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Seq returns the last applied diff sequence number.
func (c *Client) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Redirect returns the pending server redirect, if one arrived.
func (c *Client) Redirect() *protocol.RedirectPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirect
}

// handleMessage processes pushed (non-reply) messages on the view topic.
func (c *Client) handleMessage(msg protocol.Message) {
	switch msg.Event {
	case protocol.EventDiff:
		var payload protocol.DiffPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if !c.applyDiff(&payload) {
			// A gap on a pushed diff means the mirror is stale. The resync
			// round-trips, and handleMessage runs on the read loop, so it has
			// to happen off of it. One in-flight resync is enough; later
			// gapped pushes while it runs are superseded by its full render.
			c.mu.Lock()
			inFlight := c.resyncing
			c.resyncing = true
			c.mu.Unlock()
			if inFlight {
				return
			}
			go func() {
				defer func() {
					c.mu.Lock()
					c.resyncing = false
					c.mu.Unlock()
				}()
				if err := c.resync(context.Background()); err != nil {
					log.Printf("liveview: resync after missed push failed: %v", err)
				}
			}()
		}
	case protocol.EventRedirect:
		var payload protocol.RedirectPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		c.mu.Lock()
		c.redirect = &payload
		c.mu.Unlock()
	case protocol.EventPushPatch:
		var payload protocol.LivePatchPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if c.onPatch != nil {
			c.onPatch(payload.URL)
		}
	}
}

func (c *Client) applyReplyDiff(ctx context.Context, reply protocol.Reply) error {
	var body struct {
		Diff *protocol.DiffPayload `json:"diff"`
	}
	if err := json.Unmarshal(reply.Response, &body); err != nil {
		return fmt.Errorf("malformed diff reply: %w", err)
	}
	if body.Diff == nil {
		return nil
	}
	if !c.applyDiff(body.Diff) {
		return c.resync(ctx)
	}
	return nil
}

// applyDiff applies a diff when it extends the last applied sequence.
// It reports false on a gap, meaning the mirror is stale and needs a resync.
func (c *Client) applyDiff(payload *protocol.DiffPayload) bool {
	c.mu.Lock()
	if payload.Seq != 0 && payload.Seq <= c.seq {
		// Duplicate or stale; drop it.
		c.mu.Unlock()
		return true
	}
	if payload.Seq > c.seq+1 {
		c.mu.Unlock()
		return false
	}
	patch.Apply(c.doc, payload.Patches)
	c.seq = payload.Seq
	if payload.Title != "" {
		c.title = payload.Title
	}
	events := payload.Events
	handler := c.onEvent
	c.mu.Unlock()

	if handler != nil {
		for _, ev := range events {
			handler(ev)
		}
	}
	return true
}

// resync requests a full-render morph and applies it unconditionally.
func (c *Client) resync(ctx context.Context) error {
	payload := protocol.EventPayload{Type: "resync"}
	reply, err := c.sock.Call(ctx, c.topic, protocol.EventEvent, payload)
	if err != nil {
		return err
	}
	if reply.Status != protocol.StatusOK {
		return fmt.Errorf("resync rejected: %s", string(reply.Response))
	}

	var body struct {
		Diff *protocol.DiffPayload `json:"diff"`
	}
	if err := json.Unmarshal(reply.Response, &body); err != nil {
		return fmt.Errorf("malformed resync reply: %w", err)
	}
	if body.Diff == nil {
		return fmt.Errorf("resync reply carries no diff")
	}

	c.mu.Lock()
	patch.Apply(c.doc, body.Diff.Patches)
	c.seq = body.Diff.Seq
	c.mu.Unlock()
	return nil
}

func findMainElement(n *dom.Node) *dom.Node {
	if n.Type == dom.ElementNode {
		if _, ok := n.Attr("data-phx-main"); ok {
			return n
		}
	}
	for _, child := range n.Children {
		if found := findMainElement(child); found != nil {
			return found
		}
	}
	return nil
}
