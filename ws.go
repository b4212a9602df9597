package liveview

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/PhilipJohnBasile/liveview/internal/protocol"
)

// wsConn is the server side of one websocket connection. It tracks which
// topics were joined here so a transport close can detach and destroy the
// right instances.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	joined  map[string]*instance // topic -> instance
}

func (c *wsConn) write(msg protocol.Message) error {
	return writeJSON(c.conn, &c.writeMu, msg)
}

func (c *wsConn) reply(topic, ref, status string, response any) {
	raw, err := json.Marshal(response)
	if err != nil {
		log.Printf("liveview: failed to encode reply: %v", err)
		return
	}
	payload := protocol.Reply{Status: status, Response: raw}
	msg, err := protocol.NewMessage(topic, protocol.EventReply, payload, ref)
	if err != nil {
		log.Printf("liveview: failed to encode reply envelope: %v", err)
		return
	}
	if err := c.write(msg); err != nil {
		log.Printf("liveview: reply write failed: %v", err)
	}
}

func (c *wsConn) replyError(topic, ref, reason string) {
	c.reply(topic, ref, protocol.StatusError, protocol.ErrorResponse{Reason: reason})
}

// handleWebSocket upgrades the connection and serves its message loop.
// Messages for one connection are processed sequentially; cross-connection
// safety for a shared session comes from the per-instance mutex.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("liveview: websocket upgrade failed: %v", err)
		return
	}
	c := &wsConn{conn: raw, joined: make(map[string]*instance)}

	defer func() {
		// Transport close destroys what was joined here; the session record
		// survives so a reconnect can remount.
		for topic, inst := range c.joined {
			inst.detach()
			s.destroyInstance(inst.sessionID, "disconnect")
			delete(c.joined, topic)
		}
		_ = raw.Close()
	}()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("liveview: websocket error: %v", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("liveview: dropping malformed frame: %v", err)
			continue
		}

		s.handleMessage(r, c, msg)
	}
}

func (s *Server) handleMessage(r *http.Request, c *wsConn, msg protocol.Message) {
	if msg.Topic == protocol.HeartbeatTopic {
		if msg.Event == protocol.EventHeartbeat {
			c.reply(msg.Topic, msg.Ref, protocol.StatusOK, struct{}{})
		}
		return
	}

	switch msg.Event {
	case protocol.EventJoin:
		s.handleJoin(r, c, msg)
	case protocol.EventLeave:
		s.handleLeave(c, msg)
	case protocol.EventEvent:
		s.handleEvent(r, c, msg)
	case protocol.EventLivePatch:
		s.handleLivePatch(r, c, msg)
	default:
		log.Printf("liveview: unhandled event %q on topic %q", msg.Event, msg.Topic)
	}
}

// handleJoin verifies the session token, finds or mounts the session's
// instance, and replies with the current full render. Two joins carrying
// the same session token resolve to the same instance.
func (s *Server) handleJoin(r *http.Request, c *wsConn, msg protocol.Message) {
	var payload protocol.JoinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.replyError(msg.Topic, msg.Ref, "malformed join payload")
		return
	}

	claims, err := s.codec.Decode(payload.Session)
	if err != nil {
		c.replyError(msg.Topic, msg.Ref, ErrInvalidToken.Error())
		return
	}

	sess, ok := s.sessions.Get(claims.SessionID)
	if !ok {
		// The session was evicted on access; release the instance the HTTP
		// mount created for it.
		s.destroyInstance(claims.SessionID, "expired")
		c.replyError(msg.Topic, msg.Ref, ErrSessionExpired.Error())
		return
	}

	if msg.Topic != protocol.ViewTopic(claims.View, claims.SessionID) {
		c.replyError(msg.Topic, msg.Ref, "topic does not match session")
		return
	}

	s.mu.RLock()
	rt, ok := s.views[claims.View]
	s.mu.RUnlock()
	if !ok {
		c.replyError(msg.Topic, msg.Ref, ErrViewNotFound.Error())
		return
	}

	// The upgrade from stateless HTTP render to stateful live connection:
	// mount only if the HTTP-created instance is gone.
	params := payload.Params
	if params == nil {
		params = map[string]string{}
	}
	inst, err := s.mountInstance(r.Context(), rt, sess, params)
	if err != nil {
		log.Printf("liveview: join mount failed for session %s: %v", sess.ID, err)
		c.replyError(msg.Topic, msg.Ref, "mount failed")
		return
	}

	inst.attach(c.write)
	c.joined[msg.Topic] = inst

	inst.mu.Lock()
	rendered := inst.prevHTML
	seq := inst.seq
	inst.mu.Unlock()

	c.reply(msg.Topic, msg.Ref, protocol.StatusOK, protocol.JoinResponse{Rendered: rendered, Seq: seq})
}

// handleLeave terminates the instance and clears the session everywhere: the
// instance map, the session map, and every topic subscription.
func (s *Server) handleLeave(c *wsConn, msg protocol.Message) {
	inst, ok := c.joined[msg.Topic]
	if !ok {
		c.replyError(msg.Topic, msg.Ref, ErrNotJoined.Error())
		return
	}

	delete(c.joined, msg.Topic)
	inst.detach()
	s.destroyInstance(inst.sessionID, "leave")
	s.sessions.Delete(inst.sessionID)

	c.reply(msg.Topic, msg.Ref, protocol.StatusOK, struct{}{})
}

// handleEvent routes a client event to the instance's HandleEvent and
// replies with the diff. A handler error drops the message: no reply, state
// retained.
func (s *Server) handleEvent(r *http.Request, c *wsConn, msg protocol.Message) {
	inst, ok := c.joined[msg.Topic]
	if !ok {
		c.replyError(msg.Topic, msg.Ref, ErrNotJoined.Error())
		return
	}

	var payload protocol.EventPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.replyError(msg.Topic, msg.Ref, "malformed event payload")
		return
	}

	// A sequence-gap report short-circuits to a full-render morph.
	if payload.Type == "resync" {
		c.reply(msg.Topic, msg.Ref, protocol.StatusOK, map[string]any{"diff": s.resyncPayload(inst)})
		return
	}

	ev := Event{Type: payload.Type, Value: payload.Value, Target: payload.Target}
	diffPayload, err := s.dispatch(r.Context(), inst, func(ctx context.Context, state any) (any, error) {
		return inst.runtime.handleEvent(ctx, inst.socket, ev, state)
	})
	if err != nil {
		// Dropped at the dispatch boundary; the client's pending UI state is
		// its own to resolve.
		log.Printf("liveview: event %q dropped for session %s: %v", payload.Type, inst.sessionID, err)
		return
	}

	c.reply(msg.Topic, msg.Ref, protocol.StatusOK, map[string]any{"diff": diffPayload})
	s.flushNavigation(c, inst, msg.Topic)
}

// handleLivePatch handles client-side navigation: parse the URL, hand the
// query params to HandleParams, reply with the diff.
func (s *Server) handleLivePatch(r *http.Request, c *wsConn, msg protocol.Message) {
	inst, ok := c.joined[msg.Topic]
	if !ok {
		c.replyError(msg.Topic, msg.Ref, ErrNotJoined.Error())
		return
	}

	var payload protocol.LivePatchPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.replyError(msg.Topic, msg.Ref, "malformed live_patch payload")
		return
	}

	parsed, err := url.Parse(payload.URL)
	if err != nil {
		c.replyError(msg.Topic, msg.Ref, "malformed live_patch url")
		return
	}

	if inst.runtime.handleParams == nil {
		c.reply(msg.Topic, msg.Ref, protocol.StatusOK, map[string]any{"diff": s.emptyDiff(inst)})
		return
	}

	diffPayload, err := s.dispatch(r.Context(), inst, func(ctx context.Context, state any) (any, error) {
		return inst.runtime.handleParams(ctx, inst.socket, parsed.Query(), state)
	})
	if err != nil {
		log.Printf("liveview: live_patch dropped for session %s: %v", inst.sessionID, err)
		return
	}

	c.reply(msg.Topic, msg.Ref, protocol.StatusOK, map[string]any{"diff": diffPayload})
	s.flushNavigation(c, inst, msg.Topic)
}

// flushNavigation sends any redirect or URL patch the handler queued.
func (s *Server) flushNavigation(c *wsConn, inst *instance, topic string) {
	if redirect := inst.socket.takeRedirect(); redirect != nil {
		if msg, err := protocol.NewMessage(topic, protocol.EventRedirect, redirect, ""); err == nil {
			if err := c.write(msg); err != nil {
				log.Printf("liveview: redirect push failed: %v", err)
			}
		}
	}
	if to := inst.socket.takePatch(); to != "" {
		payload := protocol.LivePatchPayload{URL: to}
		if msg, err := protocol.NewMessage(topic, protocol.EventPushPatch, payload, ""); err == nil {
			if err := c.write(msg); err != nil {
				log.Printf("liveview: push_patch failed: %v", err)
			}
		}
	}
}

func (s *Server) emptyDiff(inst *instance) *protocol.DiffPayload {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return &protocol.DiffPayload{Seq: inst.seq}
}
