package liveview

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PhilipJohnBasile/liveview/internal/diff"
	"github.com/PhilipJohnBasile/liveview/internal/protocol"
	"github.com/PhilipJohnBasile/liveview/internal/session"
)

// scriptedPeer is a hand-driven server side for client tests that need wire
// conditions the real server never produces, like dropped diff frames. Its
// handlers run on server goroutines, so failures surface via t.Errorf and a
// read error just ends the script.
type scriptedPeer struct {
	conn *websocket.Conn
}

func (p *scriptedPeer) read() (protocol.Message, bool) {
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return protocol.Message{}, false
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return protocol.Message{}, false
	}
	return msg, true
}

func (p *scriptedPeer) write(t *testing.T, msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		t.Errorf("peer marshal failed: %v", err)
		return
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Errorf("peer write failed: %v", err)
	}
}

func (p *scriptedPeer) reply(t *testing.T, to protocol.Message, response any) {
	raw, err := json.Marshal(response)
	if err != nil {
		t.Errorf("peer marshal response failed: %v", err)
		return
	}
	msg, err := protocol.NewMessage(to.Topic, protocol.EventReply,
		protocol.Reply{Status: protocol.StatusOK, Response: raw}, to.Ref)
	if err != nil {
		t.Errorf("peer build reply failed: %v", err)
		return
	}
	p.write(t, msg)
}

func (p *scriptedPeer) push(t *testing.T, topic, event string, payload any) {
	msg, err := protocol.NewMessage(topic, event, payload, "")
	if err != nil {
		t.Errorf("peer build push failed: %v", err)
		return
	}
	p.write(t, msg)
}

// drain keeps the connection alive until the client closes it.
func (p *scriptedPeer) drain() {
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func morphDiff(seq uint64, html string) protocol.DiffPayload {
	return protocol.DiffPayload{
		Seq:     seq,
		Patches: []diff.Patch{{Op: diff.OpMorph, Selector: "", HTML: html}},
	}
}

// scriptedServer serves a bootstrap document for the session and hands each
// websocket connection to script.
func scriptedServer(t *testing.T, view, sessionID, rendered string, script func(peer *scriptedPeer, topic string)) *httptest.Server {
	t.Helper()
	codec, err := session.NewTokenCodec(time.Hour)
	if err != nil {
		t.Fatalf("codec setup failed: %v", err)
	}
	token, err := codec.Encode(&session.Session{ID: sessionID, View: view, Path: "/"})
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	topic := protocol.ViewTopic(view, sessionID)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			fmt.Fprintf(w,
				`<html><body><div data-phx-main="true" data-phx-view="%s" data-phx-session="%s" data-phx-static="st">%s</div></body></html>`,
				view, token, rendered)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		script(&scriptedPeer{conn: conn}, topic)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_ResyncAfterMissedPush(t *testing.T) {
	resyncSeen := make(chan struct{})
	var once bool

	ts := scriptedServer(t, "v", "s1", `<p>v1</p>`, func(peer *scriptedPeer, topic string) {
		join, ok := peer.read()
		if !ok {
			return
		}
		if join.Event != protocol.EventJoin {
			t.Errorf("expected join, got %+v", join)
			return
		}
		peer.reply(t, join, protocol.JoinResponse{Rendered: `<p>v1</p>`, Seq: 1})

		// Deliver a diff whose predecessor was never sent. The client must
		// not apply it and must ask for a resync instead.
		peer.push(t, topic, protocol.EventDiff, morphDiff(3, `<p>v3</p>`))

		for {
			msg, ok := peer.read()
			if !ok {
				return
			}
			if msg.Event != protocol.EventEvent {
				continue
			}
			var payload protocol.EventPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				t.Errorf("malformed event payload: %v", err)
				return
			}
			if payload.Type != "resync" {
				t.Errorf("expected resync, got %q", payload.Type)
				return
			}
			if !once {
				once = true
				close(resyncSeen)
			}
			peer.reply(t, msg, map[string]any{"diff": morphDiff(3, `<p>v3</p>`)})
			peer.drain()
			return
		}
	})

	ctx := testCtx(t)
	client := NewClient(ts.URL)
	defer client.Close()

	if err := client.Connect(ctx, "/"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if client.Document() != `<p>v1</p>` || client.Seq() != 1 {
		t.Fatalf("joined state: %q seq %d", client.Document(), client.Seq())
	}

	select {
	case <-resyncSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("client never requested a resync for the gapped push")
	}

	waitFor(t, func() bool {
		return strings.Contains(client.Document(), "v3") && client.Seq() == 3
	}, "mirror caught up through resync")
}

func TestClient_StalePushDropped(t *testing.T) {
	ts := scriptedServer(t, "v", "s2", `<p>v5</p>`, func(peer *scriptedPeer, topic string) {
		join, ok := peer.read()
		if !ok {
			return
		}
		peer.reply(t, join, protocol.JoinResponse{Rendered: `<p>v5</p>`, Seq: 5})

		// A duplicate of an already-applied sequence must be dropped without
		// a resync round-trip; the in-order push after it still applies.
		peer.push(t, topic, protocol.EventDiff, morphDiff(5, `<p>stale</p>`))
		peer.push(t, topic, protocol.EventDiff, morphDiff(6, `<p>v6</p>`))
		peer.drain()
	})

	ctx := testCtx(t)
	client := NewClient(ts.URL)
	defer client.Close()

	if err := client.Connect(ctx, "/"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	waitFor(t, func() bool { return client.Seq() == 6 }, "in-order push applied")
	if strings.Contains(client.Document(), "stale") {
		t.Errorf("stale push applied: %s", client.Document())
	}
	if !strings.Contains(client.Document(), "v6") {
		t.Errorf("next push lost: %s", client.Document())
	}
}
