// Counter is the smallest complete live view: one button, one integer,
// patches streaming over the socket.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/PhilipJohnBasile/liveview"
)

type counterState struct {
	Count int
}

type counterView struct{}

func (counterView) Mount(ctx context.Context, sock *liveview.Socket, params map[string]string) (counterState, error) {
	return counterState{}, nil
}

func (counterView) HandleEvent(ctx context.Context, sock *liveview.Socket, ev liveview.Event, state counterState) (counterState, error) {
	switch ev.Type {
	case "increment":
		state.Count++
	case "decrement":
		state.Count--
	case "reset":
		state.Count = 0
	}
	return state, nil
}

func (counterView) Render(state counterState) string {
	return fmt.Sprintf(`<div id="counter">
  <h1>Count: %d</h1>
  <button phx-click="increment">+</button>
  <button phx-click="decrement">-</button>
  <button phx-click="reset">Reset</button>
</div>`, state.Count)
}

func main() {
	cfg := liveview.DefaultConfig()
	cfg.Addr = ":4000"

	srv, err := liveview.NewServer(cfg)
	if err != nil {
		log.Fatalf("server setup failed: %v", err)
	}
	if err := liveview.RegisterView[counterState](srv, "counter", "/", counterView{}); err != nil {
		log.Fatalf("view registration failed: %v", err)
	}

	log.Fatal(srv.ListenAndServe())
}
