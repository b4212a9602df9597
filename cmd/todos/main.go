// Todos is a multi-session todo list backed by sqlite. Every session renders
// from the same database, and changes broadcast so all connected sessions
// patch in real time.
package main

import (
	"context"
	"flag"
	"fmt"
	"html"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/PhilipJohnBasile/liveview"
)

const todosTopic = "todos"

type todosState struct {
	Todos  []Todo
	Filter string // "", "active", "completed"
	Error  string
}

type todosView struct {
	srv   *liveview.Server
	store *Store
}

type addForm struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

func (v *todosView) Mount(ctx context.Context, sock *liveview.Socket, params map[string]string) (todosState, error) {
	todos, err := v.store.List(ctx)
	if err != nil {
		return todosState{}, err
	}
	sock.Subscribe(todosTopic)
	return todosState{Todos: todos, Filter: params["filter"]}, nil
}

func (v *todosView) HandleEvent(ctx context.Context, sock *liveview.Socket, ev liveview.Event, state todosState) (todosState, error) {
	state.Error = ""

	switch ev.Type {
	case "add":
		var form addForm
		if err := ev.BindAndValidate(&form, v.srv.Validator()); err != nil {
			state.Error = "title is required and must be at most 200 characters"
			return state, nil
		}
		if _, err := v.store.Add(ctx, strings.TrimSpace(form.Title)); err != nil {
			return state, err
		}
	case "toggle":
		id, err := eventID(ev)
		if err != nil {
			return state, err
		}
		if err := v.store.Toggle(ctx, id); err != nil {
			return state, err
		}
	case "delete":
		id, err := eventID(ev)
		if err != nil {
			return state, err
		}
		if err := v.store.Delete(ctx, id); err != nil {
			return state, err
		}
	case "clear-completed":
		if err := v.store.ClearCompleted(ctx); err != nil {
			return state, err
		}
	default:
		return state, nil
	}

	todos, err := v.store.List(ctx)
	if err != nil {
		return state, err
	}
	state.Todos = todos

	// Other sessions reload through HandleInfo.
	go v.srv.Broadcast(todosTopic, "changed")
	return state, nil
}

func (v *todosView) HandleInfo(ctx context.Context, sock *liveview.Socket, info any, state todosState) (todosState, error) {
	todos, err := v.store.List(ctx)
	if err != nil {
		return state, err
	}
	state.Todos = todos
	return state, nil
}

func (v *todosView) HandleParams(ctx context.Context, sock *liveview.Socket, params url.Values, state todosState) (todosState, error) {
	state.Filter = params.Get("filter")
	return state, nil
}

func (v *todosView) Render(state todosState) string {
	var b strings.Builder
	b.WriteString(`<div id="todos">` + "\n")
	b.WriteString(`<h1>Todos</h1>` + "\n")

	if state.Error != "" {
		b.WriteString(fmt.Sprintf(`<p id="error" class="error">%s</p>`+"\n", html.EscapeString(state.Error)))
	}

	b.WriteString(`<form phx-submit="add"><input name="title" placeholder="What needs doing?"><button>Add</button></form>` + "\n")
	b.WriteString(`<ul>` + "\n")
	for _, t := range state.Todos {
		if state.Filter == "active" && t.Done {
			continue
		}
		if state.Filter == "completed" && !t.Done {
			continue
		}
		class := ""
		if t.Done {
			class = ` class="done"`
		}
		b.WriteString(fmt.Sprintf(
			`<li phx-key="%d"%s><span phx-click="toggle" phx-value-id="%d">%s</span> <button phx-click="delete" phx-value-id="%d">x</button></li>`+"\n",
			t.ID, class, t.ID, html.EscapeString(t.Title), t.ID,
		))
	}
	b.WriteString(`</ul>` + "\n")
	b.WriteString(fmt.Sprintf(`<p>%d items</p>`+"\n", len(state.Todos)))
	b.WriteString(`<nav><a href="?filter=">All</a> <a href="?filter=active">Active</a> <a href="?filter=completed">Completed</a></nav>` + "\n")
	b.WriteString(`<button phx-click="clear-completed">Clear completed</button>` + "\n")
	b.WriteString(`</div>`)
	return b.String()
}

func eventID(ev liveview.Event) (int64, error) {
	raw, ok := ev.Value["id"]
	if !ok {
		return 0, fmt.Errorf("event %q carries no id", ev.Type)
	}
	switch id := raw.(type) {
	case float64:
		return int64(id), nil
	case string:
		return strconv.ParseInt(id, 10, 64)
	}
	return 0, fmt.Errorf("event %q id has unexpected type %T", ev.Type, raw)
}

// seed fills an empty database with sample todos.
func seed(ctx context.Context, store *Store) error {
	n, err := store.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	for i := 0; i < 5; i++ {
		if _, err := store.Add(ctx, gofakeit.VerbAction()+" the "+gofakeit.NounConcrete()); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	var (
		configPath = flag.String("config", "", "path to config yaml; defaults apply when empty")
		dbPath     = flag.String("db", "todos.db", "path to the sqlite database")
		seedData   = flag.Bool("seed", false, "seed the database with sample todos when empty")
	)
	flag.Parse()

	cfg := liveview.DefaultConfig()
	if *configPath != "" {
		loaded, err := liveview.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = loaded
	}

	store, err := OpenStore(*dbPath)
	if err != nil {
		log.Fatalf("store setup failed: %v", err)
	}
	defer store.Close()

	if *seedData {
		if err := seed(context.Background(), store); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
	}

	srv, err := liveview.NewServer(cfg)
	if err != nil {
		log.Fatalf("server setup failed: %v", err)
	}
	view := &todosView{srv: srv, store: store}
	if err := liveview.RegisterView[todosState](srv, "todos", "/", view); err != nil {
		log.Fatalf("view registration failed: %v", err)
	}

	log.Fatal(srv.ListenAndServe())
}
