package router

import (
	"reflect"
	"testing"
)

func TestRouter_Add(t *testing.T) {
	r := New()

	if err := r.Add("/users", "users"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := r.Add("/users", "again"); err == nil {
		t.Error("duplicate pattern accepted")
	}
	if err := r.Add("no-slash", "x"); err == nil {
		t.Error("pattern without leading slash accepted")
	}
}

func TestRouter_Match(t *testing.T) {
	r := New()
	for _, p := range []string{"/", "/users", "/users/:id", "/users/:id/posts/:post", "/files/*"} {
		if err := r.Add(p, p); err != nil {
			t.Fatalf("add %q failed: %v", p, err)
		}
	}

	tests := []struct {
		name       string
		path       string
		want       string
		wantParams map[string]string
		wantMiss   bool
	}{
		{name: "root", path: "/", want: "/", wantParams: map[string]string{}},
		{name: "literal", path: "/users", want: "/users", wantParams: map[string]string{}},
		{name: "one param", path: "/users/42", want: "/users/:id", wantParams: map[string]string{"id": "42"}},
		{
			name: "two params", path: "/users/42/posts/7",
			want: "/users/:id/posts/:post", wantParams: map[string]string{"id": "42", "post": "7"},
		},
		{
			name: "catch-all", path: "/files/docs/readme.txt",
			want: "/files/*", wantParams: map[string]string{"*": "docs/readme.txt"},
		},
		{name: "no match", path: "/nothing/here", wantMiss: true},
		{name: "param pattern too short", path: "/users/42/posts", wantMiss: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, params, ok := r.Match(tt.path)
			if tt.wantMiss {
				if ok {
					t.Errorf("expected miss, matched %v", value)
				}
				return
			}
			if !ok {
				t.Fatalf("expected match for %s", tt.path)
			}
			if value != tt.want {
				t.Errorf("matched %v, want %v", value, tt.want)
			}
			if !reflect.DeepEqual(params, tt.wantParams) {
				t.Errorf("params %v, want %v", params, tt.wantParams)
			}
		})
	}
}

func TestRouter_LiteralBeatsPattern(t *testing.T) {
	r := New()
	// Registration order would favor the pattern; the literal still wins.
	if err := r.Add("/users/:id", "pattern"); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("/users/me", "literal"); err != nil {
		t.Fatal(err)
	}

	value, _, ok := r.Match("/users/me")
	if !ok || value != "literal" {
		t.Errorf("matched %v, want literal", value)
	}

	value, params, ok := r.Match("/users/42")
	if !ok || value != "pattern" || params["id"] != "42" {
		t.Errorf("matched %v %v", value, params)
	}
}

func TestRouter_PatternOrder(t *testing.T) {
	r := New()
	if err := r.Add("/a/:x", "first"); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("/a/:y", "second"); err != nil {
		t.Fatal(err)
	}

	// Both patterns match; the first registered wins.
	value, _, ok := r.Match("/a/1")
	if !ok || value != "first" {
		t.Errorf("matched %v, want first", value)
	}
}

func TestRouter_Patterns(t *testing.T) {
	r := New()
	for _, p := range []string{"/b", "/a", "/c/:x"} {
		if err := r.Add(p, nil); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"/b", "/a", "/c/:x"}
	if got := r.Patterns(); !reflect.DeepEqual(got, want) {
		t.Errorf("patterns %v, want %v", got, want)
	}
}
