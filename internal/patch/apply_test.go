package patch

import (
	"testing"

	"github.com/PhilipJohnBasile/liveview/internal/diff"
	"github.com/PhilipJohnBasile/liveview/internal/dom"
)

// applyDiff runs the full pipeline: parse the old markup, diff old against
// new, apply the patches, and render the result.
func applyDiff(t *testing.T, oldHTML, newHTML string) string {
	t.Helper()
	container := dom.Parse(oldHTML)
	Apply(container, diff.Diff(oldHTML, newHTML))
	return dom.RenderChildren(container)
}

func TestApply_Convergence(t *testing.T) {
	// Applying Diff(a, b) to a tree seeded with a must converge on b.
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{
			name: "text change",
			old:  `<div id="c"><h1>Count: 0</h1></div>`,
			new:  `<div id="c"><h1>Count: 1</h1></div>`,
		},
		{
			name: "attribute change",
			old:  `<div id="c" class="off">x</div>`,
			new:  `<div id="c" class="on">x</div>`,
		},
		{
			name: "attribute added and removed",
			old:  `<div id="c" title="t">x</div>`,
			new:  `<div id="c" hidden>x</div>`,
		},
		{
			name: "tag change",
			old:  `<div id="c"><span>x</span></div>`,
			new:  `<div id="c"><p>x</p></div>`,
		},
		{
			name: "keyed removal",
			old:  `<ul id="l"><li phx-key="a">a</li><li phx-key="b">b</li><li phx-key="c">c</li></ul>`,
			new:  `<ul id="l"><li phx-key="a">a</li><li phx-key="c">c</li></ul>`,
		},
		{
			name: "keyed append",
			old:  `<ul id="l"><li phx-key="a">a</li></ul>`,
			new:  `<ul id="l"><li phx-key="a">a</li><li phx-key="b">b</li></ul>`,
		},
		{
			name: "keyed prepend",
			old:  `<ul id="l"><li phx-key="a">a</li></ul>`,
			new:  `<ul id="l"><li phx-key="z">z</li><li phx-key="a">a</li></ul>`,
		},
		{
			name: "keyed survivor edit",
			old:  `<ul id="l"><li phx-key="a">old</li><li phx-key="b">b</li></ul>`,
			new:  `<ul id="l"><li phx-key="a">new</li><li phx-key="b">b</li></ul>`,
		},
		{
			name: "positional shrink",
			old:  `<ul id="l"><li>a</li><li>b</li><li>c</li></ul>`,
			new:  `<ul id="l"><li>a</li></ul>`,
		},
		{
			name: "positional grow",
			old:  `<ul id="l"><li>a</li></ul>`,
			new:  `<ul id="l"><li>a</li><li>b</li><li>c</li></ul>`,
		},
		{
			name: "empty old full morph",
			old:  ``,
			new:  `<div id="c">fresh</div>`,
		},
		{
			name: "nested structural change",
			old:  `<div id="app"><section id="s"><p>one</p><p>two</p></section><footer>f</footer></div>`,
			new:  `<div id="app"><section id="s"><p>one</p></section><footer>g</footer></div>`,
		},
		{
			name: "multiple roots",
			old:  `<p>a</p><p>b</p>`,
			new:  `<p>a</p><p>c</p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyDiff(t, tt.old, tt.new)
			if got != tt.new {
				t.Errorf("did not converge:\nwant: %s\n got: %s", tt.new, got)
			}
		})
	}
}

func TestApply_StaleSelectorSkipped(t *testing.T) {
	container := dom.Parse(`<div id="a">x</div>`)
	Apply(container, []diff.Patch{
		{Op: diff.OpRemove, Selector: "#gone"},
		{Op: diff.OpUpdateAttr, Selector: "#a", Attr: "class", Value: "kept"},
	})

	// The stale patch is skipped; the patch after it still applies.
	got := dom.RenderChildren(container)
	if got != `<div id="a" class="kept">x</div>` {
		t.Errorf("unexpected result: %s", got)
	}
}

func TestApply_MorphReplacesContainerContent(t *testing.T) {
	container := dom.Parse(`<div>old</div>`)
	Apply(container, []diff.Patch{{Op: diff.OpMorph, Selector: "", HTML: `<p>a</p><p>b</p>`}})

	got := dom.RenderChildren(container)
	if got != `<p>a</p><p>b</p>` {
		t.Errorf("unexpected result: %s", got)
	}
}

func TestApply_PreservesUntouchedNodeIdentity(t *testing.T) {
	container := dom.Parse(`<ul id="l"><li phx-key="a">a</li><li phx-key="b">b</li></ul>`)
	keep := Resolve(container, `#l > [phx-key="a"]`)
	if keep == nil {
		t.Fatal("setup: key a not resolvable")
	}

	Apply(container, []diff.Patch{{Op: diff.OpRemove, Selector: `#l > [phx-key="b"]`}})

	// The sibling's node survives untouched rather than being rebuilt.
	if got := Resolve(container, `#l > [phx-key="a"]`); got != keep {
		t.Error("untouched sibling was rebuilt")
	}
}

func TestResolve(t *testing.T) {
	container := dom.Parse(
		`<div id="app"><ul id="l"><li phx-key="a">a</li><li phx-key="b"><span>b</span></li></ul></div>`)

	tests := []struct {
		name     string
		selector string
		wantTag  string
		wantNil  bool
	}{
		{"empty selector is container", "", "", false},
		{"id", "#l", "ul", false},
		{"id then key", `#l > [phx-key="b"]`, "li", false},
		{"id then key then index", `#l > [phx-key="b"] > :nth-child(1)`, "span", false},
		{"index from container", ":nth-child(1)", "div", false},
		{"missing id", "#nope", "", true},
		{"missing key", `#l > [phx-key="z"]`, "", true},
		{"index out of range", "#l > :nth-child(9)", "", true},
		{"zero index rejected", "#l > :nth-child(0)", "", true},
		{"unknown segment", "div.cls", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(container, tt.selector)
			if tt.wantNil {
				if got != nil {
					t.Errorf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected a node, got nil")
			}
			if got.Tag != tt.wantTag {
				t.Errorf("expected tag %q, got %q", tt.wantTag, got.Tag)
			}
		})
	}
}

func TestResolve_IDRestartsFromContainerScope(t *testing.T) {
	container := dom.Parse(`<div id="outer"><section><p id="deep">x</p></section></div>`)

	// A non-leading id segment resolves against the container, not the
	// current node.
	got := Resolve(container, `#outer > #deep`)
	if got == nil || got.Tag != "p" {
		t.Errorf("expected the p element, got %+v", got)
	}
}
