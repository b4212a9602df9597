// Package patch applies a diff-produced patch list to a live node tree. It is
// the Go counterpart of the thin client's DOM mutation layer and shares the
// selector grammar emitted by internal/diff.
package patch

import (
	"strconv"
	"strings"

	"github.com/PhilipJohnBasile/liveview/internal/diff"
	"github.com/PhilipJohnBasile/liveview/internal/dom"
)

// Apply executes patches against the tree rooted at container, in list
// order. Application is best-effort, not transactional: a selector that no
// longer resolves (stale reference, prior patch removed it) skips that
// operation silently. Untouched subtrees keep their node identity.
//
// Re-binding event listeners and hook lifecycles on inserted markup is the
// caller's concern.
func Apply(container *dom.Node, patches []diff.Patch) {
	for _, p := range patches {
		apply(container, p)
	}
}

func apply(container *dom.Node, p diff.Patch) {
	if p.Op == diff.OpMorph {
		// Wholesale content replacement of the container.
		replaceChildren(container, dom.Parse(p.HTML))
		return
	}

	target := Resolve(container, p.Selector)
	if target == nil {
		return
	}

	switch p.Op {
	case diff.OpReplace:
		if target == container {
			replaceChildren(container, dom.Parse(p.HTML))
			return
		}
		target.ReplaceWith(dom.Parse(p.HTML).Children...)
	case diff.OpAppend:
		for _, c := range dom.Parse(p.HTML).Children {
			target.AppendChild(c)
		}
	case diff.OpPrepend:
		parsed := dom.Parse(p.HTML).Children
		for i := len(parsed) - 1; i >= 0; i-- {
			target.PrependChild(parsed[i])
		}
	case diff.OpRemove:
		if target != container {
			target.Detach()
		}
	case diff.OpUpdateAttr:
		target.SetAttr(p.Attr, p.Value)
	case diff.OpRemoveAttr:
		target.RemoveAttr(p.Attr)
	}
}

func replaceChildren(container *dom.Node, parsed *dom.Node) {
	container.Children = nil
	for _, c := range parsed.Children {
		container.AppendChild(c)
	}
}

// Resolve walks a selector to its target node under container, or returns
// nil when any segment fails to match. The grammar is exactly what the
// differ emits: segments joined by " > ", each one of "#id",
// `[phx-key="k"]`, or ":nth-child(i)". An empty selector addresses the
// container itself. Child positions count significant (non-whitespace)
// children, matching the differ's indexing.
func Resolve(container *dom.Node, selector string) *dom.Node {
	if selector == "" {
		return container
	}

	current := container
	for i, segment := range strings.Split(selector, " > ") {
		segment = strings.TrimSpace(segment)
		switch {
		case strings.HasPrefix(segment, "#"):
			// An id segment restarts resolution from the container scope.
			if i != 0 {
				current = container
			}
			current = current.FindByID(segment[1:])
		case strings.HasPrefix(segment, "[phx-key="):
			current = childByKey(current, segment)
		case strings.HasPrefix(segment, ":nth-child("):
			current = childByIndex(current, segment)
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}
	return current
}

func childByKey(parent *dom.Node, segment string) *dom.Node {
	key := strings.TrimSuffix(strings.TrimPrefix(segment, `[phx-key="`), `"]`)
	for _, c := range parent.SignificantChildren() {
		if c.Type == dom.ElementNode && c.Key == key {
			return c
		}
	}
	return nil
}

func childByIndex(parent *dom.Node, segment string) *dom.Node {
	numeric := strings.TrimSuffix(strings.TrimPrefix(segment, ":nth-child("), ")")
	idx, err := strconv.Atoi(numeric)
	if err != nil || idx < 1 {
		return nil
	}
	kids := parent.SignificantChildren()
	if idx > len(kids) {
		return nil
	}
	return kids[idx-1]
}
