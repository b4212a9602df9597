package diff

import (
	"fmt"

	"github.com/PhilipJohnBasile/liveview/internal/dom"
)

// Diff compares two rendered HTML fragments and returns the ordered patch
// list that transforms a DOM seeded with oldHTML into newHTML. Equal inputs
// yield an empty list.
func Diff(oldHTML, newHTML string) []Patch {
	if oldHTML == newHTML {
		return nil
	}

	oldRoot := dom.Parse(oldHTML)
	newRoot := dom.Parse(newHTML)

	// Nothing comparable on the old side: replace the container's content
	// wholesale rather than guessing at structure.
	if len(oldRoot.SignificantChildren()) == 0 {
		return []Patch{{Op: OpMorph, Selector: "", HTML: newHTML}}
	}

	return diffChildren(oldRoot, newRoot, "")
}

// diffNodes compares a matched old/new pair addressed by selector.
func diffNodes(oldNode, newNode *dom.Node, selector string) []Patch {
	if oldNode.Type != newNode.Type {
		return []Patch{{Op: OpReplace, Selector: selector, HTML: dom.Render(newNode)}}
	}

	switch oldNode.Type {
	case dom.TextNode, dom.CommentNode:
		if oldNode.Text != newNode.Text {
			return []Patch{{Op: OpReplace, Selector: selector, HTML: dom.Render(newNode)}}
		}
		return nil
	}

	// Incompatible tags are not reconciled.
	if oldNode.Tag != newNode.Tag {
		return []Patch{{Op: OpReplace, Selector: selector, HTML: dom.Render(newNode)}}
	}

	patches := diffAttributes(oldNode, newNode, selector)
	patches = append(patches, diffChildren(oldNode, newNode, selector)...)
	return patches
}

// diffAttributes emits one UpdateAttr per added/changed attribute and one
// RemoveAttr per removed attribute.
func diffAttributes(oldNode, newNode *dom.Node, selector string) []Patch {
	var patches []Patch

	for _, a := range oldNode.Attrs {
		if _, exists := newNode.Attr(a.Key); !exists {
			patches = append(patches, Patch{Op: OpRemoveAttr, Selector: selector, Attr: a.Key})
		}
	}

	for _, a := range newNode.Attrs {
		if oldVal, exists := oldNode.Attr(a.Key); !exists || oldVal != a.Val {
			patches = append(patches, Patch{Op: OpUpdateAttr, Selector: selector, Attr: a.Key, Value: a.Val})
		}
	}

	return patches
}

// diffChildren reconciles the significant children of a matched pair,
// choosing the keyed strategy when every sibling on both sides carries a
// unique key and falling back to positional diffing otherwise.
func diffChildren(oldParent, newParent *dom.Node, selector string) []Patch {
	oldKids := oldParent.SignificantChildren()
	newKids := newParent.SignificantChildren()

	if fullyKeyed(oldKids) && fullyKeyed(newKids) {
		return diffKeyed(oldKids, newKids, selector)
	}
	return diffPositional(oldKids, newKids, selector)
}

// fullyKeyed reports whether every node carries a key and no key repeats.
// A single keyless or duplicate-keyed sibling demotes the whole group to
// positional diffing.
func fullyKeyed(kids []*dom.Node) bool {
	if len(kids) == 0 {
		return false
	}
	seen := make(map[string]bool, len(kids))
	for _, k := range kids {
		if k.Type != dom.ElementNode || k.Key == "" || seen[k.Key] {
			return false
		}
		seen[k.Key] = true
	}
	return true
}

// diffKeyed reconciles keyed sibling groups: removals first, then per-key
// recursion for survivors, then insertions. Surviving keys keep their
// relative document order; a pure reorder of surviving keys emits no patches
// (accepted behavior, no Move op).
func diffKeyed(oldKids, newKids []*dom.Node, selector string) []Patch {
	oldByKey := make(map[string]*dom.Node, len(oldKids))
	for _, k := range oldKids {
		oldByKey[k.Key] = k
	}
	newByKey := make(map[string]*dom.Node, len(newKids))
	for _, k := range newKids {
		newByKey[k.Key] = k
	}

	var patches []Patch

	for _, oldKid := range oldKids {
		if _, survives := newByKey[oldKid.Key]; !survives {
			patches = append(patches, Patch{Op: OpRemove, Selector: keySelector(selector, oldKid.Key)})
		}
	}

	for i, newKid := range newKids {
		oldKid, existed := oldByKey[newKid.Key]
		if !existed {
			op := OpAppend
			if i == 0 {
				op = OpPrepend
			}
			patches = append(patches, Patch{Op: op, Selector: selector, HTML: dom.Render(newKid)})
			continue
		}
		patches = append(patches, diffNodes(oldKid, newKid, childSelector(selector, oldKid, i))...)
	}

	return patches
}

// diffPositional reconciles unkeyed sibling groups index by index. Trailing
// removals are emitted highest index first so each selector still resolves
// after the patches before it have been applied.
func diffPositional(oldKids, newKids []*dom.Node, selector string) []Patch {
	var patches []Patch

	overlap := len(oldKids)
	if len(newKids) < overlap {
		overlap = len(newKids)
	}

	for i := 0; i < overlap; i++ {
		patches = append(patches, diffNodes(oldKids[i], newKids[i], childSelector(selector, oldKids[i], i))...)
	}

	for i := overlap; i < len(newKids); i++ {
		patches = append(patches, Patch{Op: OpAppend, Selector: selector, HTML: dom.Render(newKids[i])})
	}

	for i := len(oldKids) - 1; i >= overlap; i-- {
		patches = append(patches, Patch{Op: OpRemove, Selector: childSelector(selector, oldKids[i], i)})
	}

	return patches
}

// childSelector addresses the i-th significant child of the node at parent.
// An id attribute wins outright, then the reconciliation key, then the
// structural position.
func childSelector(parent string, n *dom.Node, i int) string {
	if n.Type == dom.ElementNode {
		if id := n.ID(); id != "" {
			return "#" + id
		}
		if n.Key != "" {
			return keySelector(parent, n.Key)
		}
	}
	return joinSelector(parent, fmt.Sprintf(":nth-child(%d)", i+1))
}

func keySelector(parent, key string) string {
	return joinSelector(parent, `[phx-key="`+key+`"]`)
}

func joinSelector(parent, segment string) string {
	if parent == "" {
		return segment
	}
	return parent + " > " + segment
}
