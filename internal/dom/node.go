// Package dom provides the lightweight node tree that the differ and the
// patch applier operate on. Trees are produced by Parse from rendered HTML
// and serialized back with Render.
package dom

import (
	"strings"
)

// NodeType discriminates the node variants in a parsed tree.
type NodeType int

const (
	ElementNode NodeType = iota
	TextNode
	CommentNode
)

// Attr is a single element attribute. Order is preserved from the source.
type Attr struct {
	Key string
	Val string
}

// Node is one node of a parsed HTML fragment. A fragment always has a single
// synthetic root (Tag == "") whose children are the top-level nodes; this
// keeps multi-root fragments uniform for diffing.
type Node struct {
	Type NodeType

	// Element fields
	Tag      string
	Attrs    []Attr
	Key      string // from phx-key / data-phx-key, used for keyed reconciliation
	Children []*Node

	// Text / comment content
	Text string

	Parent *Node
}

// voidElements never take a closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// IsVoid reports whether tag is a void element.
func IsVoid(tag string) bool {
	return voidElements[strings.ToLower(tag)]
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces the named attribute, preserving position on
// replacement.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Key == name {
			n.Attrs[i].Val = value
			n.syncKey()
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Key: name, Val: value})
	n.syncKey()
}

// RemoveAttr deletes the named attribute if present.
func (n *Node) RemoveAttr(name string) {
	for i := range n.Attrs {
		if n.Attrs[i].Key == name {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			n.syncKey()
			return
		}
	}
}

// syncKey re-derives the reconciliation key after an attribute mutation.
func (n *Node) syncKey() {
	if v, ok := n.Attr("phx-key"); ok {
		n.Key = v
		return
	}
	if v, ok := n.Attr("data-phx-key"); ok {
		n.Key = v
		return
	}
	n.Key = ""
}

// ID returns the element's id attribute, or "".
func (n *Node) ID() string {
	v, _ := n.Attr("id")
	return v
}

// IsWhitespace reports whether n is a text node containing only whitespace.
// Such nodes are invisible to the differ but survive in the tree.
func (n *Node) IsWhitespace() bool {
	return n.Type == TextNode && strings.TrimSpace(n.Text) == ""
}

// SignificantChildren returns the children the differ reconciles: everything
// except whitespace-only text nodes.
func (n *Node) SignificantChildren() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.IsWhitespace() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// AppendChild adds c as the last child of n and reparents it.
func (n *Node) AppendChild(c *Node) {
	c.Parent = n
	n.Children = append(n.Children, c)
}

// PrependChild adds c as the first child of n and reparents it.
func (n *Node) PrependChild(c *Node) {
	c.Parent = n
	n.Children = append([]*Node{c}, n.Children...)
}

// Detach removes n from its parent's child list.
func (n *Node) Detach() {
	p := n.Parent
	if p == nil {
		return
	}
	for i, c := range p.Children {
		if c == n {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	n.Parent = nil
}

// ReplaceWith substitutes n with the given nodes in its parent's child list.
func (n *Node) ReplaceWith(nodes ...*Node) {
	p := n.Parent
	if p == nil {
		return
	}
	for i, c := range p.Children {
		if c == n {
			rest := append([]*Node{}, p.Children[i+1:]...)
			p.Children = append(p.Children[:i], nodes...)
			p.Children = append(p.Children, rest...)
			for _, nn := range nodes {
				nn.Parent = p
			}
			n.Parent = nil
			return
		}
	}
}

// FindByID searches the subtree rooted at n for an element with the given id.
func (n *Node) FindByID(id string) *Node {
	if n.Type == ElementNode && n.ID() == id {
		return n
	}
	for _, c := range n.Children {
		if found := c.FindByID(id); found != nil {
			return found
		}
	}
	return nil
}
