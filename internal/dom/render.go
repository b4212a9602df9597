package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Render serializes the subtree rooted at n back to HTML. Rendering a
// synthetic root emits only its children.
func Render(n *Node) string {
	var b strings.Builder
	render(&b, n)
	return b.String()
}

// RenderChildren serializes only the children of n, in order. This is the
// innerHTML analog used when a container's content is replaced wholesale.
func RenderChildren(n *Node) string {
	var b strings.Builder
	for _, c := range n.Children {
		render(&b, c)
	}
	return b.String()
}

func render(b *strings.Builder, n *Node) {
	switch n.Type {
	case TextNode:
		b.WriteString(html.EscapeString(n.Text))
	case CommentNode:
		b.WriteString("<!--")
		b.WriteString(n.Text)
		b.WriteString("-->")
	case ElementNode:
		if n.Tag == "" {
			for _, c := range n.Children {
				render(b, c)
			}
			return
		}
		b.WriteByte('<')
		b.WriteString(n.Tag)
		for _, a := range n.Attrs {
			b.WriteByte(' ')
			b.WriteString(a.Key)
			if a.Val != "" {
				b.WriteString(`="`)
				b.WriteString(html.EscapeString(a.Val))
				b.WriteByte('"')
			}
		}
		b.WriteByte('>')
		if IsVoid(n.Tag) {
			return
		}
		for _, c := range n.Children {
			render(b, c)
		}
		b.WriteString("</")
		b.WriteString(n.Tag)
		b.WriteByte('>')
	}
}
