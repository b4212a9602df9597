package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Parse turns an HTML fragment into a node tree. The returned node is a
// synthetic root (Tag == "") holding the fragment's top-level nodes, so a
// fragment always has exactly one root regardless of how many siblings the
// source contains.
//
// Parsing is best-effort: on malformed input (unterminated tag, stray close
// tags) the tokenizer stops and Parse returns whatever tree has been built.
// It never returns an error; the differ treats a parse discrepancy as a full
// replace.
func Parse(source string) *Node {
	root := &Node{Type: ElementNode}
	if source == "" {
		return root
	}

	z := html.NewTokenizer(strings.NewReader(source))
	stack := []*Node{root}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// EOF or malformed input: stop consuming, keep what we built.
			return root

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			el := &Node{Type: ElementNode, Tag: strings.ToLower(string(name))}
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				el.Attrs = append(el.Attrs, Attr{Key: string(k), Val: string(v)})
			}
			el.syncKey()
			stack[len(stack)-1].AppendChild(el)
			if tt == html.StartTagToken && !IsVoid(el.Tag) {
				stack = append(stack, el)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))
			// Pop to the nearest matching open element; ignore a close tag
			// that matches nothing.
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].Tag == tag {
					stack = stack[:i]
					break
				}
			}

		case html.TextToken:
			text := string(z.Text())
			stack[len(stack)-1].AppendChild(&Node{Type: TextNode, Text: text})

		case html.CommentToken:
			// Comments may carry structural markers, so they are preserved
			// as distinct nodes rather than stripped.
			comment := string(z.Text())
			stack[len(stack)-1].AppendChild(&Node{Type: CommentNode, Text: comment})

		case html.DoctypeToken:
			// Fragments being diffed never carry a doctype worth keeping.
		}
	}
}
