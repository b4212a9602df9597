package liveview

import (
	"strings"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

var (
	minifier     *minify.M
	minifierOnce sync.Once
)

func getMinifier() *minify.M {
	minifierOnce.Do(func() {
		minifier = minify.New()
		minifier.AddFunc("text/html", html.Minify)
	})
	return minifier
}

// minifyHTML compacts a served document. A minifier error falls back to the
// original markup rather than failing the response.
func minifyHTML(doc string) string {
	if !strings.Contains(doc, "<") {
		return strings.Join(strings.Fields(doc), " ")
	}
	minified, err := getMinifier().String("text/html", doc)
	if err != nil {
		return doc
	}
	return minified
}
