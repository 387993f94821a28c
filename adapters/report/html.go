// Package report renders the Markdown analysis report as a standalone HTML page.
package report

import (
	"context"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

const stylesheet = `<style>
body { font-family: sans-serif; max-width: 60em; margin: 2em auto; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #ccc; padding: 0.2em 0.6em; text-align: right; }
th:first-child, td:first-child { text-align: left; }
</style>
`

// HTMLRenderer renders Markdown reports as a complete HTML page
type HTMLRenderer struct{}

// NewHTMLRenderer creates an HTML renderer
func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{}
}

// Render converts the Markdown body to a standalone HTML document
func (r *HTMLRenderer) Render(ctx context.Context, title string, md []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// parsers keep state and cannot be reused across documents
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage,
		Head:  []byte(stylesheet),
	})
	return markdown.ToHTML(md, p, renderer), nil
}
