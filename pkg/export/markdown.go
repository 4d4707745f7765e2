package export

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	gohtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// renderHTML converts a markdown draft into an HTML fragment.
func renderHTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))
	renderer := gohtml.NewRenderer(gohtml.RendererOptions{Flags: gohtml.CommonFlags})
	return string(markdown.Render(doc, renderer))
}

// htmlDocument wraps a rendered fragment into a standalone page for
// download and print deliveries.
func htmlDocument(title, fragment string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: -apple-system, Helvetica, Arial, sans-serif; max-width: 42em; margin: 2em auto; line-height: 1.5; }
</style>
</head>
<body>
%s
</body>
</html>
`, htmlEscape(title), fragment)
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// splitParagraphs breaks a markdown draft into block-sized chunks for
// APIs that take paragraph lists instead of documents.
func splitParagraphs(md string) []string {
	parts := strings.Split(md, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	// Notion caps children per request; trim the long tail rather than fail.
	const maxBlocks = 90
	if len(out) > maxBlocks {
		out = out[:maxBlocks]
	}
	return out
}
