package narrative

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// renderHTML converts generated markdown to HTML so stored narratives share
// the format of the fallback narratives. Raw HTML in the input is dropped and
// links are limited to safe protocols, since prompts carry student comments verbatim.
func renderHTML(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	mdParser := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank | mdhtml.SkipHTML | mdhtml.Safelink,
	})

	return strings.TrimSpace(string(markdown.ToHTML([]byte(text), mdParser, renderer)))
}

// Summarize strips markup from an HTML narrative and truncates it to limit runes.
func Summarize(narrative string, limit int) string {
	text := narrative
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(narrative)); err == nil {
		doc.Find("script, style").Remove()
		doc.Find("p, h1, h2, h3, h4, h5, h6, li, br, div").AfterHtml(" ")
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
