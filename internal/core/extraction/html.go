package extraction

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.Extractor = (*HTMLExtractor)(nil)

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// HTMLExtractor reads page metadata with goquery and converts the body to markdown.
type HTMLExtractor struct {
	conv *md.Converter
}

func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{conv: md.NewConverter("", true, nil)}
}

func (e *HTMLExtractor) Name() string { return "html" }

func (e *HTMLExtractor) ContentTypes() []string {
	return []string{"text/html", "application/xhtml+xml", ".html", ".htm"}
}

func (e *HTMLExtractor) Extract(ctx context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	meta := map[string]string{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	for _, name := range []string{"description", "keywords", "author"} {
		sel := doc.Find(`meta[name="` + name + `"]`).First()
		if v := strings.TrimSpace(sel.AttrOr("content", "")); v != "" {
			meta[name] = v
		}
	}
	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		meta["language"] = lang
	}
	meta["link_count"] = strconv.Itoa(doc.Find("a[href]").Length())
	meta["heading_count"] = strconv.Itoa(doc.Find("h1, h2, h3, h4, h5, h6").Length())

	doc.Find("script, style, noscript").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	html, err := body.Html()
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	text, err := e.conv.ConvertString(html)
	if err != nil {
		// fall back to the plain text nodes
		text = body.Text()
	}
	text = strings.TrimSpace(blankLinesRe.ReplaceAllString(text, "\n\n"))

	return &core.ExtractedText{Text: text, Metadata: meta}, nil
}
