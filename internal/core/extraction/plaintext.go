package extraction

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.Extractor = (*PlainTextExtractor)(nil)

type PlainTextExtractor struct{}

func NewPlainTextExtractor() *PlainTextExtractor { return &PlainTextExtractor{} }

func (e *PlainTextExtractor) Name() string { return "plaintext" }

func (e *PlainTextExtractor) ContentTypes() []string {
	return []string{"text/plain", "text/markdown", "text/x-markdown", ".txt", ".md", ".markdown"}
}

func (e *PlainTextExtractor) Extract(ctx context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	if !utf8.Valid(data) {
		return nil, classify(ctx, e.Name(), errInvalidUTF8)
	}
	text := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))

	meta := map[string]string{}
	lines := 0
	sc := bufio.NewScanner(bytes.NewReader([]byte(text)))
	sc.Buffer(make([]byte, 64*1024), len(text)+1)
	for sc.Scan() {
		lines++
		line := strings.TrimSpace(sc.Text())
		if _, ok := meta["title"]; !ok && strings.HasPrefix(line, "# ") {
			meta["title"] = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	meta["line_count"] = strconv.Itoa(lines)
	meta["word_count"] = strconv.Itoa(len(strings.Fields(text)))

	return &core.ExtractedText{Text: text, Metadata: meta}, nil
}
