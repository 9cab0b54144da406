package extraction

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.Extractor = (*XMLExtractor)(nil)

// XMLExtractor collects character data through docconv and records the root element.
type XMLExtractor struct{}

func NewXMLExtractor() *XMLExtractor { return &XMLExtractor{} }

func (e *XMLExtractor) Name() string { return "xml" }

func (e *XMLExtractor) ContentTypes() []string {
	return []string{"application/xml", "text/xml", ".xml"}
}

func (e *XMLExtractor) Extract(ctx context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	text, meta, err := docconv.ConvertXML(bytes.NewReader(data))
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["root_element"] = root

	return &core.ExtractedText{Text: strings.TrimSpace(text), Metadata: meta}, nil
}

// rootElement returns the local name of the first start element.
func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("no root element")
		}
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}
