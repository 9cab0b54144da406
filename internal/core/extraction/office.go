package extraction

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.Extractor = (*OfficeExtractor)(nil)

// officeTypes maps every claimed content type to the media type docconv dispatches on.
var officeTypes = map[string]string{
	"application/pdf":             "application/pdf",
	"application/msword":          "application/msword",
	"application/rtf":             "application/rtf",
	"text/rtf":                    "application/rtf",
	"application/vnd.apple.pages": "application/vnd.apple.pages",

	"application/vnd.oasis.opendocument.text":                                 "application/vnd.oasis.opendocument.text",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",

	".pdf":   "application/pdf",
	".doc":   "application/msword",
	".docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":   "application/vnd.oasis.opendocument.text",
	".rtf":   "application/rtf",
	".pages": "application/vnd.apple.pages",
}

// OfficeExtractor implements core.Extractor for office and PDF documents using sajari/docconv.
type OfficeExtractor struct {
	useReadability bool
}

func NewOfficeExtractor(useReadability bool) *OfficeExtractor {
	return &OfficeExtractor{useReadability: useReadability}
}

func (e *OfficeExtractor) Name() string { return "office" }

func (e *OfficeExtractor) ContentTypes() []string {
	out := make([]string, 0, len(officeTypes))
	for ct := range officeTypes {
		out = append(out, ct)
	}
	return out
}

// Extract converts the document with docconv and keeps its meta as candidates.
func (e *OfficeExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedText, error) {
	mimeType, ok := officeTypes[contentType]
	if !ok {
		mimeType = contentType
	}

	res, err := docconv.Convert(bytes.NewReader(data), mimeType, e.useReadability)
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	meta := make(map[string]string, len(res.Meta))
	for k, v := range res.Meta {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}

	return &core.ExtractedText{Text: strings.TrimSpace(res.Body), Metadata: meta}, nil
}
