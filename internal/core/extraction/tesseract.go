package extraction

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.OCRBackend = (*TesseractOCR)(nil)

// TesseractOCR runs docconv's image conversion; the binary must be built with the `ocr` tag.
type TesseractOCR struct{}

func NewTesseractOCR() *TesseractOCR { return &TesseractOCR{} }

func (o *TesseractOCR) Name() string { return "tesseract" }

func (o *TesseractOCR) Recognize(ctx context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	text, meta, err := docconv.ConvertImage(bytes.NewReader(data))
	if err != nil {
		return nil, classify(ctx, o.Name(), err)
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["ocr_backend"] = o.Name()
	return &core.ExtractedText{Text: strings.TrimSpace(text), Metadata: meta}, nil
}
