package extraction

import (
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core"
)

// DefaultRegistry returns a registry with every built-in extractor and the
// tesseract OCR backend registered. Extra OCR backends are added by the caller.
func DefaultRegistry(logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry()
	extractors := []core.Extractor{
		NewHTMLExtractor(),
		NewCSVExtractor(),
		NewJSONExtractor(),
		NewXMLExtractor(),
		NewArchiveExtractor(reg, logger),
		NewOfficeExtractor(false),
		NewEmailExtractor(),
		NewPlainTextExtractor(),
	}
	for _, e := range extractors {
		if err := reg.Register(e); err != nil {
			return nil, err
		}
	}
	if err := reg.RegisterOCR(NewTesseractOCR()); err != nil {
		return nil, err
	}
	return reg, nil
}
