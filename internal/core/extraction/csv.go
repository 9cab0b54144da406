package extraction

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.Extractor = (*CSVExtractor)(nil)

// CSVExtractor renders each data row as "column: value" pairs so chunks keep their headers.
type CSVExtractor struct{}

func NewCSVExtractor() *CSVExtractor { return &CSVExtractor{} }

func (e *CSVExtractor) Name() string { return "csv" }

func (e *CSVExtractor) ContentTypes() []string {
	return []string{"text/csv", "application/csv", ".csv"}
}

func (e *CSVExtractor) Extract(ctx context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &core.ExtractedText{Metadata: map[string]string{"rows": "0", "columns": "0"}}, nil
	}
	if err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	var (
		sb   strings.Builder
		rows int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, classify(ctx, e.Name(), err)
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classify(ctx, e.Name(), err)
		}
		rows++
		for i, v := range rec {
			if i > 0 {
				sb.WriteString(" | ")
			}
			col := "column_" + strconv.Itoa(i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				col = strings.TrimSpace(header[i])
			}
			sb.WriteString(col)
			sb.WriteString(": ")
			sb.WriteString(strings.TrimSpace(v))
		}
		sb.WriteByte('\n')
	}

	return &core.ExtractedText{
		Text: strings.TrimSpace(sb.String()),
		Metadata: map[string]string{
			"rows":    strconv.Itoa(rows),
			"columns": strconv.Itoa(len(header)),
			"header":  strings.Join(header, ","),
		},
	}, nil
}
