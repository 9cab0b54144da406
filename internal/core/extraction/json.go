package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/markdave123-py/Lumina/internal/core"
)

var _ core.Extractor = (*JSONExtractor)(nil)

// JSONExtractor flattens a JSON document into "path: value" lines in key order.
type JSONExtractor struct{}

func NewJSONExtractor() *JSONExtractor { return &JSONExtractor{} }

func (e *JSONExtractor) Name() string { return "json" }

func (e *JSONExtractor) ContentTypes() []string {
	return []string{"application/json", "text/json", ".json"}
}

func (e *JSONExtractor) Extract(ctx context.Context, data []byte, _ string) (*core.ExtractedText, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, classify(ctx, e.Name(), err)
	}

	var lines []string
	flattenJSON("", v, &lines)

	meta := map[string]string{"json_kind": jsonKind(v)}
	if obj, ok := v.(map[string]any); ok {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		meta["top_level_keys"] = strings.Join(keys, ",")
	}
	if arr, ok := v.([]any); ok {
		meta["items"] = strconv.Itoa(len(arr))
	}

	return &core.ExtractedText{Text: strings.Join(lines, "\n"), Metadata: meta}, nil
}

func flattenJSON(path string, v any, out *[]string) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := k
			if path != "" {
				p = path + "." + k
			}
			flattenJSON(p, t[k], out)
		}
	case []any:
		for i, item := range t {
			flattenJSON(fmt.Sprintf("%s[%d]", path, i), item, out)
		}
	case nil:
		*out = append(*out, path+": null")
	default:
		*out = append(*out, fmt.Sprintf("%s: %v", path, t))
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return "null"
	}
}
