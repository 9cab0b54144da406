package metadata

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/metrics"
	"github.com/markdave123-py/Lumina/internal/models"
)

// dateLayouts are tried in order when coercing date values.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"D:20060102150405-07'00'", // PDF date
}

var enumRe = regexp.MustCompile(`^[\p{L}\p{N}_.\-]{1,64}$`)

// Normalizer maps raw metadata candidates onto the shared key library.
type Normalizer struct {
	lib    KeyLibrary
	logger *zap.Logger
}

func NewNormalizer(lib KeyLibrary, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{lib: lib, logger: logger}
}

// Normalize canonicalizes keys, registers unknown keys while the library has room
// and coerces every value to its key's type. The result is sorted by key, so the
// same candidates always produce the same output regardless of map order.
func (n *Normalizer) Normalize(ctx context.Context, candidates map[string]string) ([]models.MetadataValue, error) {
	raw := make([]string, 0, len(candidates))
	for k := range candidates {
		raw = append(raw, k)
	}
	sort.Strings(raw)

	seen := make(map[string]bool, len(raw))
	out := make([]models.MetadataValue, 0, len(raw))
	for _, rk := range raw {
		key := CanonicalKey(rk)
		value := strings.TrimSpace(candidates[rk])
		if key == "" || value == "" || seen[key] {
			continue
		}
		seen[key] = true

		typ, ok, err := n.lib.Register(ctx, key, InferType(value))
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.MetadataKeysDropped.Inc()
			n.logger.Debug("metadata key dropped at cardinality cap", zap.String("key", key))
			continue
		}
		out = append(out, Coerce(key, value, typ))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Observe feeds one document's values into the key library distributions.
func (n *Normalizer) Observe(ctx context.Context, values []models.MetadataValue) error {
	return n.lib.Observe(ctx, values)
}

// Keys lists the library for filter suggestion.
func (n *Normalizer) Keys(ctx context.Context) ([]models.MetadataKeyEntry, error) {
	return n.lib.List(ctx)
}

// CanonicalKey converts a key to lower-case ascii snake_case.
// "pageCount", "Page Count" and "page-count" all become "page_count".
func CanonicalKey(key string) string {
	var b strings.Builder
	prevLower := false
	pendingSep := false
	for _, r := range strings.TrimSpace(key) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if unicode.IsUpper(r) && prevLower {
				pendingSep = true
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		default:
			pendingSep = true
			prevLower = false
		}
	}
	return b.String()
}

// InferType guesses the type of a newly seen key from its first value.
func InferType(value string) models.MetadataType {
	v := strings.TrimSpace(value)
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return models.MetadataNumber
	}
	if _, ok := parseDate(v); ok {
		return models.MetadataDate
	}
	if len(v) <= 32 && enumRe.MatchString(v) {
		return models.MetadataEnum
	}
	return models.MetadataString
}

// Coerce converts value to typ, falling back to the raw string when it does not fit.
func Coerce(key, value string, typ models.MetadataType) models.MetadataValue {
	v := strings.TrimSpace(value)
	mv := models.MetadataValue{Key: key, Type: typ, Raw: value}

	switch typ {
	case models.MetadataNumber:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fallback(key, value)
		}
		mv.Number = &f
	case models.MetadataDate:
		t, ok := parseDate(v)
		if !ok {
			return fallback(key, value)
		}
		mv.Date = &t
	case models.MetadataEnum:
		e := strings.ToLower(v)
		if !enumRe.MatchString(e) {
			return fallback(key, value)
		}
		mv.Text = e
	default:
		mv.Type = models.MetadataString
		mv.Text = v
	}
	return mv
}

func fallback(key, value string) models.MetadataValue {
	return models.MetadataValue{
		Key:      key,
		Type:     models.MetadataString,
		Raw:      value,
		Text:     value,
		Fallback: true,
	}
}

func parseDate(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
