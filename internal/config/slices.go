package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxSlicesFileSize = 1024 * 1024 // 1MB

// SliceConfig describes one retrieval slice.
//
// Index names the collection the slice reads: "text" (document chunks),
// "captions" (image captions) or "images" (raw image vectors).
type SliceConfig struct {
	Name      string        `koanf:"-"`
	Index     string        `koanf:"index"`
	Transform string        `koanf:"transform"`
	Weight    float64       `koanf:"weight"`
	TopK      int           `koanf:"top_k"`
	Timeout   time.Duration `koanf:"timeout"`
	Priority  int           `koanf:"priority"`
	Enabled   bool          `koanf:"enabled"`
}

const defaultSlicesYAML = `
slices:
  text_chunks:
    index: text
    transform: identity
    weight: 1.0
    top_k: 10
    timeout: 3s
    priority: 1
    enabled: true
  image_captions:
    index: captions
    transform: caption
    weight: 0.8
    top_k: 10
    timeout: 3s
    priority: 2
    enabled: true
  raw_images:
    index: images
    transform: identity
    weight: 0.6
    top_k: 10
    timeout: 3s
    priority: 3
    enabled: false
`

// LoadSlices merges the built-in slices, the YAML file at path (optional) and
// LUMINA_SLICES__<NAME>__<FIELD> environment overrides, e.g.
//
//	LUMINA_SLICES__RAW_IMAGES__ENABLED=true -> slices.raw_images.enabled
//
// Enabled slices are returned in priority order, ties broken by name.
func LoadSlices(path string) ([]SliceConfig, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultSlicesYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default slices: %w", err)
	}

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("slices config %s: %w", path, err)
		}
		if info.Size() > maxSlicesFileSize {
			return nil, fmt.Errorf("slices config %s exceeds %d bytes", path, maxSlicesFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read slices config: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load slices config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("LUMINA_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load slice overrides: %w", err)
	}

	var raw map[string]SliceConfig
	if err := k.Unmarshal("slices", &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slices: %w", err)
	}

	out := make([]SliceConfig, 0, len(raw))
	for name, s := range raw {
		if !s.Enabled {
			continue
		}
		s.Name = name
		if err := s.validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no retrieval slice enabled")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// envKey maps LUMINA_SLICES__TEXT_CHUNKS__WEIGHT to slices.text_chunks.weight.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "LUMINA_"))
	return strings.ReplaceAll(s, "__", ".")
}

func (s SliceConfig) validate() error {
	switch s.Index {
	case "text", "captions", "images":
	default:
		return fmt.Errorf("slice %s: unknown index %q", s.Name, s.Index)
	}
	if s.Weight < 0 {
		return fmt.Errorf("slice %s: weight must not be negative", s.Name)
	}
	if s.TopK < 0 {
		return fmt.Errorf("slice %s: top_k must not be negative", s.Name)
	}
	return nil
}
