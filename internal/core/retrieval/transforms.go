package retrieval

import (
	"fmt"
	"strings"
)

// Transform rewrites the caller's query text before a slice embeds it.
type Transform func(string) string

var transforms = map[string]Transform{
	"identity":  strings.TrimSpace,
	"lowercase": func(q string) string { return strings.ToLower(strings.TrimSpace(q)) },
	// caption phrases the query the way image captions are written
	"caption": func(q string) string { return "A picture of " + strings.TrimSpace(q) },
}

// LookupTransform resolves a configured transform name. Empty means identity.
func LookupTransform(name string) (Transform, error) {
	if name == "" {
		name = "identity"
	}
	t, ok := transforms[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown query transform %q", name)
	}
	return t, nil
}
