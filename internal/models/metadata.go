package models

import (
	"strconv"
	"time"
)

// MetadataType is the inferred type of a metadata key.
type MetadataType string

const (
	MetadataString MetadataType = "string"
	MetadataNumber MetadataType = "number"
	MetadataDate   MetadataType = "date"
	MetadataEnum   MetadataType = "enum"
)

// MetadataValue is one normalized key/value pair attached to a document.
type MetadataValue struct {
	Key      string       `json:"key"`
	Type     MetadataType `json:"type"`
	Raw      string       `json:"raw"`
	Number   *float64     `json:"number,omitempty"`
	Date     *time.Time   `json:"date,omitempty"`
	Text     string       `json:"text,omitempty"` // string and enum values
	Fallback bool         `json:"fallback,omitempty"`
}

// String renders the value in the form written to index payloads and filters.
func (v MetadataValue) String() string {
	switch {
	case v.Fallback:
		return v.Raw
	case v.Number != nil:
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	case v.Date != nil:
		return v.Date.UTC().Format(time.RFC3339)
	default:
		return v.Text
	}
}

// MetadataKeyEntry is a key known to the shared key library.
type MetadataKeyEntry struct {
	Key           string         `json:"key"`
	Type          MetadataType   `json:"type"`
	Values        map[string]int `json:"values"`
	DocumentCount int            `json:"documentCount"`
}

// MetadataMap flattens values to key -> string for index payloads.
func MetadataMap(values []MetadataValue) map[string]string {
	out := make(map[string]string, len(values))
	for _, v := range values {
		out[v.Key] = v.String()
	}
	return out
}
