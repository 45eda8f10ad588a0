// Package jsonx routes all JSON handling through one implementation so hot
// paths (queue files, audit lines, model payloads) can swap it in one place.
package jsonx

import (
	"strings"

	"github.com/goccy/go-json"
)

var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	Valid         = json.Valid
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
)

type RawMessage = json.RawMessage
type Number = json.Number

// IsDocument reports whether s is a complete JSON object or array. Model
// turns that are pure tool payloads get suppressed on this check rather than
// summarized.
func IsDocument(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return false
	}
	return json.Valid([]byte(s))
}
