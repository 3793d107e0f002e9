package recorder

import (
	"encoding/hex"
	"encoding/json"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	kindEmpty  = ""
	kindBinary = "binary"
	kindJSON   = "json"
	kindText   = "text"
)

// classify buckets a buffered payload. Order matters: binary detection
// first, then a structured parse attempt, then the raw-text fallback. A
// payload that fails the JSON parse is not an error; it simply lands in
// the text bucket.
func classify(b []byte) (any, string) {
	if len(b) == 0 {
		return nil, kindEmpty
	}
	if !utf8.Valid(b) {
		return hex.EncodeToString(b), kindBinary
	}
	if gjson.ValidBytes(b) {
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			return v, kindJSON
		}
	}
	return string(b), kindText
}

// redactJSON deletes the configured gjson paths from a structured value.
// Non-JSON payloads pass through untouched.
func redactJSON(v any, kind string, paths []string) any {
	if kind != kindJSON || len(paths) == 0 {
		return v
	}
	text, err := json.Marshal(v)
	if err != nil {
		return v
	}
	for _, path := range paths {
		if next, err := sjson.DeleteBytes(text, path); err == nil {
			text = next
		}
	}
	var out any
	if err := json.Unmarshal(text, &out); err != nil {
		return v
	}
	return out
}
