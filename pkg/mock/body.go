package mock

import (
	"bytes"
	"encoding/json"
	"reflect"
	"regexp"

	"github.com/tidwall/gjson"
)

type bodyKind int

const (
	bodyBytes bodyKind = iota
	bodyJSON
	bodyPattern
	bodyPredicate
	bodyJSONPath
)

// BodyMatcher matches the fully buffered request body. Variants mirror
// the string matchers plus two JSON-aware forms: structural equality
// against a document, and a single-path value check.
type BodyMatcher struct {
	kind bodyKind
	raw  []byte
	doc  any
	re   *regexp.Regexp
	fn   func(body []byte) bool
	path string
	want any
}

// BodyBytes matches by exact byte equality.
func BodyBytes(raw []byte) *BodyMatcher {
	return &BodyMatcher{kind: bodyBytes, raw: raw}
}

// BodyString matches by exact byte equality against a string literal.
func BodyString(s string) *BodyMatcher {
	return BodyBytes([]byte(s))
}

// BodyJSON matches structurally: the request body must parse as JSON and
// deep-equal v. Key order and whitespace are irrelevant. v may be a Go
// value (marshaled first) or JSON text as string/[]byte. If v is not
// representable as JSON the matcher degrades to exact-byte equality.
func BodyJSON(v any) *BodyMatcher {
	doc, ok := canonicalJSON(v)
	if !ok {
		return BodyBytes(rawBytes(v))
	}
	return &BodyMatcher{kind: bodyJSON, doc: doc}
}

// BodyPattern matches the body text against a regular expression.
func BodyPattern(re *regexp.Regexp) *BodyMatcher {
	return &BodyMatcher{kind: bodyPattern, re: re}
}

// BodyPredicate delegates the decision to fn.
func BodyPredicate(fn func(body []byte) bool) *BodyMatcher {
	return &BodyMatcher{kind: bodyPredicate, fn: fn}
}

// BodyJSONPath matches when the JSON value at a gjson path deep-equals
// want. The body must parse as JSON.
func BodyJSONPath(path string, want any) *BodyMatcher {
	doc, _ := canonicalJSON(want)
	return &BodyMatcher{kind: bodyJSONPath, path: path, want: doc}
}

// Match reports whether the buffered request body satisfies the matcher.
func (m *BodyMatcher) Match(body []byte) bool {
	switch m.kind {
	case bodyBytes:
		return bytes.Equal(m.raw, body)
	case bodyJSON:
		if !gjson.ValidBytes(body) {
			return false
		}
		var got any
		if err := json.Unmarshal(body, &got); err != nil {
			return false
		}
		return reflect.DeepEqual(m.doc, got)
	case bodyPattern:
		return m.re.MatchString(string(body))
	case bodyPredicate:
		return m.fn != nil && m.fn(body)
	case bodyJSONPath:
		if !gjson.ValidBytes(body) {
			return false
		}
		res := gjson.GetBytes(body, m.path)
		if !res.Exists() {
			return false
		}
		got, _ := canonicalJSON(res.Value())
		return reflect.DeepEqual(m.want, got)
	default:
		return false
	}
}

// canonicalJSON reduces v to the tree encoding/json produces when
// unmarshaling (map[string]any, []any, float64, string, bool, nil), so
// two JSON documents compare structurally via reflect.DeepEqual.
func canonicalJSON(v any) (any, bool) {
	text := rawBytes(v)
	if text == nil {
		var err error
		text, err = json.Marshal(v)
		if err != nil {
			return nil, false
		}
	}
	var doc any
	if err := json.Unmarshal(text, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

func rawBytes(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case json.RawMessage:
		return t
	case string:
		return []byte(t)
	default:
		return nil
	}
}
