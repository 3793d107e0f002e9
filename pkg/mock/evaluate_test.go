package mock

import (
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/match"
)

func testRequest(method, path string) *Request {
	return &Request{
		Endpoint: endpoint.Parse("http://api.test"),
		Method:   method,
		Path:     path,
		Header:   http.Header{},
	}
}

func TestEvaluateMethodCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	e := newExpectation("http://api.test", "get", "/items")
	r.Add(e)
	candidates, _ := r.Lookup(endpoint.Parse("http://api.test"))

	outcome, picked := Evaluate(testRequest("GET", "/items"), candidates)
	assert.Equal(t, OutcomeMatched, outcome)
	assert.Same(t, e, picked)

	outcome, _ = Evaluate(testRequest("post", "/items"), candidates)
	assert.Equal(t, OutcomeNoMatch, outcome)
}

func TestEvaluatePathVariants(t *testing.T) {
	tests := []struct {
		name    string
		matcher match.Matcher
		path    string
		want    Outcome
	}{
		{name: "exact hit", matcher: match.Exact("/items"), path: "/items", want: OutcomeMatched},
		{name: "exact miss on subpath", matcher: match.Exact("/items"), path: "/items/7", want: OutcomeNoMatch},
		{name: "pattern hit", matcher: match.Pattern(regexp.MustCompile(`^/items/\d+$`)), path: "/items/7", want: OutcomeMatched},
		{name: "pattern miss", matcher: match.Pattern(regexp.MustCompile(`^/items/\d+$`)), path: "/items/abc", want: OutcomeNoMatch},
		{name: "predicate hit", matcher: match.Predicate(func(p string) bool { return strings.HasSuffix(p, ".json") }), path: "/export.json", want: OutcomeMatched},
		{name: "predicate miss", matcher: match.Predicate(func(p string) bool { return strings.HasSuffix(p, ".json") }), path: "/export.xml", want: OutcomeNoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Expectation{
				Endpoint: endpoint.Parse("http://api.test"),
				Method:   "GET",
				Path:     tt.matcher,
			}
			outcome, _ := Evaluate(testRequest("GET", tt.path), []*Expectation{e})
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestEvaluateHeaderSubset(t *testing.T) {
	e := newExpectation("http://api.test", "GET", "/items")
	e.Header = []HeaderMatcher{
		{Name: "accept", Value: match.Exact("application/json")},
		{Name: "X-Request-Id", Value: match.Pattern(regexp.MustCompile(`^req-\d+$`))},
	}

	req := testRequest("GET", "/items")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", "req-42")
	req.Header.Set("User-Agent", "irrelevant extra header")

	outcome, _ := Evaluate(req, []*Expectation{e})
	assert.Equal(t, OutcomeMatched, outcome, "undeclared request headers are ignored")

	req.Header.Del("Accept")
	outcome, _ = Evaluate(req, []*Expectation{e})
	assert.Equal(t, OutcomeNoMatch, outcome, "declared header must be present")
}

func TestEvaluateHeaderMultiValue(t *testing.T) {
	e := newExpectation("http://api.test", "GET", "/items")
	e.Header = []HeaderMatcher{{Name: "Accept", Value: match.Exact("application/json")}}

	req := testRequest("GET", "/items")
	req.Header.Add("Accept", "text/html")
	req.Header.Add("Accept", "application/json")

	outcome, _ := Evaluate(req, []*Expectation{e})
	assert.Equal(t, OutcomeMatched, outcome, "any value of a multi-valued header may satisfy the matcher")
}

func TestEvaluateBody(t *testing.T) {
	e := newExpectation("http://api.test", "POST", "/items")
	e.Body = BodyJSON(map[string]any{"name": "kit"})

	req := testRequest("POST", "/items")
	req.Body = []byte(`{ "name": "kit" }`)
	outcome, _ := Evaluate(req, []*Expectation{e})
	assert.Equal(t, OutcomeMatched, outcome)

	req.Body = []byte(`{"name":"cat"}`)
	outcome, _ = Evaluate(req, []*Expectation{e})
	assert.Equal(t, OutcomeNoMatch, outcome)
}

func TestEvaluateFirstRegisteredWins(t *testing.T) {
	first := newExpectation("http://api.test", "GET", "/items")
	second := newExpectation("http://api.test", "GET", "/items")

	outcome, picked := Evaluate(testRequest("GET", "/items"), []*Expectation{first, second})
	assert.Equal(t, OutcomeMatched, outcome)
	assert.Same(t, first, picked)
}

func TestEvaluatePassThrough(t *testing.T) {
	e := newExpectation("http://api.test", "POST", "/items")
	e.Body = BodyString(`{"declared":true}`)
	e.AllowUnmocked = true

	req := testRequest("POST", "/items")
	req.Body = []byte(`{"declared":false}`)

	outcome, picked := Evaluate(req, []*Expectation{e})
	assert.Equal(t, OutcomePassThrough, outcome)
	assert.Same(t, e, picked)
}

func TestEvaluateBodyMismatchWithoutFallback(t *testing.T) {
	e := newExpectation("http://api.test", "POST", "/items")
	e.Body = BodyString(`{"declared":true}`)

	req := testRequest("POST", "/items")
	req.Body = []byte(`{"declared":false}`)

	outcome, picked := Evaluate(req, []*Expectation{e})
	assert.Equal(t, OutcomeNoMatch, outcome)
	assert.Nil(t, picked)
}

func TestEvaluatePassThroughRequiresHeadSurvivor(t *testing.T) {
	e := newExpectation("http://api.test", "POST", "/declared")
	e.AllowUnmocked = true

	// Different path: not even a body-independent match, so the fallback
	// flag does not apply.
	outcome, _ := Evaluate(testRequest("POST", "/other"), []*Expectation{e})
	assert.Equal(t, OutcomeNoMatch, outcome)
}

func TestEvaluateHead(t *testing.T) {
	withBody := newExpectation("http://api.test", "POST", "/items")
	withBody.Body = BodyString("exact body")
	otherPath := newExpectation("http://api.test", "POST", "/other")

	head := EvaluateHead(testRequest("POST", "/items"), []*Expectation{withBody, otherPath})
	require.Len(t, head, 1)
	assert.Same(t, withBody, head[0], "head evaluation ignores body matchers")
}
