package intercept

import (
	"encoding/json"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarelabs/snare/pkg/match"
	"github.com/snarelabs/snare/pkg/mock"
)

func TestScopeBuilderDefaults(t *testing.T) {
	eng := New(Config{})
	exp := eng.Scope("https://api.example.com").
		Get("/users").
		Reply(204).
		Expectation()

	assert.Equal(t, http.MethodGet, exp.Method)
	assert.Equal(t, "https://api.example.com:443", exp.Endpoint.Key())
	assert.Equal(t, "/users", exp.Path.String())
	assert.Equal(t, 204, exp.Reply.Status)
	assert.Equal(t, 1, exp.RemainingUses)
	assert.False(t, exp.Persistent)
}

func TestScopeWithoutScheme(t *testing.T) {
	eng := New(Config{})
	exp := eng.Scope("localhost:8080").Get("/").Reply(200).Expectation()
	assert.Equal(t, "http://localhost:8080", exp.Endpoint.Key())
}

func TestReplyJSONVariants(t *testing.T) {
	eng := New(Config{})

	tests := []struct {
		name string
		v    any
		want string
	}{
		{name: "raw string", v: `{"a":1}`, want: `{"a":1}`},
		{name: "raw bytes", v: []byte(`[1,2]`), want: `[1,2]`},
		{name: "raw message", v: json.RawMessage(`{"b":true}`), want: `{"b":true}`},
		{name: "struct", v: struct {
			Name string `json:"name"`
		}{Name: "x"}, want: `{"name":"x"}`},
		{name: "map", v: map[string]int{"n": 3}, want: `{"n":3}`},
		{name: "plain string becomes json string", v: "hello", want: `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := eng.Scope("http://svc.local").Get("/").Reply(200).JSON(tt.v).Expectation()
			assert.JSONEq(t, tt.want, string(exp.Reply.Body))
			assert.Equal(t, "application/json", exp.Reply.Header.Get("Content-Type"))
		})
	}
}

func TestBodyArgumentForms(t *testing.T) {
	eng := New(Config{})
	scope := eng.Scope("http://svc.local")

	tests := []struct {
		name    string
		arg     any
		body    []byte
		matches bool
	}{
		{name: "exact string hit", arg: "abc", body: []byte("abc"), matches: true},
		{name: "exact string miss", arg: "abc", body: []byte("abd"), matches: false},
		{name: "bytes", arg: []byte{0x01, 0x02}, body: []byte{0x01, 0x02}, matches: true},
		{name: "regexp", arg: regexp.MustCompile(`"id":\s*\d+`), body: []byte(`{"id": 42}`), matches: true},
		{name: "predicate", arg: func(b []byte) bool { return len(b) > 3 }, body: []byte("long enough"), matches: true},
		{name: "json map reordered", arg: map[string]any{"a": 1.0, "b": "x"}, body: []byte(`{"b":"x","a":1}`), matches: true},
		{name: "json miss", arg: map[string]any{"a": 1.0}, body: []byte(`{"a":2}`), matches: false},
		{name: "prebuilt matcher", arg: mock.BodyString("zz"), body: []byte("zz"), matches: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := scope.Post("/x", tt.arg).Reply(200).Expectation()
			require.NotNil(t, exp.Body)
			assert.Equal(t, tt.matches, exp.Body.Match(tt.body))
		})
	}
}

func TestBodyArgumentPanicsOnExtra(t *testing.T) {
	eng := New(Config{})
	assert.Panics(t, func() {
		eng.Scope("http://svc.local").Post("/x", "one", "two")
	})
}

func TestInterceptWithPathPattern(t *testing.T) {
	eng := New(Config{})
	eng.Scope("https://api.example.com").
		Intercept(http.MethodGet, match.Pattern(regexp.MustCompile(`^/users/\d+$`))).
		Persist().
		Reply(200)

	hit := drive(t, eng, "GET", "https://api.example.com/users/42", nil)
	miss := drive(t, eng, "GET", "https://api.example.com/users/abc", nil)

	assert.Equal(t, 200, hit.status)
	assert.True(t, miss.forwarded)
}

func TestInterceptAnyMethod(t *testing.T) {
	eng := New(Config{})
	eng.Scope("https://api.example.com").
		Intercept("", match.Exact("/any")).
		Persist().
		Reply(200)

	for _, method := range []string{"GET", "POST", "DELETE"} {
		ft := drive(t, eng, method, "https://api.example.com/any", nil)
		assert.Equal(t, 200, ft.status, method)
	}
}

func TestBuilderJSONPathMatch(t *testing.T) {
	eng := New(Config{})
	eng.Scope("https://api.example.com").
		Post("/events").
		MatchBodyJSONPath("payload.kind", "signup").
		Persist().
		Reply(202)

	hit := drive(t, eng, "POST", "https://api.example.com/events",
		[]byte(`{"payload":{"kind":"signup","user":"u1"}}`))
	miss := drive(t, eng, "POST", "https://api.example.com/events",
		[]byte(`{"payload":{"kind":"login"}}`))

	assert.Equal(t, 202, hit.status)
	assert.True(t, miss.forwarded)
}

func TestScopeHeadersApplyToAllExpectations(t *testing.T) {
	eng := New(Config{})
	scope := eng.Scope("https://api.example.com").MatchHeader("X-Env", "test")
	exp1 := scope.Get("/a").Reply(200).Expectation()
	exp2 := scope.Get("/b").Reply(200).Expectation()

	require.Len(t, exp1.Header, 1)
	require.Len(t, exp2.Header, 1)
	assert.Equal(t, "X-Env", exp1.Header[0].Name)
}

func TestReplyHeaderAndDelay(t *testing.T) {
	eng := New(Config{})
	exp := eng.Scope("http://svc.local").
		Get("/").
		Reply(200).
		Header("X-Request-Id", "abc").
		Header("Retry-After", "1").
		Delay(50 * time.Millisecond).
		Expectation()

	assert.Equal(t, "abc", exp.Reply.Header.Get("X-Request-Id"))
	assert.Equal(t, "1", exp.Reply.Header.Get("Retry-After"))
	assert.Equal(t, 50*time.Millisecond, exp.Reply.Delay)
}

func TestHexBytes(t *testing.T) {
	assert.Equal(t, []byte{0xde, 0xad}, HexBytes("dead"))
	assert.Nil(t, HexBytes("zz"))
	assert.Empty(t, HexBytes(""))
}
