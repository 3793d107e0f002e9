package intercept

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/match"
	"github.com/snarelabs/snare/pkg/mock"
)

// Scope is the fluent entry point for declaring expectations against
// one endpoint:
//
//	eng.Scope("https://api.example.com").
//	    Get("/users").
//	    Reply(200).
//	    JSON(`{"items":[]}`)
//
// Scope-level matchers and flags apply to every expectation declared
// through the scope.
type Scope struct {
	eng           *Engine
	endpoint      endpoint.Endpoint
	header        []mock.HeaderMatcher
	allowUnmocked bool
	filter        func(key string) bool
}

// Scope starts declaring expectations for the endpoint named by base,
// e.g. "https://api.example.com" or "localhost:8080".
func (e *Engine) Scope(base string) *Scope {
	return &Scope{eng: e, endpoint: endpoint.Parse(base)}
}

// MatchHeader requires the named request header to equal value on every
// expectation declared through this scope.
func (s *Scope) MatchHeader(name, value string) *Scope {
	s.header = append(s.header, mock.HeaderMatcher{Name: name, Value: match.Exact(value)})
	return s
}

// MatchHeaderPattern requires the named request header to match re.
func (s *Scope) MatchHeaderPattern(name string, re *regexp.Regexp) *Scope {
	s.header = append(s.header, mock.HeaderMatcher{Name: name, Value: match.Pattern(re)})
	return s
}

// AllowUnmocked lets requests that match an expectation head here but
// are eliminated by body matching pass through to the real network
// instead of failing.
func (s *Scope) AllowUnmocked() *Scope {
	s.allowUnmocked = true
	return s
}

// FilterEndpoint widens the scope: any request whose canonical endpoint
// key ("scheme://hostname:port") satisfies m is redirected to this
// scope's expectations, regardless of the endpoint it actually targets.
func (s *Scope) FilterEndpoint(m match.Matcher) *Scope {
	s.filter = m.Match
	return s
}

// Get declares an expectation for GET requests on the exact path. An
// optional body argument constrains the request body; see Intercept.
func (s *Scope) Get(path string, body ...any) *Builder {
	return s.verb(http.MethodGet, path, body)
}

// Post declares an expectation for POST requests on the exact path.
func (s *Scope) Post(path string, body ...any) *Builder {
	return s.verb(http.MethodPost, path, body)
}

// Put declares an expectation for PUT requests on the exact path.
func (s *Scope) Put(path string, body ...any) *Builder {
	return s.verb(http.MethodPut, path, body)
}

// Patch declares an expectation for PATCH requests on the exact path.
func (s *Scope) Patch(path string, body ...any) *Builder {
	return s.verb(http.MethodPatch, path, body)
}

// Delete declares an expectation for DELETE requests on the exact path.
func (s *Scope) Delete(path string, body ...any) *Builder {
	return s.verb(http.MethodDelete, path, body)
}

// Head declares an expectation for HEAD requests on the exact path.
func (s *Scope) Head(path string, body ...any) *Builder {
	return s.verb(http.MethodHead, path, body)
}

// Options declares an expectation for OPTIONS requests on the exact
// path.
func (s *Scope) Options(path string, body ...any) *Builder {
	return s.verb(http.MethodOptions, path, body)
}

// Intercept declares an expectation for an arbitrary method and path
// matcher. The optional body argument accepts, in order of checking: a
// *mock.BodyMatcher, a *regexp.Regexp matched against the raw body, a
// func([]byte) bool predicate, a string or []byte compared byte for
// byte, or any other value compared as JSON regardless of key order and
// whitespace. An empty method matches every method.
func (s *Scope) Intercept(method string, path match.Matcher, body ...any) *Builder {
	exp := &mock.Expectation{
		Endpoint:      s.endpoint,
		Method:        method,
		Path:          path,
		Header:        append([]mock.HeaderMatcher(nil), s.header...),
		Body:          bodyArg(body),
		ScopeFilter:   s.filter,
		AllowUnmocked: s.allowUnmocked,
	}
	return &Builder{scope: s, exp: exp}
}

func (s *Scope) verb(method, path string, body []any) *Builder {
	return s.Intercept(method, match.Exact(path), body...)
}

func bodyArg(body []any) *mock.BodyMatcher {
	switch len(body) {
	case 0:
		return nil
	case 1:
		return bodyMatcherOf(body[0])
	default:
		panic("intercept: at most one body argument per expectation")
	}
}

func bodyMatcherOf(v any) *mock.BodyMatcher {
	switch t := v.(type) {
	case nil:
		return nil
	case *mock.BodyMatcher:
		return t
	case *regexp.Regexp:
		return mock.BodyPattern(t)
	case func([]byte) bool:
		return mock.BodyPredicate(t)
	case string:
		return mock.BodyString(t)
	case []byte:
		return mock.BodyBytes(t)
	default:
		return mock.BodyJSON(v)
	}
}

// Builder accumulates per-expectation matchers and lifecycle settings.
// Matcher and lifecycle methods must come before Reply or ReplyError,
// which register the expectation.
type Builder struct {
	scope *Scope
	exp   *mock.Expectation
}

// MatchHeader requires the named request header to equal value.
func (b *Builder) MatchHeader(name, value string) *Builder {
	b.exp.Header = append(b.exp.Header, mock.HeaderMatcher{Name: name, Value: match.Exact(value)})
	return b
}

// MatchHeaderPattern requires the named request header to match re.
func (b *Builder) MatchHeaderPattern(name string, re *regexp.Regexp) *Builder {
	b.exp.Header = append(b.exp.Header, mock.HeaderMatcher{Name: name, Value: match.Pattern(re)})
	return b
}

// MatchBody replaces the body constraint; v is interpreted the way
// Intercept interprets its body argument.
func (b *Builder) MatchBody(v any) *Builder {
	b.exp.Body = bodyMatcherOf(v)
	return b
}

// MatchBodyJSONPath requires the request body to be JSON whose value at
// the given gjson path equals want.
func (b *Builder) MatchBodyJSONPath(path string, want any) *Builder {
	b.exp.Body = mock.BodyJSONPath(path, want)
	return b
}

// Times sets how many exchanges the expectation serves before it is
// removed. The default is one.
func (b *Builder) Times(n int) *Builder {
	b.exp.RemainingUses = n
	return b
}

// Persist makes the expectation serve unlimited exchanges.
func (b *Builder) Persist() *Builder {
	b.exp.Persistent = true
	return b
}

// AllowUnmocked marks this expectation for pass-through fallback when
// body matching eliminates it.
func (b *Builder) AllowUnmocked() *Builder {
	b.exp.AllowUnmocked = true
	return b
}

// Reply registers the expectation with the given response status and
// returns the reply handle for declaring the response payload.
func (b *Builder) Reply(status int) *Reply {
	b.exp.Reply.Status = status
	b.scope.eng.Register(b.exp)
	return &Reply{exp: b.exp}
}

// ReplyError registers the expectation with an error reply: a matching
// exchange fails with err instead of receiving a response.
func (b *Builder) ReplyError(err error) *Reply {
	b.exp.Reply.Err = err
	b.scope.eng.Register(b.exp)
	return &Reply{exp: b.exp}
}

// Reply declares the response payload of a registered expectation.
type Reply struct {
	exp *mock.Expectation
}

// JSON sets the response body to the JSON encoding of v with a
// Content-Type of application/json. Strings, byte slices and
// json.RawMessage values that already hold valid JSON are used as is;
// anything else is marshaled. Encoding failures panic, as registration
// happens during test setup.
func (r *Reply) JSON(v any) *Reply {
	r.exp.Reply.Body = jsonBytes(v)
	r.header().Set("Content-Type", "application/json")
	return r
}

// Body sets the raw response body.
func (r *Reply) Body(b []byte) *Reply {
	r.exp.Reply.Body = b
	return r
}

// BodyString sets the response body to s.
func (r *Reply) BodyString(s string) *Reply {
	r.exp.Reply.Body = []byte(s)
	return r
}

// Chunks sets the response body as explicit chunks, emitted one
// EmitResponseChunk call each.
func (r *Reply) Chunks(chunks ...[]byte) *Reply {
	r.exp.Reply.Chunks = chunks
	return r
}

// BodyFunc computes the response body from the matched request.
func (r *Reply) BodyFunc(fn func(req *mock.Request) []byte) *Reply {
	r.exp.Reply.BodyFn = fn
	return r
}

// Header sets a response header.
func (r *Reply) Header(name, value string) *Reply {
	r.header().Set(name, value)
	return r
}

// Delay postpones the response emission by d. The delay honors the
// exchange context, so canceled requests do not wait it out.
func (r *Reply) Delay(d time.Duration) *Reply {
	r.exp.Reply.Delay = d
	return r
}

// Expectation exposes the registered expectation, mostly for
// inspecting lifecycle counters in tests.
func (r *Reply) Expectation() *mock.Expectation {
	return r.exp
}

func (r *Reply) header() http.Header {
	if r.exp.Reply.Header == nil {
		r.exp.Reply.Header = http.Header{}
	}
	return r.exp.Reply.Header
}

func jsonBytes(v any) []byte {
	switch t := v.(type) {
	case json.RawMessage:
		return []byte(t)
	case []byte:
		if json.Valid(t) {
			return t
		}
	case string:
		if json.Valid([]byte(t)) {
			return []byte(t)
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("intercept: encode json reply: %v", err))
	}
	return b
}
