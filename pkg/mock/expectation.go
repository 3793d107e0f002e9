// Package mock holds the expectation model and the matching core: the
// registry of declared request expectations, the filter pipeline that
// selects one for an incoming request, and the consumption bookkeeping
// that retires non-persistent expectations after use.
package mock

import (
	"net/http"
	"net/textproto"
	"time"

	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/match"
)

// Request is the normalized descriptor of one outbound request as seen
// by the matching pipeline. Body stays nil until the caller has finished
// streaming it; the head-only pipeline steps never look at it.
type Request struct {
	Endpoint endpoint.Endpoint
	Method   string
	Path     string
	Header   http.Header
	Body     []byte
}

// HeaderMatcher requires a request header to be present and to satisfy
// the value matcher. Headers the expectation does not declare are
// ignored, so header matching is a subset check.
type HeaderMatcher struct {
	Name  string
	Value match.Matcher
}

func (h HeaderMatcher) matches(header http.Header) bool {
	if header == nil {
		return false
	}
	values, ok := header[textproto.CanonicalMIMEHeaderKey(h.Name)]
	if !ok || len(values) == 0 {
		return false
	}
	for _, v := range values {
		if h.Value.Match(v) {
			return true
		}
	}
	return false
}

// ReplySpec declares the simulated response of an expectation. Exactly
// one of Body, Chunks or BodyFn supplies the payload; all nil means an
// empty body. A non-nil Err turns the reply into a raised error instead
// of a response.
type ReplySpec struct {
	Status int
	Header http.Header
	Body   []byte
	Chunks [][]byte
	BodyFn func(req *Request) []byte
	Err    error
	Delay  time.Duration
}

// ResponseChunks materializes the declared body as the chunk sequence to
// emit. Literal and function bodies produce a single chunk.
func (r ReplySpec) ResponseChunks(req *Request) [][]byte {
	switch {
	case len(r.Chunks) > 0:
		return r.Chunks
	case r.BodyFn != nil:
		if b := r.BodyFn(req); len(b) > 0 {
			return [][]byte{b}
		}
		return nil
	case len(r.Body) > 0:
		return [][]byte{r.Body}
	default:
		return nil
	}
}

// Expectation is one registered mock rule: which requests it intercepts
// and how to reply. The registry owns every registered Expectation;
// other components hold at most a transient reference while an exchange
// is in flight.
type Expectation struct {
	Endpoint endpoint.Endpoint
	Method   string
	Path     match.Matcher
	Header   []HeaderMatcher
	Body     *BodyMatcher
	Reply    ReplySpec

	// RemainingUses counts simulated exchanges left before the registry
	// retires the expectation. Guarded by the registry lock.
	RemainingUses int
	// Persistent exempts the expectation from use-count retirement.
	Persistent bool
	// TimesUsed counts completed simulated exchanges. Registry lock.
	TimesUsed int

	// ScopeFilter, when set, redirects lookups: a request whose canonical
	// endpoint key satisfies the filter is served this expectation's
	// whole endpoint group even if its exact key differs.
	ScopeFilter func(basePath string) bool

	// AllowUnmocked lets a request that matched everything except the
	// body pass through to the real network instead of failing.
	AllowUnmocked bool
}

// String renders the request line the expectation intercepts, for logs
// and pending-mock listings.
func (e *Expectation) String() string {
	path := ""
	if e.Path != nil {
		path = e.Path.String()
	}
	return e.Method + " " + e.Endpoint.Key() + path
}
