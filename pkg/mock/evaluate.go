package mock

import "strings"

// Outcome is the three-way result of evaluating a request against its
// candidate expectations.
type Outcome int

const (
	// OutcomeNoMatch means no candidate survived; net-connect policy
	// decides what happens to the request.
	OutcomeNoMatch Outcome = iota
	// OutcomeMatched selected exactly one expectation to simulate.
	OutcomeMatched
	// OutcomePassThrough means body filtering eliminated an otherwise
	// matching candidate that allows unmocked fallback; the request goes
	// to the real network.
	OutcomePassThrough
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomePassThrough:
		return "passthrough"
	default:
		return "no_match"
	}
}

// EvaluateHead runs the body-independent pipeline steps over the
// candidates, in order: method (case-insensitive), path matcher, header
// subset match. It is callable before any body bytes have arrived, so
// transports can decide early whether to keep streaming into the engine.
// Survivors keep their registration order.
func EvaluateHead(req *Request, candidates []*Expectation) []*Expectation {
	method := canonicalMethod(req.Method)

	var head []*Expectation
	for _, e := range candidates {
		if e.Method != "" && e.Method != method {
			continue
		}
		if e.Path != nil && !e.Path.Match(req.Path) {
			continue
		}
		if !headersMatch(e, req) {
			continue
		}
		head = append(head, e)
	}
	return head
}

// Evaluate runs the full pipeline. The first head survivor whose body
// matcher accepts the buffered body wins. When the body step eliminates
// every survivor, a survivor with unmocked fallback converts the result
// into OutcomePassThrough; otherwise the request is unmatched.
func Evaluate(req *Request, candidates []*Expectation) (Outcome, *Expectation) {
	head := EvaluateHead(req, candidates)
	if len(head) == 0 {
		return OutcomeNoMatch, nil
	}

	for _, e := range head {
		if e.Body == nil || e.Body.Match(req.Body) {
			return OutcomeMatched, e
		}
	}

	for _, e := range head {
		if e.AllowUnmocked {
			return OutcomePassThrough, e
		}
	}
	return OutcomeNoMatch, nil
}

func headersMatch(e *Expectation, req *Request) bool {
	for _, h := range e.Header {
		if !h.matches(req.Header) {
			return false
		}
	}
	return true
}

func canonicalMethod(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}
