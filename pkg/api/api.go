// Package api defines the contracts shared between the interception
// engine and its transport adapters. Adapters (an http.RoundTripper, a
// forward proxy, or anything else that can redirect client traffic) hand
// each outbound request to the engine and then obey the engine's verdict:
// emit a simulated response, forward to the real network, or fail.
package api

import "net/http"

// RequestStart carries the request line and headers of an outbound
// request at the moment the adapter sees it, before any body bytes.
type RequestStart struct {
	// Scheme is "http" or "https". Empty defaults to "http".
	Scheme string
	// Host is the target host, optionally with an embedded port.
	Host string
	// Port is the target port when the adapter knows it separately.
	Port int
	// Method is the HTTP method as sent by the client.
	Method string
	// Path is the request path including any query string.
	Path string
	// Header holds the outbound request headers.
	Header http.Header
}

// ExchangeTransport is implemented by adapters. The engine invokes
// exactly one terminal sequence per exchange: either the three Emit
// calls in order (headers, zero or more chunks, end), or a single
// ForwardToRealNetwork, or a single Fail.
type ExchangeTransport interface {
	// EmitResponseHeaders delivers the simulated status line and headers.
	EmitResponseHeaders(status int, header http.Header) error

	// EmitResponseChunk delivers one chunk of the simulated body.
	EmitResponseChunk(p []byte) error

	// EmitResponseEnd marks the simulated body as complete.
	EmitResponseEnd() error

	// ForwardToRealNetwork instructs the adapter to perform the real
	// request itself. The adapter reports the live response back on the
	// exchange so recording sessions can observe it.
	ForwardToRealNetwork() error

	// Fail aborts the exchange with err, which the adapter surfaces the
	// way its platform reports connection failures.
	Fail(err error)
}

// EnvDisable is the environment kill switch. When set to a non-empty
// value the engine stops matching and forwards every request untouched.
const EnvDisable = "SNARE_OFF"
