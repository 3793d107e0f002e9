// Package transport adapts net/http clients to the interception
// engine. A RoundTripper hands every outbound request to the engine and
// converts the verdict back into an *http.Response, performing the real
// request itself when the engine says to forward.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/snarelabs/snare/pkg/api"
	"github.com/snarelabs/snare/pkg/intercept"
)

const chunkSize = 32 * 1024

// RoundTripper implements http.RoundTripper on top of an engine.
type RoundTripper struct {
	eng   *intercept.Engine
	inner http.RoundTripper
}

// New wraps inner with interception. A nil inner falls back to
// http.DefaultTransport for forwarded requests.
func New(eng *intercept.Engine, inner http.RoundTripper) *RoundTripper {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &RoundTripper{eng: eng, inner: inner}
}

// Install swaps the client's transport for an intercepting one and
// returns a restore function that puts the original back. A nil client
// installs on http.DefaultClient.
func Install(client *http.Client, eng *intercept.Engine) func() {
	if client == nil {
		client = http.DefaultClient
	}
	prev := client.Transport
	client.Transport = New(eng, prev)
	return func() {
		client.Transport = prev
	}
}

// RoundTrip implements http.RoundTripper.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := api.RequestStart{
		Scheme: req.URL.Scheme,
		Host:   req.URL.Host,
		Method: req.Method,
		Path:   req.URL.RequestURI(),
		Header: req.Header,
	}
	if p := req.URL.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err == nil {
			start.Port = port
		}
	}

	col := &collector{}
	x, err := rt.eng.StartRequest(req.Context(), start, col)
	if err != nil {
		return nil, err
	}

	reqBody, err := streamBody(x, req.Body)
	if err != nil {
		x.Abort()
		return nil, err
	}
	if err := x.End(); err != nil {
		return nil, err
	}

	switch {
	case col.failErr != nil:
		return nil, col.failErr
	case col.forwarded:
		return rt.forward(x, req, reqBody)
	default:
		return col.response(req), nil
	}
}

// streamBody feeds the request body to the exchange chunk by chunk and
// returns a buffered copy for replay on forwarded requests.
func streamBody(x *intercept.Exchange, body io.ReadCloser) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()

	var replay bytes.Buffer
	buf := make([]byte, chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			replay.Write(buf[:n])
			if werr := x.WriteChunk(buf[:n]); werr != nil {
				return nil, werr
			}
		}
		if err == io.EOF {
			return replay.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// forward performs the real request with the buffered body restored and
// reports the live response back on the exchange as the caller reads
// it.
func (rt *RoundTripper) forward(x *intercept.Exchange, req *http.Request, body []byte) (*http.Response, error) {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	resp, err := rt.inner.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	x.ObserveResponseHeaders(resp.StatusCode, resp.Header)
	resp.Body = &observedBody{rc: resp.Body, x: x}
	return resp, nil
}

// collector receives the engine's verdict. All callbacks run on the
// RoundTrip goroutine, inside StartRequest or End.
type collector struct {
	status    int
	header    http.Header
	body      bytes.Buffer
	forwarded bool
	failErr   error
}

func (c *collector) EmitResponseHeaders(status int, header http.Header) error {
	c.status = status
	c.header = header
	return nil
}

func (c *collector) EmitResponseChunk(p []byte) error {
	c.body.Write(p)
	return nil
}

func (c *collector) EmitResponseEnd() error {
	return nil
}

func (c *collector) ForwardToRealNetwork() error {
	c.forwarded = true
	return nil
}

func (c *collector) Fail(err error) {
	c.failErr = err
}

func (c *collector) response(req *http.Request) *http.Response {
	header := c.header
	if header == nil {
		header = http.Header{}
	}
	body := c.body.Bytes()
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.status, http.StatusText(c.status)),
		StatusCode:    c.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// observedBody mirrors a forwarded response body into the exchange so
// recording sessions capture exactly what the client read.
type observedBody struct {
	rc   io.ReadCloser
	x    *intercept.Exchange
	once sync.Once
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.x.ObserveResponseChunk(p[:n])
	}
	if err == io.EOF {
		b.once.Do(b.x.ObserveResponseEnd)
	}
	return n, err
}

func (b *observedBody) Close() error {
	err := b.rc.Close()
	b.once.Do(b.x.ObserveResponseEnd)
	return err
}
