package intercept

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/snarelabs/snare/pkg/logging"
	"github.com/snarelabs/snare/pkg/mock"
	"github.com/snarelabs/snare/pkg/recorder"
)

// Exchange phases. An exchange opens when the engine accepts the
// request start, collects body chunks until End, and finishes in
// exactly one of the terminal phases.
const (
	phaseOpened = iota
	phaseDeciding
	phaseResponseEmitted
	phaseForwarded
	phaseFailed
	phaseClosed
)

// Forward reasons, recorded on request_forwarded events.
const (
	reasonEngineDisabled    = "engine_disabled"
	reasonRecording         = "recording"
	reasonNetConnectAllowed = "net_connect_allowed"
	reasonUnmockedFallback  = "unmocked_fallback"
)

// Exchange tracks one outbound request from the moment the adapter
// reports its head until the engine delivers a verdict through the
// adapter's ExchangeTransport. The adapter streams request body bytes
// with WriteChunk and commits the request with End; the engine may
// settle the exchange earlier when no body bytes are needed for the
// decision.
type Exchange struct {
	id        string
	eng       *Engine
	ctx       context.Context
	req       *mock.Request
	transport transportOf

	mu      sync.Mutex
	phase   int
	body    bytes.Buffer
	observe bool

	respStatus int
	respHeader http.Header
	respBody   bytes.Buffer
}

// transportOf narrows the adapter contract the exchange needs. It is
// satisfied by api.ExchangeTransport.
type transportOf interface {
	EmitResponseHeaders(status int, header http.Header) error
	EmitResponseChunk(p []byte) error
	EmitResponseEnd() error
	ForwardToRealNetwork() error
	Fail(err error)
}

func newExchange(eng *Engine, ctx context.Context, req *mock.Request, transport transportOf) *Exchange {
	return &Exchange{
		id:        "ex-" + shortID(),
		eng:       eng,
		ctx:       ctx,
		req:       req,
		transport: transport,
		phase:     phaseOpened,
	}
}

// ID returns the exchange identifier, stamped on logs.
func (x *Exchange) ID() string { return x.id }

// WriteChunk appends one chunk of the outbound request body. Chunks
// arriving after the engine already settled the exchange by forwarding
// or failing it are discarded without error, except that exchanges
// forwarded on behalf of a recording session keep buffering so the
// capture carries the full request body; chunks after End report
// ErrExchangeDone.
func (x *Exchange) WriteChunk(p []byte) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	switch x.phase {
	case phaseOpened:
		x.body.Write(p)
		return nil
	case phaseForwarded:
		if x.observe {
			x.body.Write(p)
		}
		return nil
	case phaseFailed:
		return nil
	default:
		return ErrExchangeDone
	}
}

// End marks the request body as complete and triggers the match
// decision. For matched expectations End blocks through the configured
// reply delay and the response emission; the adapter learns the verdict
// through its ExchangeTransport callbacks. Calling End twice reports
// ErrExchangeDone.
func (x *Exchange) End() error {
	x.mu.Lock()
	switch x.phase {
	case phaseOpened:
		x.phase = phaseDeciding
	case phaseForwarded, phaseFailed:
		x.mu.Unlock()
		return nil
	default:
		x.mu.Unlock()
		return ErrExchangeDone
	}
	x.req.Body = append([]byte(nil), x.body.Bytes()...)
	x.mu.Unlock()
	return x.decide()
}

// Abort discards the exchange without a verdict: no expectation use is
// consumed and no transport callback fires. Safe to call in any phase.
func (x *Exchange) Abort() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.phase == phaseOpened {
		x.body.Reset()
		x.respBody.Reset()
		x.phase = phaseClosed
	}
}

// decide runs the full match pipeline once body bytes are in hand. The
// registry is consulted fresh so uses consumed by concurrent exchanges
// since request start are respected.
func (x *Exchange) decide() error {
	candidates, filtered := x.eng.registry.Lookup(x.req.Endpoint)
	outcome, exp := mock.Evaluate(x.req, candidates)
	switch outcome {
	case mock.OutcomeMatched:
		return x.simulate(exp, filtered)
	case mock.OutcomePassThrough:
		x.passThrough()
		return nil
	default:
		x.decideUnmatched()
		return nil
	}
}

// decideUnmatched applies the net-connect policy to a request nothing
// matched: forward when the policy allows the target, fail otherwise.
func (x *Exchange) decideUnmatched() {
	host := x.req.Endpoint.Host
	if err := x.eng.netConnect.Verdict(host); err != nil {
		x.blocked(err)
		return
	}
	x.forward(reasonNetConnectAllowed, false)
}

// simulate plays the expectation's reply through the adapter: optional
// delay, then status and headers, body chunks, and the end marker. The
// expectation's remaining-use count is updated exactly once, after the
// emission completes.
func (x *Exchange) simulate(exp *mock.Expectation, filtered bool) error {
	if exp.Reply.Err != nil {
		_, remaining := x.eng.registry.Consume(exp)
		x.setPhase(phaseFailed)
		x.transport.Fail(exp.Reply.Err)
		x.emitMatched(exp, 0, filtered, remaining)
		x.eng.logger.Debug("reply error played", "exchange", x.id,
			"expectation", exp.String(), "error", exp.Reply.Err)
		return nil
	}

	if d := exp.Reply.Delay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-x.ctx.Done():
			x.setPhase(phaseFailed)
			x.transport.Fail(x.ctx.Err())
			x.eng.logger.Debug("reply delay canceled", "exchange", x.id,
				"expectation", exp.String())
			return nil
		case <-timer.C:
		}
	}

	status := exp.Reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if err := x.transport.EmitResponseHeaders(status, exp.Reply.Header.Clone()); err != nil {
		return err
	}
	for _, chunk := range exp.Reply.ResponseChunks(x.req) {
		if err := x.transport.EmitResponseChunk(chunk); err != nil {
			return err
		}
	}
	if err := x.transport.EmitResponseEnd(); err != nil {
		return err
	}
	x.setPhase(phaseResponseEmitted)

	_, remaining := x.eng.registry.Consume(exp)
	x.emitMatched(exp, status, filtered, remaining)
	x.eng.logger.Debug("response simulated", "exchange", x.id,
		"expectation", exp.String(), "status", status, "uses_left", remaining)
	return nil
}

// passThrough forwards a request that matched an expectation head but
// was eliminated by body matching, under the allow-unmocked escape
// hatch.
func (x *Exchange) passThrough() {
	x.setPhase(phaseForwarded)
	if err := x.transport.ForwardToRealNetwork(); err != nil {
		x.eng.logger.Warn("forward failed", "exchange", x.id, "error", err)
	}
	if x.eng.emitter != nil {
		_ = x.eng.emitter.Emit(logging.EventRequestPassThrough,
			"unmocked request passed through", "engine", nil,
			logging.RequestForwardedData{
				Method: x.req.Method,
				Host:   x.req.Endpoint.Key(),
				Path:   x.req.Path,
				Reason: reasonUnmockedFallback,
			})
	}
	x.eng.logger.Debug("request passed through", "exchange", x.id,
		"host", x.req.Endpoint.Key(), "path", x.req.Path)
}

// forward hands the request to the real network. observe marks the
// exchange so the live response feeds the recorder.
func (x *Exchange) forward(reason string, observe bool) {
	x.mu.Lock()
	x.observe = observe
	x.mu.Unlock()
	x.setPhase(phaseForwarded)
	if err := x.transport.ForwardToRealNetwork(); err != nil {
		x.eng.logger.Warn("forward failed", "exchange", x.id, "error", err)
	}
	if x.eng.emitter != nil {
		_ = x.eng.emitter.Emit(logging.EventRequestForwarded,
			"request forwarded to real network", "engine", nil,
			logging.RequestForwardedData{
				Method: x.req.Method,
				Host:   x.req.Endpoint.Key(),
				Path:   x.req.Path,
				Reason: reason,
			})
	}
	x.eng.logger.Debug("request forwarded", "exchange", x.id,
		"host", x.req.Endpoint.Key(), "path", x.req.Path, "reason", reason)
}

// blocked fails the exchange with the net-connect verdict.
func (x *Exchange) blocked(err error) {
	x.setPhase(phaseFailed)
	x.transport.Fail(err)
	if x.eng.emitter != nil {
		_ = x.eng.emitter.Emit(logging.EventRequestBlocked,
			"request blocked by net-connect policy", "engine", nil,
			logging.RequestBlockedData{
				Method: x.req.Method,
				Host:   x.req.Endpoint.Key(),
				Path:   x.req.Path,
				Policy: x.eng.netConnect.Mode().String(),
			})
	}
	x.eng.logger.Debug("request blocked", "exchange", x.id,
		"host", x.req.Endpoint.Key(), "path", x.req.Path, "error", err)
}

func (x *Exchange) emitMatched(exp *mock.Expectation, status int, filtered bool, remaining int) {
	if x.eng.emitter == nil {
		return
	}
	_ = x.eng.emitter.Emit(logging.EventRequestMatched,
		"request matched "+exp.String(), "engine", nil,
		logging.RequestMatchedData{
			Method:      x.req.Method,
			Host:        x.req.Endpoint.Key(),
			Path:        x.req.Path,
			Expectation: exp.String(),
			Status:      status,
			Filtered:    filtered,
			UsesLeft:    remaining,
			Persistent:  exp.Persistent,
		})
}

func (x *Exchange) setPhase(p int) {
	x.mu.Lock()
	x.phase = p
	x.mu.Unlock()
}

// ObserveResponseHeaders reports the live response head of a forwarded
// exchange back to the engine.
func (x *Exchange) ObserveResponseHeaders(status int, header http.Header) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.respStatus = status
	x.respHeader = header.Clone()
}

// ObserveResponseChunk reports one chunk of the live response body of a
// forwarded exchange.
func (x *Exchange) ObserveResponseChunk(p []byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.respBody.Write(p)
}

// ObserveResponseEnd marks the live response as complete. When the
// exchange was forwarded on behalf of a recording session, the captured
// request and response are handed to the recorder.
func (x *Exchange) ObserveResponseEnd() {
	x.mu.Lock()
	observe := x.observe
	rec := recorder.Exchange{
		Endpoint:   x.req.Endpoint.Key(),
		Method:     x.req.Method,
		Path:       x.req.Path,
		Status:     x.respStatus,
		ReqHeader:  x.req.Header.Clone(),
		RespHeader: x.respHeader.Clone(),
		ReqBody:    append([]byte(nil), x.body.Bytes()...),
		RespBody:   append([]byte(nil), x.respBody.Bytes()...),
	}
	x.phase = phaseClosed
	x.mu.Unlock()
	if observe {
		x.eng.rec.Observe(rec)
	}
}
