// Package intercept is the interception engine: it receives outbound
// requests from a transport adapter, matches them against registered
// expectations, and either simulates the declared reply, forwards the
// request to the real network, or fails it per net-connect policy. A
// recording session flips the engine into observe mode, where all
// traffic forwards and completed exchanges are captured for replay.
package intercept

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/snarelabs/snare/pkg/api"
	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/logging"
	"github.com/snarelabs/snare/pkg/match"
	"github.com/snarelabs/snare/pkg/mock"
	"github.com/snarelabs/snare/pkg/policy"
	"github.com/snarelabs/snare/pkg/recorder"
)

// Config configures an Engine. The zero value is usable: default
// logger, no event emitter, interception enabled.
type Config struct {
	// Logger for operational messages. Defaults to slog.Default().
	Logger *slog.Logger
	// Emitter receives structured engine events. Optional.
	Emitter *logging.Emitter
	// Disabled makes the engine transparent: every request forwards
	// without matching. The SNARE_OFF environment variable forces the
	// same behavior regardless of this field.
	Disabled bool
}

// Engine owns the expectation registry, the net-connect policy and the
// traffic recorder for one interception context. Tests construct
// independent engines instead of sharing process state.
type Engine struct {
	id         string
	logger     *slog.Logger
	emitter    *logging.Emitter
	registry   *mock.Registry
	netConnect *policy.NetConnect
	rec        *recorder.Recorder
	disabled   bool
	closed     atomic.Bool
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := "snare-" + shortID()
	return &Engine{
		id:         id,
		logger:     logger.With("component", "engine", "engine", id),
		emitter:    cfg.Emitter,
		registry:   mock.NewRegistry(),
		netConnect: policy.NewNetConnect(),
		rec:        recorder.New(),
		disabled:   cfg.Disabled,
	}
}

// ID returns the engine's identifier, stamped on logs.
func (e *Engine) ID() string { return e.id }

func shortID() string {
	return uuid.New().String()[:8]
}

// Register adds an expectation to the registry. Most callers use the
// Scope builder instead.
func (e *Engine) Register(exp *mock.Expectation) {
	e.registry.Add(exp)
	e.logger.Debug("expectation registered", "expectation", exp.String(),
		"uses", exp.RemainingUses, "persistent", exp.Persistent)
}

// RemoveAll clears every registered expectation.
func (e *Engine) RemoveAll() {
	e.registry.RemoveAll()
}

// Reset restores the engine to its initial state between test cases:
// registry emptied, net-connect policy back to allow-all, any recording
// session stopped and its captures dropped.
func (e *Engine) Reset() {
	e.registry.RemoveAll()
	e.netConnect.Enable()
	e.rec.Stop()
	e.rec.Clear()
	e.logger.Debug("engine reset")
}

// Close stops the engine. Requests started afterwards fail with
// api.ErrEngineClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.rec.Stop()
	e.logger.Debug("engine closed")
	return nil
}

// Disabled reports whether the kill switch is on, either through Config
// or the SNARE_OFF environment variable. The variable is read per call,
// so flipping it mid-process takes effect immediately.
func (e *Engine) Disabled() bool {
	return e.disabled || os.Getenv(api.EnvDisable) != ""
}

// EnableNetConnect allows all unmatched requests to reach the network.
func (e *Engine) EnableNetConnect() {
	e.netConnect.Enable()
}

// EnableNetConnectMatching allows unmatched requests whose canonical
// hostname:port satisfies the matcher.
func (e *Engine) EnableNetConnectMatching(m match.Matcher) {
	e.netConnect.EnableMatching(m)
}

// EnableNetConnectHosts allows unmatched requests to the named hosts
// only, compared by hostname.
func (e *Engine) EnableNetConnectHosts(hosts ...string) {
	e.netConnect.EnableHosts(hosts...)
}

// DisableNetConnect blocks all unmatched requests.
func (e *Engine) DisableNetConnect() {
	e.netConnect.Disable()
}

// Pending lists expectations that have not served a single exchange.
func (e *Engine) Pending() []string {
	return e.registry.Pending()
}

// Done reports whether every expectation served at least one exchange.
func (e *Engine) Done() bool {
	return e.registry.Done()
}

// StartRecording begins a traffic-capture session. While it is active
// the engine performs no matching; every request forwards and completed
// exchanges are captured. Fails with recorder.ErrDuplicateSession if a
// session is already running.
func (e *Engine) StartRecording(opts recorder.Options) error {
	if opts.Logger == nil {
		opts.Logger = e.logger
	}
	if opts.Emitter == nil {
		opts.Emitter = e.emitter
	}
	return e.rec.Start(opts)
}

// StopRecording ends the capture session, keeping the captures.
func (e *Engine) StopRecording() {
	e.rec.Stop()
}

// Recorder exposes the engine's recorder for listing captures.
func (e *Engine) Recorder() *recorder.Recorder {
	return e.rec
}

// StartRequest is the transport adapter entry point. It normalizes the
// request, makes whatever decision is possible before body bytes arrive
// (forward when disabled or recording, forward or block when nothing
// matches the request head), and returns the Exchange the adapter
// drives with WriteChunk and End.
func (e *Engine) StartRequest(ctx context.Context, start api.RequestStart, transport api.ExchangeTransport) (*Exchange, error) {
	if e.closed.Load() {
		return nil, api.ErrEngineClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ep := endpoint.Normalize(endpoint.Endpoint{
		Scheme: start.Scheme,
		Host:   start.Host,
		Port:   start.Port,
	})
	req := &mock.Request{
		Endpoint: ep,
		Method:   start.Method,
		Path:     start.Path,
		Header:   start.Header.Clone(),
	}
	x := newExchange(e, ctx, req, transport)

	switch {
	case e.Disabled():
		x.forward(reasonEngineDisabled, false)
	case e.rec.Active():
		x.forward(reasonRecording, true)
	default:
		candidates, _ := e.registry.Lookup(ep)
		if len(mock.EvaluateHead(req, candidates)) == 0 {
			x.decideUnmatched()
		}
	}
	return x, nil
}
