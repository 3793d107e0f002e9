// Package recorder captures live request/response exchanges and turns
// them into replayable definitions: structured records for cassettes, or
// replay-script text for pasting into test code. One recording session
// runs at a time; while it is active the engine forwards all traffic and
// feeds every completed exchange here.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/snarelabs/snare/pkg/logging"
)

// Options configures a recording session.
type Options struct {
	// OutputObjects selects structured records as the session's primary
	// output; otherwise echo and listings favor replay-script text.
	OutputObjects bool

	// Echo, when set, receives each capture immediately as it happens.
	Echo io.Writer

	// RedactJSONPaths names gjson paths deleted from structured request
	// and response bodies before they are stored.
	RedactJSONPaths []string

	// RecordRequestHeaders captures request headers into each record.
	// Off by default: transports inject headers of their own, and a
	// capture that pins them replays only through the same transport.
	RecordRequestHeaders bool

	// Logger for operational messages. Defaults to slog.Default().
	Logger *slog.Logger

	// Emitter receives session start/stop events and one
	// exchange_recorded event per capture.
	Emitter *logging.Emitter
}

// Exchange is the raw material of one completed live exchange, handed
// over by the engine after the real response finished.
type Exchange struct {
	Endpoint   string // canonical scheme://host:port key
	Method     string
	Path       string
	Status     int
	ReqHeader  http.Header
	RespHeader http.Header
	ReqBody    []byte
	RespBody   []byte
}

// Recorder accumulates captures for the current process. Safe for
// concurrent use.
type Recorder struct {
	mu      sync.Mutex
	active  bool
	opts    Options
	logger  *slog.Logger
	records []Record
	echoed  int
}

// New returns an idle recorder.
func New() *Recorder {
	return &Recorder{logger: slog.Default()}
}

// Start begins a recording session. Starting while a session is active
// fails with ErrDuplicateSession.
func (r *Recorder) Start(opts Options) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrDuplicateSession
	}
	r.active = true
	r.opts = opts
	r.logger = opts.Logger
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "recorder")
	r.logger.Debug("recording session started", "output_objects", opts.OutputObjects)
	r.mu.Unlock()

	if opts.Emitter != nil {
		_ = opts.Emitter.Emit(logging.EventSessionStarted,
			"recording session started", "recorder", nil,
			&logging.SessionData{Mode: "record"})
	}
	return nil
}

// Stop ends the session. Captured records stay available until Clear.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	captures := len(r.records)
	emitter := r.opts.Emitter
	r.logger.Debug("recording session stopped", "captures", captures)
	r.mu.Unlock()

	if emitter != nil {
		_ = emitter.Emit(logging.EventSessionStopped,
			"recording session stopped", "recorder", nil,
			&logging.SessionData{Mode: "record", Exchanges: captures})
	}
}

// Clear drops all captured records.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.echoed = 0
}

// Active reports whether a session is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Observe captures one completed exchange. Outside an active session it
// is a no-op.
func (r *Recorder) Observe(x Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}

	rec := buildRecord(x, r.opts)
	r.records = append(r.records, rec)
	r.echo(rec)
	r.emit(x, rec)
}

// Records returns a snapshot of the captures in arrival order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Scripts renders each capture as replay-script text, in arrival order.
func (r *Recorder) Scripts() []string {
	records := r.Records()
	scripts := make([]string, len(records))
	for i, rec := range records {
		scripts[i] = RenderScript(rec)
	}
	return scripts
}

// ScriptText joins all captures into one printable block, records
// separated by the Separator literal.
func (r *Recorder) ScriptText() string {
	return JoinScripts(r.Scripts())
}

func (r *Recorder) echo(rec Record) {
	if r.opts.Echo == nil {
		return
	}
	if r.echoed > 0 {
		fmt.Fprintln(r.opts.Echo, Separator)
	}
	r.echoed++

	if r.opts.OutputObjects {
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			r.logger.Warn("echo capture failed", "error", err)
			return
		}
		fmt.Fprintln(r.opts.Echo, string(b))
		return
	}
	fmt.Fprintln(r.opts.Echo, RenderScript(rec))
}

func (r *Recorder) emit(x Exchange, rec Record) {
	if r.opts.Emitter == nil {
		return
	}
	summary := strings.TrimSpace(fmt.Sprintf("recorded %s %s%s", rec.Method, rec.Scope, rec.Path))
	_ = r.opts.Emitter.Emit(logging.EventExchangeRecorded, summary, "recorder", nil, &logging.ExchangeRecordedData{
		Method:        rec.Method,
		Host:          rec.Scope,
		Path:          rec.Path,
		Status:        rec.Status,
		RequestBytes:  len(x.ReqBody),
		ResponseBytes: len(x.RespBody),
		BodyKind:      rec.BodyEncoding,
		ResponseKind:  rec.ResponseEncoding,
	})
}
