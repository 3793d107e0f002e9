package logging

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/snarelabs/snare/internal/errx"
)

// Sink consumes structured events.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write persists or forwards a single event.
	// Implementations should not modify the event.
	Write(event *Event) error

	// Close flushes any buffered data and releases resources.
	Close() error
}

// WriterSink streams events as JSON lines to an io.Writer it does not
// own; Close never touches the writer. Safe for concurrent use.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink wraps w in a Sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

// Write serializes the event as one JSON line.
func (s *WriterSink) Write(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// Close is a no-op; the caller owns the underlying writer.
func (s *WriterSink) Close() error {
	return nil
}
