package logging

import (
	"encoding/json"
	"time"

	"github.com/snarelabs/snare/internal/errx"
)

// EmitterConfig holds static metadata stamped onto every event.
type EmitterConfig struct {
	// SessionID identifies the run that produced the events.
	SessionID string
}

// Emitter stamps metadata onto typed events and dispatches them to one
// or more sinks. A nil *Emitter is safe to hold; callers guard emission
// with:
//
//	if emitter != nil {
//	    _ = emitter.Emit(...)
//	}
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
}

// NewEmitter creates an emitter with the given configuration and sinks.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	return &Emitter{
		config: cfg,
		sinks:  sinks,
	}
}

// Emit constructs an event with the emitter's static metadata and writes
// it to all registered sinks.
//
// Parameters:
//   - eventType: one of the Event* constants
//   - summary: human-readable one-line summary
//   - component: the emitting component (empty string is fine)
//   - tags: optional tags for filtering (nil is fine)
//   - data: the typed data struct (e.g. *RequestMatchedData); nil for
//     no payload
//
// Returns the first error encountered. Emission is best-effort; callers
// usually discard the error with _ =.
func (e *Emitter) Emit(eventType, summary, component string, tags []string, data interface{}) error {
	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp: time.Now().UTC(),
		SessionID: e.config.SessionID,
		EventType: eventType,
		Summary:   summary,
		Component: component,
		Tags:      tags,
		Data:      rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks. Returns the first error encountered.
func (e *Emitter) Close() error {
	var firstErr error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
