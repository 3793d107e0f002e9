package logging

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records events in memory for test assertions.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
	closed bool
}

func (s *captureSink) Write(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Deep copy the event to avoid test races
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type failingSink struct{ err error }

func (s *failingSink) Write(*Event) error { return s.err }
func (s *failingSink) Close() error       { return s.err }

func TestEmitterMetadataStamping(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{SessionID: "ex-1234"}, sink)

	err := emitter.Emit(EventRequestMatched, "matched GET /items", "engine", nil, nil)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "ex-1234", event.SessionID)
	assert.Equal(t, EventRequestMatched, event.EventType)
	assert.Equal(t, "matched GET /items", event.Summary)
	assert.Equal(t, "engine", event.Component)
	assert.True(t, event.Timestamp.UTC().Equal(event.Timestamp), "timestamp should be UTC")
}

func TestEmitterDataMarshaling(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{SessionID: "s"}, sink)

	data := &RequestBlockedData{
		Method: "GET",
		Host:   "evil.test:443",
		Path:   "/payload",
		Policy: "deny-all",
	}
	err := emitter.Emit(EventRequestBlocked, "blocked", "engine", nil, data)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	require.NotNil(t, sink.events[0].Data)

	var got RequestBlockedData
	require.NoError(t, json.Unmarshal(sink.events[0].Data, &got))
	assert.Equal(t, *data, got)
}

func TestEmitterFanOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	emitter := NewEmitter(EmitterConfig{SessionID: "s"}, a, b)

	require.NoError(t, emitter.Emit(EventSessionStarted, "start", "", nil, nil))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)

	require.NoError(t, emitter.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestEmitterSinkErrorPropagates(t *testing.T) {
	boom := errors.New("sink down")
	emitter := NewEmitter(EmitterConfig{SessionID: "s"}, &failingSink{err: boom})

	err := emitter.Emit(EventSessionStarted, "start", "", nil, nil)
	assert.True(t, errors.Is(err, boom))
}
