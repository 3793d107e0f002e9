package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLWriterAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	w, err := NewJSONLWriter(path)
	require.NoError(t, err)

	events := []*Event{
		{Timestamp: time.Now().UTC(), SessionID: "s", EventType: EventSessionStarted, Summary: "one"},
		{Timestamp: time.Now().UTC(), SessionID: "s", EventType: EventSessionStopped, Summary: "two"},
	}
	for _, ev := range events {
		require.NoError(t, w.Write(ev))
	}
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	var lines int
	for scanner.Scan() {
		var got Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
		assert.Equal(t, events[lines].Summary, got.Summary)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	require.NoError(t, s.Write(&Event{SessionID: "s", EventType: EventRequestForwarded, Summary: "fwd"}))
	require.NoError(t, s.Close())

	var got Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, EventRequestForwarded, got.EventType)
}
