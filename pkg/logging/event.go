package logging

import (
	"encoding/json"
	"time"
)

// Event is the structured record written for every notable engine
// decision. Required fields: Timestamp, SessionID, EventType, Summary.
// Optional fields use omitempty tags.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	Component string          `json:"component,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventRequestMatched     = "request_matched"
	EventRequestPassThrough = "request_passthrough"
	EventRequestForwarded   = "request_forwarded"
	EventRequestBlocked     = "request_blocked"
	EventExchangeRecorded   = "exchange_recorded"
	EventSessionStarted     = "session_started"
	EventSessionStopped     = "session_stopped"
)

// RequestMatchedData is the data payload for request_matched events.
type RequestMatchedData struct {
	Method      string `json:"method"`
	Host        string `json:"host"`
	Path        string `json:"path"`
	Expectation string `json:"expectation"`
	Status      int    `json:"status"`
	Filtered    bool   `json:"filtered,omitempty"`
	UsesLeft    int    `json:"uses_left"`
	Persistent  bool   `json:"persistent,omitempty"`
}

// RequestForwardedData is the data payload for request_forwarded and
// request_passthrough events. Reason is one of "net_connect_allowed",
// "unmocked_fallback", "engine_disabled", "recording".
type RequestForwardedData struct {
	Method string `json:"method"`
	Host   string `json:"host"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RequestBlockedData is the data payload for request_blocked events.
type RequestBlockedData struct {
	Method string `json:"method"`
	Host   string `json:"host"`
	Path   string `json:"path"`
	Policy string `json:"policy"`
}

// ExchangeRecordedData is the data payload for exchange_recorded events.
type ExchangeRecordedData struct {
	Method        string `json:"method"`
	Host          string `json:"host"`
	Path          string `json:"path"`
	Status        int    `json:"status"`
	RequestBytes  int    `json:"request_bytes"`
	ResponseBytes int    `json:"response_bytes"`
	BodyKind      string `json:"body_kind,omitempty"`
	ResponseKind  string `json:"response_kind,omitempty"`
}

// SessionData is the data payload for session_started and
// session_stopped events.
type SessionData struct {
	Mode      string `json:"mode"`
	Addr      string `json:"addr,omitempty"`
	Exchanges int    `json:"exchanges,omitempty"`
}
