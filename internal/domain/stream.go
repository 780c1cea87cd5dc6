package domain

import "encoding/json"

// StreamEventType is the closed set of relay stream event types.
type StreamEventType string

const (
	StreamEventDelta     StreamEventType = "delta"
	StreamEventCompleted StreamEventType = "completed"
	StreamEventLLMError  StreamEventType = "llm_error"
)

// StreamEvent is one decoded line of the relay's NDJSON stream.
// Completed and llm_error are terminal; a stream yields exactly one
// terminal event.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Delta   string          `json:"delta,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventCompleted || e.Type == StreamEventLLMError
}

// Error codes surfaced to the user. All are terminal for the affected
// turn; none are auto-retried.
const (
	ErrCodeMissingKey    = "missing_key"
	ErrCodeUnauthorized  = "401"
	ErrCodePayment       = "402"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeModelNotFound = "model_not_found"
	ErrCodeUpstream5xx   = "upstream_5xx"
	ErrCodeNetwork       = "network"
	ErrCodeAborted       = "aborted"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeStreamError   = "stream_error"
)

// RelayError is the normalized {code, message} shape the relay returns
// for failures before streaming starts.
type RelayError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

func (e RelayError) Error() string {
	return e.Code + ": " + e.Message
}
