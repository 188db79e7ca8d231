package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a table query matches zero records.
	ErrNotFound = errors.New("record not found")

	// ErrCacheMiss is used internally when no usable cache entry exists.
	// It never reaches callers of the orchestrator.
	ErrCacheMiss = errors.New("cache miss")

	// ErrOffline is returned when a network dispatch is required but the
	// device has no connectivity or the call was forced offline.
	ErrOffline = errors.New("network unavailable")

	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("closed")

	// ErrNativeUnsupported is returned by row stores that cannot evaluate
	// store-native expressions. Callers fall back to in-memory predicates.
	ErrNativeUnsupported = errors.New("native expressions not supported by this store")

	// ErrInvalidConditions is returned when a condition set cannot be used
	// for the requested operation.
	ErrInvalidConditions = errors.New("invalid conditions")
)

// ServerError is a structured error payload returned by the remote server.
type ServerError struct {
	Exception string `json:"exception,omitempty"`
	ErrorCode string `json:"errorcode,omitempty"`
	Message   string `json:"message,omitempty"`
	DebugInfo string `json:"debuginfo,omitempty"`

	// Payload is the raw error object as received, kept so it can be
	// persisted to the cache and replayed unchanged.
	Payload json.RawMessage `json:"-"`
}

func (e *ServerError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.ErrorCode)
	}
	return e.Message
}

// Raw returns the JSON form of the error, suitable for caching.
func (e *ServerError) Raw() json.RawMessage {
	if len(e.Payload) > 0 {
		return e.Payload
	}
	data, err := json.Marshal(e)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// ParseServerError decodes data as a server error payload. It reports false
// when data is not an object carrying both an exception and an error code.
func ParseServerError(data []byte) (*ServerError, bool) {
	if len(data) == 0 || data[0] != '{' {
		return nil, false
	}
	var se ServerError
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, false
	}
	if se.Exception == "" || se.ErrorCode == "" {
		return nil, false
	}
	se.Payload = append(json.RawMessage(nil), data...)
	return &se, true
}

// TransportError wraps a failure that happened before any server payload
// was received: connectivity, timeouts, malformed envelopes.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
