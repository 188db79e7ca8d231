package core

import (
	"context"
	"encoding/json"
)

// Settings are the call-scoped transport options.
type Settings struct {
	// Lang is the locale the server formats strings in. In a composite
	// request it is sent once for all calls.
	Lang string

	// Filter asks the server to apply text filters to the response.
	Filter bool

	// FileURL asks the server to rewrite file URLs for token access.
	FileURL bool

	// CleanUnicode strips characters outside the Basic Multilingual Plane
	// from the arguments before sending.
	CleanUnicode bool

	// ResponseExpected is false for calls whose empty body is a success.
	ResponseExpected bool
}

// MultiCall is one entry of a composite request.
type MultiCall struct {
	Method  string
	Args    any
	Filter  bool
	FileURL bool
}

// Slot is one positional entry of a composite response.
type Slot struct {
	Error     bool   `json:"error"`
	Data      string `json:"data,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// Transport dispatches remote calls.
type Transport interface {
	// Call performs a single remote call.
	Call(ctx context.Context, method string, args any, settings Settings) (json.RawMessage, error)

	// CallMulti performs a composite call. The returned slots are matched
	// positionally to calls; the server may return fewer than requested.
	CallMulti(ctx context.Context, calls []MultiCall, settings Settings) ([]Slot, error)
}

// MultiCallMethod is the composite endpoint that executes several calls in
// one round-trip.
const MultiCallMethod = "tool_mobile_call_external_functions"
