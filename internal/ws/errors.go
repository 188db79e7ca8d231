package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
)

// ErrorKind is the class of a failed call.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransport
	KindServer
	KindSessionExpired
	KindAccountState
	KindPermissionDenied
	KindEncoding
	KindCacheMiss
	KindNotFound
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	case KindSessionExpired:
		return "session_expired"
	case KindAccountState:
		return "account_state"
	case KindPermissionDenied:
		return "permission_denied"
	case KindEncoding:
		return "encoding"
	case KindCacheMiss:
		return "cache_miss"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// TransportError is a failure before any server payload was received.
type TransportError = core.TransportError

// WSError is a server-side failure surfaced to the caller. It carries the
// structured payload the server sent.
type WSError struct {
	Err error
}

func (e *WSError) Error() string {
	return e.Err.Error()
}

func (e *WSError) Unwrap() error {
	return e.Err
}

// ServerError returns the structured payload, if any.
func (e *WSError) ServerError() (*core.ServerError, bool) {
	var se *core.ServerError
	ok := errors.As(e.Err, &se)
	return se, ok
}

// ErrorCode returns the server error code or "".
func (e *WSError) ErrorCode() string {
	if se, ok := e.ServerError(); ok {
		return se.ErrorCode
	}
	return ""
}

// Payload returns the raw error object as received.
func (e *WSError) Payload() json.RawMessage {
	if se, ok := e.ServerError(); ok {
		return se.Raw()
	}
	return nil
}

// SilentError is returned after a notification was published for the
// failure. Whoever handles the notification reports it to the user.
type SilentError struct {
	Kind  ErrorKind
	Event core.EventType
	Err   error
}

func (e *SilentError) Error() string {
	return e.Err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.Err
}

// EncodingError is returned when the server could not store the arguments
// even after characters outside the Basic Multilingual Plane were removed.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return "the server could not store the characters sent: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

const (
	codeInvalidToken    = "invalidtoken"
	codeDMLWrite        = "dmlwriteexception"
	exceptionCapability = "required_capability_exception"
)

// accountEvents maps account-state error codes to their notification.
var accountEvents = map[string]core.EventType{
	"userdeleted":               core.EventUserDeleted,
	"wsaccessusersuspended":     core.EventUserSuspended,
	"wsaccessusernologin":       core.EventUserNoLogin,
	"forcepasswordchangenotice": core.EventPasswordChangeForced,
	"usernotfullysetup":         core.EventUserNotFullySetup,
	"sitepolicynotagreed":       core.EventSitePolicyNotAgreed,
}

var permissionCodes = map[string]bool{
	"nopermission":  true,
	"nopermissions": true,
	"notingroup":    true,
}

func classifyServer(se *core.ServerError) ErrorKind {
	if se.ErrorCode == codeInvalidToken {
		return KindSessionExpired
	}
	if _, ok := accountEvents[se.ErrorCode]; ok {
		return KindAccountState
	}
	if permissionCodes[se.ErrorCode] || se.Exception == exceptionCapability {
		return KindPermissionDenied
	}
	return KindServer
}

// eventFor returns the notification published for a session or account
// failure.
func eventFor(se *core.ServerError) (core.EventType, bool) {
	if se.ErrorCode == codeInvalidToken {
		return core.EventSessionExpired, true
	}
	t, ok := accountEvents[se.ErrorCode]
	return t, ok
}

// Classify returns the kind of err.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var silent *SilentError
	if errors.As(err, &silent) {
		return silent.Kind
	}
	var enc *EncodingError
	if errors.As(err, &enc) {
		return KindEncoding
	}

	switch {
	case errors.Is(err, core.ErrCacheMiss):
		return KindCacheMiss
	case errors.Is(err, core.ErrNotFound):
		return KindNotFound
	case errors.Is(err, core.ErrOffline):
		return KindTransport
	}

	var se *core.ServerError
	if errors.As(err, &se) {
		return classifyServer(se)
	}
	var te *core.TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransport
	}
	return KindUnknown
}

// IsServerError reports whether err came from the server rather than from
// the network or the local cache.
func IsServerError(err error) bool {
	var se *core.ServerError
	return errors.As(err, &se)
}

func hasCode(err error, code string) bool {
	var se *core.ServerError
	return errors.As(err, &se) && se.ErrorCode == code
}
