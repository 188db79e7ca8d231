package core

import (
	"context"
	"time"
)

// EventType identifies a notification emitted by the orchestrator.
type EventType string

const (
	// EventSessionExpired is emitted when the server rejects the token.
	EventSessionExpired EventType = "session_expired"

	// EventUserDeleted is emitted when the account was deleted.
	EventUserDeleted EventType = "user_deleted"

	// EventUserSuspended is emitted when the account is suspended.
	EventUserSuspended EventType = "user_suspended"

	// EventUserNoLogin is emitted when the account cannot log in.
	EventUserNoLogin EventType = "user_no_login"

	// EventPasswordChangeForced is emitted when the user must change password.
	EventPasswordChangeForced EventType = "password_change_forced"

	// EventUserNotFullySetup is emitted when the profile is incomplete.
	EventUserNotFullySetup EventType = "user_not_fully_setup"

	// EventSitePolicyNotAgreed is emitted when the site policy is pending.
	EventSitePolicyNotAgreed EventType = "site_policy_not_agreed"
)

// Event is a notification delivered to subscribers through an EventQueue.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SiteID    string    `json:"site_id"`
	Method    string    `json:"method,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventQueue buffers events between the orchestrator and the dispatcher.
type EventQueue interface {
	// Enqueue adds an event to the queue.
	Enqueue(ctx context.Context, event *Event) error

	// Dequeue retrieves up to batchSize events in FIFO order.
	// Returns an empty slice if no events are available.
	Dequeue(ctx context.Context, batchSize int) ([]*Event, error)

	// Size returns the approximate number of queued events.
	Size() int

	// Close closes the queue and releases resources.
	Close() error
}
