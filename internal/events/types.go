// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// EventType represents the type of event.
type EventType string

const (
	// Vault transitions
	VaultDeposited    EventType = "vault.deposit"
	VaultWithdrawn    EventType = "vault.withdraw"
	VaultPauseChanged EventType = "vault.pause_changed"
	VaultAdminChanged EventType = "vault.admin_changed"

	// Operation outcomes
	OperationFailed EventType = "operation.failed"

	// Run lifecycle
	RunStarted   EventType = "run.started"
	RunCompleted EventType = "run.completed"
)

// TypeOf maps a vault event kind to its bus topic.
func TypeOf(kind vault.EventKind) EventType {
	return EventType("vault." + string(kind))
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// VaultEvent carries a committed vault transition on the bus.
type VaultEvent struct {
	BaseEvent
	Payload vault.Event
}

// NewVaultEvent wraps e with its topic and timestamp.
func NewVaultEvent(e vault.Event) VaultEvent {
	return VaultEvent{
		BaseEvent: BaseEvent{EventType: TypeOf(e.Kind()), EventTime: e.Meta().Timestamp},
		Payload:   e,
	}
}

// OperationFailedEvent is published when a vault operation is rejected.
type OperationFailedEvent struct {
	BaseEvent
	RunID     string
	Vault     vault.Address
	Operation string
	Actor     vault.Address
	Kind      string // vault.ErrorKind of Error
	Error     error
}

// RunStartedEvent is published when a scenario run begins.
type RunStartedEvent struct {
	BaseEvent
	RunID  string
	Name   string
	Vaults int
	Steps  int
}

// RunCompletedEvent is published when a scenario run ends.
type RunCompletedEvent struct {
	BaseEvent
	RunID    string
	Name     string
	Applied  int
	Rejected int
	Duration time.Duration
}
