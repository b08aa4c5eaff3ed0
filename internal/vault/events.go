// internal/vault/events.go
package vault

import "time"

// EventKind names a vault event.
type EventKind string

const (
	KindDeposit      EventKind = "deposit"
	KindWithdraw     EventKind = "withdraw"
	KindPauseChanged EventKind = "pause_changed"
	KindAdminChanged EventKind = "admin_changed"
)

// Event is a completed vault transition.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
}

// EventMeta is shared by every vault event.
type EventMeta struct {
	Vault     Address   `json:"vault"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// Meta returns the event metadata.
func (m EventMeta) Meta() EventMeta {
	return m
}

// DepositEvent is emitted after a deposit commits.
type DepositEvent struct {
	EventMeta
	Depositor    Address `json:"depositor"`
	AssetAmount  uint64  `json:"asset_amount"`
	SharesMinted uint64  `json:"shares_minted"`
}

func (DepositEvent) Kind() EventKind { return KindDeposit }

// WithdrawEvent is emitted after a withdraw commits.
type WithdrawEvent struct {
	EventMeta
	Withdrawer   Address `json:"withdrawer"`
	SharesBurned uint64  `json:"shares_burned"`
	AssetAmount  uint64  `json:"asset_amount"`
}

func (WithdrawEvent) Kind() EventKind { return KindWithdraw }

// PauseChangedEvent is emitted whenever the admin sets the pause flag.
type PauseChangedEvent struct {
	EventMeta
	Admin  Address `json:"admin"`
	Paused bool    `json:"paused"`
}

func (PauseChangedEvent) Kind() EventKind { return KindPauseChanged }

// AdminChangedEvent is emitted when the admin role moves.
type AdminChangedEvent struct {
	EventMeta
	Previous Address `json:"previous"`
	Current  Address `json:"current"`
}

func (AdminChangedEvent) Kind() EventKind { return KindAdminChanged }
