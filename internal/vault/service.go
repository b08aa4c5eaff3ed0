// internal/vault/service.go
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DepositRequest describes a deposit into the vault.
type DepositRequest struct {
	Depositor    Address
	AssetAccount Address // depositor's asset token account
	ShareAccount Address // depositor's share token account
	Amount       uint64
}

// DepositResult reports a committed deposit.
type DepositResult struct {
	SharesMinted uint64
	Event        DepositEvent
}

// WithdrawRequest describes a withdraw from the vault.
type WithdrawRequest struct {
	Withdrawer   Address
	AssetAccount Address
	ShareAccount Address
	Shares       uint64
}

// WithdrawResult reports a committed withdraw.
type WithdrawResult struct {
	AssetReturned uint64
	Event         WithdrawEvent
}

// Service applies operations to one vault: access checks, share accounting,
// ledger movements, state commit and event emission, in that order.
//
// A Service is not safe for concurrent use. Registry serializes calls per vault.
type Service struct {
	state  *State
	ledger Ledger
	sink   EventSink
	policy ZeroMintPolicy
	now    Clock
	logger *zap.Logger

	pending *pendingBatch
}

// pendingBatch is a ledger batch whose outcome is unknown. The vault accepts
// no mutation until Resolve settles it.
type pendingBatch struct {
	op    string
	cause error
	next  *State
	event func(EventMeta) Event
}

// Option configures a Service.
type Option func(*Service)

// WithSink sets the event sink. Events are discarded by default.
func WithSink(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithPolicy sets the zero-mint policy. ZeroMintReject is the default.
func WithPolicy(p ZeroMintPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock sets the clock used for event timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.now = c
		}
	}
}

// NewService wraps state. The state is owned by the service afterwards.
func NewService(state *State, ledger Ledger, logger *zap.Logger, opts ...Option) (*Service, error) {
	if state == nil {
		return nil, errors.New("nil vault state")
	}
	if ledger == nil {
		return nil, errors.New("nil ledger")
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		state:  state,
		ledger: ledger,
		sink:   discardSink{},
		policy: ZeroMintReject,
		now:    time.Now,
		logger: logger.Named("vault").With(zap.String("asset_mint", state.AssetMint.String())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns a copy of the current vault state.
func (s *Service) State() State {
	return *s.state
}

// Deposit moves req.Amount into custody and mints the proportional shares.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	const op = "deposit"
	vaultID := s.state.ID()
	if err := s.blocked(op); err != nil {
		return DepositResult{}, err
	}

	if req.Amount == 0 {
		return DepositResult{}, opError(op, vaultID, ErrInvalidAmount)
	}
	if err := RequireUnpaused(s.state); err != nil {
		return DepositResult{}, opError(op, vaultID, err)
	}
	if req.Depositor.IsZero() || req.AssetAccount.IsZero() || req.ShareAccount.IsZero() {
		return DepositResult{}, opError(op, vaultID, fmt.Errorf("%w: incomplete depositor accounts", ErrInvalidIdentity))
	}

	shares, err := PreviewDeposit(s.state, req.Amount, s.policy)
	if err != nil {
		return DepositResult{}, opError(op, vaultID, err)
	}

	next := s.state.Clone()
	if err := next.applyDeposit(req.Amount, shares); err != nil {
		return DepositResult{}, opError(op, vaultID, err)
	}

	err = s.ledger.Atomic(ctx, func(tx LedgerTx) error {
		if err := tx.Transfer(req.AssetAccount, s.state.CustodyAccount, req.Amount); err != nil {
			return fmt.Errorf("transfer asset into custody: %w", err)
		}
		if shares == 0 {
			return nil
		}
		if err := tx.MintTo(s.state.ShareMint, req.ShareAccount, shares); err != nil {
			return fmt.Errorf("mint shares: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrOutcomeUnknown) {
		return DepositResult{}, s.suspend(op, err, next, func(m EventMeta) Event {
			return DepositEvent{EventMeta: m, Depositor: req.Depositor, AssetAmount: req.Amount, SharesMinted: shares}
		})
	}
	if err != nil {
		s.logger.Warn("Deposit rejected by ledger",
			zap.String("depositor", req.Depositor.String()),
			zap.Uint64("amount", req.Amount),
			zap.Error(err))
		return DepositResult{}, opError(op, vaultID, err)
	}

	next.Sequence++
	s.state = next

	event := DepositEvent{
		EventMeta:    s.meta(),
		Depositor:    req.Depositor,
		AssetAmount:  req.Amount,
		SharesMinted: shares,
	}
	s.emit(ctx, event)

	s.logger.Info("Deposit committed",
		zap.String("depositor", req.Depositor.String()),
		zap.Uint64("asset_amount", req.Amount),
		zap.Uint64("shares_minted", shares),
		zap.Uint64("total_asset", s.state.TotalAsset),
		zap.Uint64("total_shares", s.state.TotalShares))

	return DepositResult{SharesMinted: shares, Event: event}, nil
}

// Withdraw burns req.Shares and returns the proportional asset from custody.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawResult, error) {
	const op = "withdraw"
	vaultID := s.state.ID()
	if err := s.blocked(op); err != nil {
		return WithdrawResult{}, err
	}

	if req.Shares == 0 {
		return WithdrawResult{}, opError(op, vaultID, ErrInvalidAmount)
	}
	if err := RequireUnpaused(s.state); err != nil {
		return WithdrawResult{}, opError(op, vaultID, err)
	}
	if req.Withdrawer.IsZero() || req.AssetAccount.IsZero() || req.ShareAccount.IsZero() {
		return WithdrawResult{}, opError(op, vaultID, fmt.Errorf("%w: incomplete withdrawer accounts", ErrInvalidIdentity))
	}

	held, err := s.ledger.Balance(ctx, req.ShareAccount)
	if err != nil {
		return WithdrawResult{}, opError(op, vaultID, fmt.Errorf("share balance: %w", err))
	}
	if req.Shares > held {
		return WithdrawResult{}, opError(op, vaultID,
			fmt.Errorf("%w: %d requested, %d held", ErrInsufficientShares, req.Shares, held))
	}

	asset, err := PreviewWithdraw(s.state, req.Shares, s.policy)
	if err != nil {
		return WithdrawResult{}, opError(op, vaultID, err)
	}

	next := s.state.Clone()
	if err := next.applyWithdraw(asset, req.Shares); err != nil {
		return WithdrawResult{}, opError(op, vaultID, err)
	}
	if err := next.Validate(); err != nil {
		s.logger.Error("Withdraw would break vault invariants", zap.Error(err))
		return WithdrawResult{}, opError(op, vaultID, err)
	}

	err = s.ledger.Atomic(ctx, func(tx LedgerTx) error {
		if err := tx.Burn(s.state.ShareMint, req.ShareAccount, req.Shares); err != nil {
			return fmt.Errorf("burn shares: %w", err)
		}
		if asset == 0 {
			return nil
		}
		if err := tx.Transfer(s.state.CustodyAccount, req.AssetAccount, asset); err != nil {
			return fmt.Errorf("transfer asset out of custody: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrOutcomeUnknown) {
		return WithdrawResult{}, s.suspend(op, err, next, func(m EventMeta) Event {
			return WithdrawEvent{EventMeta: m, Withdrawer: req.Withdrawer, SharesBurned: req.Shares, AssetAmount: asset}
		})
	}
	if err != nil {
		s.logger.Warn("Withdraw rejected by ledger",
			zap.String("withdrawer", req.Withdrawer.String()),
			zap.Uint64("shares", req.Shares),
			zap.Error(err))
		return WithdrawResult{}, opError(op, vaultID, err)
	}

	next.Sequence++
	s.state = next

	event := WithdrawEvent{
		EventMeta:    s.meta(),
		Withdrawer:   req.Withdrawer,
		SharesBurned: req.Shares,
		AssetAmount:  asset,
	}
	s.emit(ctx, event)

	s.logger.Info("Withdraw committed",
		zap.String("withdrawer", req.Withdrawer.String()),
		zap.Uint64("shares_burned", req.Shares),
		zap.Uint64("asset_amount", asset),
		zap.Uint64("total_asset", s.state.TotalAsset),
		zap.Uint64("total_shares", s.state.TotalShares))

	return WithdrawResult{AssetReturned: asset, Event: event}, nil
}

// SetPause sets the pause flag. Only the admin may call it, paused or not.
func (s *Service) SetPause(ctx context.Context, caller Address, paused bool) error {
	if err := s.blocked("set_pause"); err != nil {
		return err
	}
	next := s.state.Clone()
	if err := SetPause(caller, next, paused); err != nil {
		return opError("set_pause", s.state.ID(), err)
	}
	next.Sequence++
	s.state = next

	s.emit(ctx, PauseChangedEvent{EventMeta: s.meta(), Admin: caller, Paused: paused})
	s.logger.Info("Pause flag set", zap.Bool("paused", paused))
	return nil
}

// SetAdmin hands the admin role to newAdmin.
func (s *Service) SetAdmin(ctx context.Context, caller, newAdmin Address) error {
	if err := s.blocked("set_admin"); err != nil {
		return err
	}
	next := s.state.Clone()
	if err := SetAdmin(caller, next, newAdmin); err != nil {
		return opError("set_admin", s.state.ID(), err)
	}
	next.Sequence++
	s.state = next

	s.emit(ctx, AdminChangedEvent{EventMeta: s.meta(), Previous: caller, Current: newAdmin})
	s.logger.Info("Admin changed",
		zap.String("previous", caller.String()),
		zap.String("current", newAdmin.String()))
	return nil
}

// Pending reports whether a ledger batch with an unknown outcome awaits Resolve.
func (s *Service) Pending() bool {
	return s.pending != nil
}

// Resolve settles the batch held after the ledger returned ErrOutcomeUnknown,
// once the caller has checked the chain. landed commits the held transition
// and emits its event; otherwise the transition is dropped. Without a pending
// batch it does nothing.
func (s *Service) Resolve(ctx context.Context, landed bool) error {
	p := s.pending
	if p == nil {
		return nil
	}
	s.pending = nil
	if !landed {
		s.logger.Warn("Unconfirmed batch dropped", zap.String("op", p.op))
		return nil
	}
	p.next.Sequence++
	s.state = p.next
	s.emit(ctx, p.event(s.meta()))
	s.logger.Info("Unconfirmed batch committed",
		zap.String("op", p.op),
		zap.Uint64("total_asset", s.state.TotalAsset),
		zap.Uint64("total_shares", s.state.TotalShares))
	return nil
}

func (s *Service) suspend(op string, cause error, next *State, event func(EventMeta) Event) error {
	s.pending = &pendingBatch{op: op, cause: cause, next: next, event: event}
	s.logger.Error("Ledger outcome unknown, vault suspended until resolved",
		zap.String("op", op),
		zap.Error(cause))
	return opError(op, s.state.ID(), fmt.Errorf("%w: %w", ErrInternalInconsistency, cause))
}

func (s *Service) blocked(op string) error {
	if s.pending == nil {
		return nil
	}
	return opError(op, s.state.ID(),
		fmt.Errorf("%w: unresolved %s batch: %v", ErrInternalInconsistency, s.pending.op, s.pending.cause))
}

func (s *Service) meta() EventMeta {
	return EventMeta{
		Vault:     s.state.ID(),
		Sequence:  s.state.Sequence,
		Timestamp: s.now().UTC(),
	}
}

// emit delivers a committed event. The transition is final at this point, so a
// sink failure is logged and not returned.
func (s *Service) emit(ctx context.Context, event Event) {
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.Error("Event delivery failed",
			zap.String("kind", string(event.Kind())),
			zap.Uint64("sequence", event.Meta().Sequence),
			zap.Error(err))
	}
}
