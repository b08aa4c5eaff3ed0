// Package app wires configuration, storage, ledgers and the vault registry
// into runnable scenarios.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-vault/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-vault/internal/config"
	"github.com/rovshanmuradov/solana-vault/internal/events"
	"github.com/rovshanmuradov/solana-vault/internal/ledger/memory"
	"github.com/rovshanmuradov/solana-vault/internal/ledger/spl"
	"github.com/rovshanmuradov/solana-vault/internal/logger"
	"github.com/rovshanmuradov/solana-vault/internal/storage"
	memstore "github.com/rovshanmuradov/solana-vault/internal/storage/memory"
	"github.com/rovshanmuradov/solana-vault/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-vault/internal/storage/sqlite"
	"github.com/rovshanmuradov/solana-vault/internal/types"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
	"github.com/rovshanmuradov/solana-vault/internal/wallet"
)

// ErrExpectationMismatch is returned by Run when a step outcome differs from
// its expectation. The report lists the offending steps.
var ErrExpectationMismatch = errors.New("scenario expectations not met")

const busDrainTimeout = 5 * time.Second

// Runner owns every long-lived component of one process.
type Runner struct {
	cfg    *config.Config
	log    *logger.Logger
	logger *zap.Logger

	bus      *events.Bus
	store    storage.Storage
	ledger   vault.Ledger
	book     accountBook
	registry *vault.Registry
	shutdown *ShutdownHandler
	clock    vault.Clock
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock fixes the clock used for event timestamps.
func WithClock(c vault.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// NewRunner builds the component graph described by cfg. On error every
// component opened so far is closed again.
func NewRunner(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (r *Runner, err error) {
	r = &Runner{
		cfg:      cfg,
		log:      log,
		logger:   log.Named("runner"),
		shutdown: NewShutdownHandler(log.Logger, 0),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	defer func() {
		if err != nil {
			_ = r.shutdown.Shutdown(context.Background())
		}
	}()

	if r.store, err = OpenStore(cfg, log.Logger); err != nil {
		return nil, err
	}
	r.shutdown.Add("store", r.store)

	if err = r.openLedger(); err != nil {
		return nil, err
	}

	r.bus = events.NewBus(log.Logger, cfg.EventBuffer)
	sinks := events.MultiSink{events.NewBusSink(r.bus), storage.Sink{Store: r.store}}
	if cfg.JournalPath != "" {
		journal, err := events.OpenJournal(cfg.JournalPath, log.Logger)
		if err != nil {
			return nil, err
		}
		r.shutdown.Add("journal", journal)
		sinks = append(sinks, journal)
	}
	r.shutdown.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), busDrainTimeout)
		defer cancel()
		return r.bus.Shutdown(ctx)
	})
	r.bus.SubscribeFunc(events.OperationFailed, r.logFailure)

	r.registry = vault.NewRegistry(r.ledger, r.store, log.Logger,
		vault.WithSink(sinks),
		vault.WithPolicy(cfg.Policy()),
		vault.WithClock(r.clock))
	// Runs before the store closes.
	r.shutdown.AddFunc("registry", func() error {
		return r.registry.Flush(context.Background())
	})

	// Memory ledgers start empty, so restored totals would not match custody.
	if cfg.Ledger == config.LedgerSolana {
		n, err := r.registry.Restore(ctx)
		if err != nil {
			return nil, err
		}
		r.logger.Info("Registry restored", zap.Int("vaults", n))
	}
	return r, nil
}

// OpenStore opens the configured event store: postgres when postgres_url is
// set, then sqlite, then an in-memory store.
func OpenStore(cfg *config.Config, log *zap.Logger) (storage.Storage, error) {
	switch {
	case cfg.PostgresURL != "":
		s, err := postgres.NewStorage(cfg.PostgresURL, log)
		if err != nil {
			return nil, err
		}
		if err := s.RunMigrations(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case cfg.SQLitePath != "":
		return sqlite.Open(cfg.SQLitePath, log)
	default:
		return memstore.New(), nil
	}
}

func (r *Runner) openLedger() error {
	if r.cfg.Ledger != config.LedgerSolana {
		l := memory.New()
		r.ledger, r.book = l, memoryBook{ledger: l}
		return nil
	}

	client, err := solbc.NewClient(r.cfg.RPCList, r.cfg.ConfirmTimeout(), r.log.Logger)
	if err != nil {
		return err
	}
	keys, err := wallet.LoadKeyring(r.cfg.WalletsPath)
	if err != nil {
		return err
	}
	payer, err := keys.Get(r.cfg.Payer)
	if err != nil {
		return fmt.Errorf("payer: %w", err)
	}
	priority, err := types.ParsePriorityLevel(r.cfg.Priority)
	if err != nil {
		return err
	}
	l, err := spl.New(client, keys, payer.PublicKey, spl.Options{
		Retries:  uint(r.cfg.Retries),
		Priority: priority,
	}, r.log.Logger)
	if err != nil {
		return err
	}
	r.ledger, r.book = l, newSPLBook(l, keys, payer)
	return nil
}

// Bus returns the event bus, for subscribers.
func (r *Runner) Bus() *events.Bus { return r.bus }

// Registry returns the vault registry.
func (r *Runner) Registry() *vault.Registry { return r.registry }

// Store returns the configured storage.
func (r *Runner) Store() storage.Storage { return r.store }

// Close drains the bus and closes the journal and store.
func (r *Runner) Close(ctx context.Context) error {
	return r.shutdown.Shutdown(ctx)
}

func (r *Runner) logFailure(_ context.Context, e events.Event) error {
	ev, ok := e.(events.OperationFailedEvent)
	if !ok {
		return nil
	}
	r.logger.Debug("Operation rejected",
		zap.String("run_id", ev.RunID),
		zap.String("asset_mint", ev.Vault.String()),
		zap.String("operation", ev.Operation),
		zap.String("kind", ev.Kind),
		zap.Error(ev.Error))
	return nil
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Vault  vault.Address
	Step   int // 1-based within the vault
	Op     string
	Actor  string
	Expect string
	Kind   string // vault.ErrorKind of Err, "" on success
	Detail string
	Err    error
}

// Matched reports whether the outcome is the expected one.
func (s StepResult) Matched() bool {
	return s.Kind == s.Expect
}

// Report summarises a run.
type Report struct {
	RunID    string
	Name     string
	Steps    []StepResult
	Vaults   []vault.State
	Applied  int
	Rejected int
	Duration time.Duration
}

// Mismatches returns the steps whose outcome differed from the expectation.
func (rep *Report) Mismatches() []StepResult {
	var out []StepResult
	for _, s := range rep.Steps {
		if !s.Matched() {
			out = append(out, s)
		}
	}
	return out
}

// Run executes sc. Vaults run concurrently, at most cfg.Workers at a time;
// steps of one vault run in order. Operation failures are recorded in the
// report; only infrastructure errors abort a vault.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	end := r.log.TrackPerformance("scenario")
	defer end()

	rep := &Report{RunID: uuid.New().String(), Name: sc.Name}
	start := time.Now()
	decimals := sc.decimals(r.cfg.Decimals)

	steps := 0
	for _, v := range sc.Vaults {
		steps += len(v.Steps)
	}
	if err := r.bus.PublishSync(ctx, events.RunStartedEvent{
		BaseEvent: events.BaseEvent{EventType: events.RunStarted, EventTime: r.clock()},
		RunID:     rep.RunID,
		Name:      sc.Name,
		Vaults:    len(sc.Vaults),
		Steps:     steps,
	}); err != nil {
		r.logger.Warn("Run start handler failed", zap.Error(err))
	}
	r.logger.Info("Scenario started",
		zap.String("run_id", rep.RunID),
		zap.String("name", sc.Name),
		zap.Int("vaults", len(sc.Vaults)),
		zap.Int("steps", steps))

	lanes := make([][]StepResult, len(sc.Vaults))
	g, gctx := errgroup.WithContext(ctx)
	if r.cfg.Workers > 0 {
		g.SetLimit(r.cfg.Workers)
	}
	for i, plan := range sc.Vaults {
		g.Go(func() error {
			res, err := r.runVault(gctx, rep.RunID, plan, decimals)
			lanes[i] = res
			if err != nil {
				return fmt.Errorf("vault %s: %w", plan.Asset, err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	for _, lane := range lanes {
		for _, s := range lane {
			rep.Steps = append(rep.Steps, s)
			if s.Err != nil {
				rep.Rejected++
			} else {
				rep.Applied++
			}
		}
	}
	rep.Vaults = r.registry.List()
	rep.Duration = time.Since(start)

	if err := r.bus.PublishSync(ctx, events.RunCompletedEvent{
		BaseEvent: events.BaseEvent{EventType: events.RunCompleted, EventTime: r.clock()},
		RunID:     rep.RunID,
		Name:      sc.Name,
		Applied:   rep.Applied,
		Rejected:  rep.Rejected,
		Duration:  rep.Duration,
	}); err != nil {
		r.logger.Warn("Run completion handler failed", zap.Error(err))
	}
	r.logger.Info("Scenario finished",
		zap.String("run_id", rep.RunID),
		zap.Int("applied", rep.Applied),
		zap.Int("rejected", rep.Rejected),
		zap.Duration("duration", rep.Duration))

	if runErr != nil {
		return rep, runErr
	}
	if bad := rep.Mismatches(); len(bad) > 0 {
		return rep, fmt.Errorf("%w: %d step(s)", ErrExpectationMismatch, len(bad))
	}
	return rep, nil
}

func (r *Runner) runVault(ctx context.Context, runID string, plan VaultPlan, decimals int) ([]StepResult, error) {
	asset := vault.Address(plan.Asset)
	share := vault.Address(plan.ShareMint())
	log := r.log.WithVault(plan.Asset)

	if err := r.ensureVault(ctx, plan, asset, share); err != nil {
		return nil, err
	}

	users := make([]string, 0, len(plan.Funding))
	for u := range plan.Funding {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		amount, err := types.ParseUnits(plan.Funding[u], decimals)
		if err != nil {
			return nil, fmt.Errorf("funding %s: %w", u, err)
		}
		if err := r.book.Fund(ctx, u, asset, amount); err != nil {
			return nil, fmt.Errorf("funding %s: %w", u, err)
		}
	}

	results := make([]StepResult, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.apply(ctx, asset, share, step, decimals)
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		res.Vault, res.Step = asset, i+1
		results = append(results, res)

		if res.Err != nil {
			r.publishFailure(runID, asset, step, res)
		}
		if !res.Matched() {
			log.Warn("Step outcome differs from expectation",
				zap.Int("step", res.Step),
				zap.String("op", step.Op),
				zap.String("expected", step.Expect),
				zap.String("got", res.Kind),
				zap.Error(res.Err))
		}
	}
	return results, nil
}

func (r *Runner) ensureVault(ctx context.Context, plan VaultPlan, asset, share vault.Address) error {
	if _, err := r.registry.State(asset); err == nil {
		return nil
	} else if !errors.Is(err, vault.ErrVaultNotFound) {
		return err
	}

	admin, err := r.book.User(plan.Admin)
	if err != nil {
		return err
	}
	custody, err := r.book.Custody(ctx, asset)
	if err != nil {
		return err
	}
	_, err = r.registry.Create(ctx, vault.InitParams{
		Admin:          admin,
		AssetMint:      asset,
		ShareMint:      share,
		CustodyAccount: custody,
	})
	return err
}

// apply runs one step. The returned error is reserved for failures outside
// the vault (account resolution, malformed amounts); vault rejections are
// reported in StepResult.Err.
func (r *Runner) apply(ctx context.Context, asset, share vault.Address, step Step, decimals int) (StepResult, error) {
	res := StepResult{Op: step.Op, Actor: step.Actor, Expect: step.Expect}

	actor, err := r.book.User(step.Actor)
	if err != nil {
		return res, err
	}

	var opErr error
	switch step.Op {
	case OpDeposit, OpWithdraw:
		amount, err := types.ParseUnits(step.Amount, decimals)
		if err != nil {
			return res, err
		}
		assetAcc, err := r.book.TokenAccount(ctx, step.Actor, asset)
		if err != nil {
			return res, err
		}
		shareAcc, err := r.book.TokenAccount(ctx, step.Actor, share)
		if err != nil {
			return res, err
		}
		if step.Op == OpDeposit {
			out, err := r.registry.Deposit(ctx, asset, vault.DepositRequest{
				Depositor:    actor,
				AssetAccount: assetAcc,
				ShareAccount: shareAcc,
				Amount:       amount,
			})
			opErr = err
			res.Detail = "minted " + types.FormatUnits(out.SharesMinted, decimals)
		} else {
			out, err := r.registry.Withdraw(ctx, asset, vault.WithdrawRequest{
				Withdrawer:   actor,
				AssetAccount: assetAcc,
				ShareAccount: shareAcc,
				Shares:       amount,
			})
			opErr = err
			res.Detail = "returned " + types.FormatUnits(out.AssetReturned, decimals)
		}
	case OpPause, OpUnpause:
		opErr = r.registry.SetPause(ctx, asset, actor, step.Op == OpPause)
	case OpSetAdmin:
		next, err := r.book.User(step.NewAdmin)
		if err != nil {
			return res, err
		}
		opErr = r.registry.SetAdmin(ctx, asset, actor, next)
	default:
		return res, fmt.Errorf("unknown op %q", step.Op)
	}

	switch {
	case errors.Is(opErr, vault.ErrPersistFailed):
		// Committed on the ledger; the snapshot is retried on the next operation.
		r.logger.Warn("Step applied but vault snapshot not saved",
			zap.String("op", step.Op),
			zap.Error(opErr))
	case opErr != nil:
		res.Err, res.Kind, res.Detail = opErr, vault.ErrorKind(opErr), ""
	}
	return res, nil
}

func (r *Runner) publishFailure(runID string, asset vault.Address, step Step, res StepResult) {
	err := r.bus.Publish(events.OperationFailedEvent{
		BaseEvent: events.BaseEvent{EventType: events.OperationFailed, EventTime: r.clock()},
		RunID:     runID,
		Vault:     asset,
		Operation: step.Op,
		Actor:     vault.Address(step.Actor),
		Kind:      res.Kind,
		Error:     res.Err,
	})
	if err != nil {
		r.logger.Debug("Failure event not published", zap.Error(err))
	}
}
