package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AllAccounts is the quarantine key used when a failure cannot be attributed
// to specific accounts.
const AllAccounts = "*"

// Engine applies monetary operations to the accounts of a Store.
//
// Operations are serialized. They all return an error instead of retrying or
// asking for new input, use IsRecoverable to decide whether to ask again.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	store  *Store
	parser *AmountParser
	audit  Auditor
	log    *zap.Logger
	now    func() time.Time

	pending    string           // folder of pending transfer markers.
	quarantine map[string]error // accounts refused for mutation, with the cause.
	recovered  []Recovery       // outcome of the recovery run by Open.
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger, the default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithAuditor replaces the default AuditLog.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.audit = a }
}

// WithClock sets the function used to timestamp audit records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Open opens the ledger stored under cfg.Root, creating it if needed.
//
// Pending transfers left by a crashed process are resolved before Open
// returns. Transfers that cannot be resolved are logged and their accounts are
// quarantined, they do not prevent Open from succeeding.
func Open(cfg Config, opts ...Option) (*Engine, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		parser:     NewAmountParser(cfg),
		log:        zap.NewNop(),
		now:        time.Now,
		pending:    filepath.Join(cfg.Root, pendingFolder),
		quarantine: make(map[string]error),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.audit == nil {
		e.audit = NewAuditLog(cfg)
	}
	if e.store, err = NewStore(cfg, e.log.Named("store")); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.pending, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create %q: %w", ErrStorageIO, e.pending, err)
	}

	recoveries, err := e.Recover()
	e.recovered = recoveries
	for _, r := range recoveries {
		if r.Err != nil {
			e.log.Error("unresolved pending transfer", zap.String("marker", r.Marker.ID), zap.Error(r.Err))
		}
	}
	if err != nil && !errors.Is(err, ErrInconsistentTransferRecovery) {
		return nil, err
	}
	return e, nil
}

// Recovered returns the outcome of the recovery of pending transfers run by
// Open.
func (e *Engine) Recovered() []Recovery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.recovered)
}

// Config returns the configuration in use.
func (e *Engine) Config() Config { return e.cfg }

// Display formats an amount in the ledger currency.
func (e *Engine) Display(a Amount) string { return e.parser.Display(a) }

// CreateAccount creates the account id with a zero balance.
func (e *Engine) CreateAccount(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Create(id, Amount{}); err != nil {
		return e.fail([]string{id}, fmt.Errorf("cannot create account: %w", err))
	}
	e.log.Info("account created", zap.String("account", id))
	return nil
}

// GetBalance returns the current balance of id.
func (e *Engine) GetBalance(id string) (Amount, error) {
	if err := ValidateID(id); err != nil {
		return Amount{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.exist(id); err != nil {
		return Amount{}, err
	}
	var acc Account
	err := e.store.WithLock([]string{id}, func() (err error) {
		// Reads are served for quarantined accounts too.
		if err := e.settle(id); err != nil && !errors.Is(err, ErrInconsistentTransferRecovery) {
			return err
		}
		acc, err = e.store.Load(id)
		return err
	})
	if err != nil {
		return Amount{}, err
	}
	return acc.Balance, nil
}

// ListAccounts returns all account ids in lexicographic order.
func (e *Engine) ListAccounts() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.List()
}

// Deposit credits raw minor units to id.
func (e *Engine) Deposit(id, raw string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	amount, err := e.positive(raw)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.mutate([]string{id}, func() error {
		acc, err := e.store.Load(id)
		if err != nil {
			return err
		}
		acc.Balance = acc.Balance.Add(amount)
		if !acc.Balance.valid() {
			return fmt.Errorf("%w: balance of %q would overflow", ErrInvalidAmount, id)
		}
		return e.store.Save(acc)
	})
	if err != nil {
		return fmt.Errorf("cannot deposit %s to %q: %w", amount, id, err)
	}
	e.record(Record{Kind: KindDeposit, Amount: amount, Account: id})
	return nil
}

// Withdraw debits raw minor units from id.
func (e *Engine) Withdraw(id, raw string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	amount, err := e.positive(raw)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.mutate([]string{id}, func() error {
		acc, err := e.store.Load(id)
		if err != nil {
			return err
		}
		if amount.GreaterThan(acc.Balance) {
			return fmt.Errorf("%w: balance of %q is %s", ErrInsufficientFunds, id, acc.Balance)
		}
		acc.Balance = acc.Balance.Sub(amount)
		return e.store.Save(acc)
	})
	if err != nil {
		return fmt.Errorf("cannot withdraw %s from %q: %w", amount, id, err)
	}
	e.record(Record{Kind: KindWithdrawal, Amount: amount, Account: id})
	return nil
}

// Transfer moves raw minor units from src to dst.
//
// Both records are committed with the pending marker protocol: either both
// balances are updated or neither, even if the process dies in the middle.
func (e *Engine) Transfer(src, dst, raw string) error {
	if src == dst {
		return fmt.Errorf("%w: %q", ErrSameAccountTransfer, src)
	}
	for _, id := range []string{src, dst} {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var amount Amount
	err := e.mutate([]string{src, dst}, func() error {
		from, err := e.store.Load(src)
		if err != nil {
			return err
		}
		to, err := e.store.Load(dst)
		if err != nil {
			return err
		}
		if amount, err = e.positive(raw); err != nil {
			return err
		}
		if amount.GreaterThan(from.Balance) {
			return fmt.Errorf("%w: balance of %q is %s", ErrInsufficientFunds, src, from.Balance)
		}
		m := Marker{
			Source:       src,
			Destination:  dst,
			Amount:       amount,
			SourceBefore: from.Balance,
			SourceAfter:  from.Balance.Sub(amount),
			DestBefore:   to.Balance,
			DestAfter:    to.Balance.Add(amount),
		}
		if !m.DestAfter.valid() {
			return fmt.Errorf("%w: balance of %q would overflow", ErrInvalidAmount, dst)
		}
		return e.commit(m)
	})
	if err != nil {
		return fmt.Errorf("cannot transfer from %q to %q: %w", src, dst, err)
	}
	e.record(Record{Kind: KindTransfer, Amount: amount, Account: src, Counterparty: dst})
	return nil
}

// Quarantined returns the accounts refused for mutation, "*" stands for all
// accounts.
func (e *Engine) Quarantined() map[string]error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]error, len(e.quarantine))
	for id, err := range e.quarantine {
		out[id] = err
	}
	return out
}

// positive parses raw and checks it is strictly positive.
func (e *Engine) positive(raw string) (Amount, error) {
	amount, err := e.parser.Parse(raw)
	if err != nil {
		return Amount{}, err
	}
	if !amount.IsPositive() {
		return Amount{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	return amount, nil
}

// mutate runs fn with the locks of ids held, after checking the quarantine
// and settling crashed transfers involving them.
func (e *Engine) mutate(ids []string, fn func() error) error {
	if err := e.quarantined(ids...); err != nil {
		return err
	}
	if err := e.exist(ids...); err != nil {
		return err
	}
	err := e.store.WithLock(ids, func() error {
		if err := e.settle(ids...); err != nil {
			return err
		}
		return fn()
	})
	return e.fail(ids, err)
}

// exist fails with ErrAccountNotFound unless every id has a record. It runs
// before locking, so that no lock file is created for an unknown account.
func (e *Engine) exist(ids ...string) error {
	for _, id := range ids {
		ok, err := e.store.Exists(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrAccountNotFound, id)
		}
	}
	return nil
}

// quarantined returns an ErrQuarantined error if any of ids is quarantined.
func (e *Engine) quarantined(ids ...string) error {
	for _, id := range append([]string{AllAccounts}, ids...) {
		if cause, ok := e.quarantine[id]; ok {
			return fmt.Errorf("%w: %q: %w", ErrQuarantined, id, cause)
		}
	}
	return nil
}

// fail quarantines ids if err is a storage or recovery failure, and returns err.
func (e *Engine) fail(ids []string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageIO) || errors.Is(err, ErrInconsistentTransferRecovery) {
		for _, id := range ids {
			if _, ok := e.quarantine[id]; !ok {
				e.log.Error("account quarantined", zap.String("account", id), zap.Error(err))
				e.quarantine[id] = err
			}
		}
	}
	return err
}

// record appends r to the audit log. Failures are logged, the mutation stands.
func (e *Engine) record(r Record) {
	r.Time = e.now()
	if err := e.audit.Append(r); err != nil {
		e.log.Warn("audit append failed",
			zap.String("kind", string(r.Kind)),
			zap.String("account", r.Account),
			zap.Stringer("amount", r.Amount),
			zap.Error(err))
	}
}

// lift removes ids from the quarantine.
func (e *Engine) lift(ids ...string) {
	for _, id := range ids {
		if _, ok := e.quarantine[id]; ok {
			e.log.Info("quarantine lifted", zap.String("account", id))
			delete(e.quarantine, id)
		}
	}
}

// involves reports whether m names any of ids.
func (m Marker) involves(ids ...string) bool {
	return slices.Contains(ids, m.Source) || slices.Contains(ids, m.Destination)
}
