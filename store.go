package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// this file contains code to persist accounts in a folder, one small json file
// per account, so that the folder stays human readable.
//
// The overall strategy is as follow:
//   Save: write the full record to a temporary file in the same folder, sync it,
//         then rename it over the record. Readers see the old or the new record,
//         never a partial one.
//   Lock: every account has a lock file in the locks folder. The lock is an
//         flock(2) lock, so it serializes writers across processes too.
//   Stage/Commit: same as Save, but split in two steps so that a transfer can
//         prepare both records before renaming any of them.

const (
	accountsFolder = "accounts"
	locksFolder    = "locks"
	recordExt      = ".json"
	stageExt       = ".stage"
	tmpExt         = ".tmp"
	maxIDLength    = 64
	lockRetryDelay = 10 * time.Millisecond
)

// Account is the persisted state of a single account.
type Account struct {
	ID      string `json:"-"`
	Balance Amount `json:"balance"`
}

// ValidateID checks that id can be used as a storage key.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidAccountID)
	case len(id) > maxIDLength:
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidAccountID, id, maxIDLength)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidAccountID, id)
	case strings.ContainsAny(id, `/\:`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidAccountID, id)
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidAccountID, id)
		}
	}
	return nil
}

// Store persists accounts in a folder.
//
// A Store is meant to be driven by a single Engine, which serializes calls.
type Store struct {
	accounts string
	locks    string
	timeout  time.Duration
	log      *zap.Logger

	mu   sync.Mutex
	held map[string]*flock.Flock // account locks held by this store.
}

// NewStore opens, or initializes, the store under cfg.Root.
func NewStore(cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		accounts: filepath.Join(cfg.Root, accountsFolder),
		locks:    filepath.Join(cfg.Root, locksFolder),
		timeout:  cfg.LockTimeout,
		log:      log,
		held:     make(map[string]*flock.Flock),
	}
	for _, dir := range []string{s.accounts, s.locks} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: cannot create %q: %w", ErrStorageIO, dir, err)
		}
	}
	return s, nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.accounts, id+recordExt)
}

// StagePath returns the staging file used for account id by the operation tag.
func (s *Store) StagePath(id, tag string) string {
	return filepath.Join(s.accounts, "."+id+"."+tag+stageExt)
}

// Exists reports whether a record is persisted for id.
func (s *Store) Exists(id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.recordPath(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
}

// Load reads the account id.
func (s *Store) Load(id string) (Account, error) {
	if err := ValidateID(id); err != nil {
		return Account{}, err
	}
	data, err := os.ReadFile(s.recordPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Account{}, fmt.Errorf("%w: %q", ErrAccountNotFound, id)
	}
	if err != nil {
		return Account{}, fmt.Errorf("%w: reading %q: %w", ErrStorageIO, id, err)
	}
	return decodeAccount(id, data)
}

// decodeAccount parses a record. A record is an object with a single
// "balance" property holding a non-negative integer.
func decodeAccount(id string, data []byte) (Account, error) {
	var rec struct {
		Balance *Amount `json:"balance"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Account{}, fmt.Errorf("%w: %q: %w", ErrCorruptRecord, id, err)
	}
	if rec.Balance == nil {
		return Account{}, fmt.Errorf("%w: %q: missing balance", ErrCorruptRecord, id)
	}
	if !rec.Balance.valid() {
		return Account{}, fmt.Errorf("%w: %q: invalid balance %s", ErrCorruptRecord, id, rec.Balance)
	}
	return Account{ID: id, Balance: *rec.Balance}, nil
}

func encodeAccount(a Account) ([]byte, error) {
	if !a.Balance.valid() {
		return nil, fmt.Errorf("%w: refusing to persist balance %s for %q", ErrInvalidAmount, a.Balance, a.ID)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save atomically replaces the record of a.ID.
func (s *Store) Save(a Account) error {
	if err := ValidateID(a.ID); err != nil {
		return err
	}
	data, err := encodeAccount(a)
	if err != nil {
		return err
	}
	return s.WithLock([]string{a.ID}, func() error {
		s.log.Debug("save-account", zap.String("account", a.ID), zap.Stringer("balance", a.Balance))
		return writeAtomic(s.recordPath(a.ID), data)
	})
}

// Create persists a new account with an initial balance.
func (s *Store) Create(id string, initial Amount) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return s.WithLock([]string{id}, func() error {
		exists, err := s.Exists(id)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q", ErrAccountAlreadyExists, id)
		}
		s.log.Debug("create-account", zap.String("account", id))
		return s.Save(Account{ID: id, Balance: initial})
	})
}

// List returns the ids of all persisted accounts in lexicographic order.
func (s *Store) List() ([]string, error) {
	return listAccounts(s.accounts)
}

// AccountIDs lists the accounts of the ledger under cfg.Root without opening
// it: nothing is locked, recovered nor created. A missing ledger has no
// accounts.
func AccountIDs(cfg Config) ([]string, error) {
	ids, err := listAccounts(filepath.Join(cfg.Root, accountsFolder))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return ids, err
}

func listAccounts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing accounts: %w", ErrStorageIO, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		if ValidateID(id) != nil {
			continue // temporary and staging files start with a dot.
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Stage writes a to its staging file for tag, without making it visible.
func (s *Store) Stage(a Account, tag string) (string, error) {
	if err := ValidateID(a.ID); err != nil {
		return "", err
	}
	data, err := encodeAccount(a)
	if err != nil {
		return "", err
	}
	path := s.StagePath(a.ID, tag)
	if err := writeSynced(path, data); err != nil {
		return "", fmt.Errorf("%w: staging %q: %w", ErrStorageIO, a.ID, err)
	}
	return path, nil
}

// Commit renames a staged record into place for account id.
func (s *Store) Commit(stage, id string) error {
	if err := os.Rename(stage, s.recordPath(id)); err != nil {
		return fmt.Errorf("%w: committing %q: %w", ErrStorageIO, id, err)
	}
	if err := syncDir(s.accounts); err != nil {
		return fmt.Errorf("%w: committing %q: %w", ErrStorageIO, id, err)
	}
	return nil
}

// Discard removes a staging file, it is not an error if it does not exist.
func (s *Store) Discard(stage string) error {
	if err := os.Remove(stage); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	return nil
}

// staged returns the staging files present in the accounts folder.
func (s *Store) staged() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.accounts, ".*"+stageExt))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	return paths, nil
}

// WithLock runs fn while holding the exclusive lock of every account in ids.
//
// Locks are acquired in lexicographic order, so two callers can never wait
// for each other. Locks already held by this store are not acquired again,
// which makes nested calls safe. Waiting for another process is bounded by
// the lock timeout, after which ErrAccountBusy is returned.
func (s *Store) WithLock(ids []string, fn func() error) (err error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var acquired []string
	defer func() {
		for _, id := range slices.Backward(acquired) {
			err = errors.Join(err, s.unlock(id))
		}
	}()
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return err
		}
		ok, err := s.lock(id)
		if err != nil {
			return err
		}
		if ok {
			acquired = append(acquired, id)
		}
	}
	return fn()
}

// lock acquires the account lock. It returns false if it was already held.
func (s *Store) lock(id string) (bool, error) {
	s.mu.Lock()
	_, held := s.held[id]
	s.mu.Unlock()
	if held {
		return false, nil
	}

	fl := flock.New(filepath.Join(s.locks, id+".lock"))
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if errors.Is(err, context.DeadlineExceeded) || (err == nil && !ok) {
		return false, fmt.Errorf("%w: %q is locked by another process", ErrAccountBusy, id)
	}
	if err != nil {
		return false, fmt.Errorf("%w: locking %q: %w", ErrStorageIO, id, err)
	}

	s.mu.Lock()
	s.held[id] = fl
	s.mu.Unlock()
	return true, nil
}

// unlock releases the account lock. Lock files are never removed: removing
// them would let two processes lock two different inodes for the same name.
func (s *Store) unlock(id string) error {
	s.mu.Lock()
	fl := s.held[id]
	delete(s.held, id)
	s.mu.Unlock()
	if fl == nil {
		return nil
	}
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("%w: unlocking %q: %w", ErrStorageIO, id, err)
	}
	return nil
}

// writeAtomic replaces path with data: readers see either the previous
// content or data, never a mix.
func writeAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	f, err := os.CreateTemp(dir, "."+base+".*"+tmpExt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	tmp := f.Name()
	if err := writeAndSync(f, data); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: writing %q: %w", ErrStorageIO, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: replacing %q: %w", ErrStorageIO, path, err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	return nil
}

// staleTemporaries returns the temporary files left by writeAtomic in dir
// that were last modified more than age ago.
func staleTemporaries(dir string, age time.Duration) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, ".*"+tmpExt))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	var stale []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue // removed meanwhile.
		}
		if time.Since(info.ModTime()) > age {
			stale = append(stale, path)
		}
	}
	return stale, nil
}

// writeSynced creates or truncates path with data and syncs it to disk.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return writeAndSync(f, data)
}

// writeAndSync writes data, syncs and closes f.
func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir makes a rename in dir durable.
func syncDir(dir string) error {
	if dir == "" {
		dir = "."
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
