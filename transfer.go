package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// A transfer writes two records, and there is no way to rename two files at
// once. So a transfer is committed in four steps:
//
//  1. write a pending marker describing both records before and after;
//  2. stage both new records;
//  3. rename the source stage into place, then the destination stage;
//  4. remove the marker.
//
// The marker exists exactly while the records may disagree. The process that
// writes it holds both account locks until it is removed, so a marker whose
// accounts can be locked belongs to a dead process and can be resolved by
// comparing the current balances with the ones it describes.

const pendingFolder = "pending"

// Marker is the durable intent of a transfer.
type Marker struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Destination  string    `json:"destination"`
	Amount       Amount    `json:"amount"`
	SourceBefore Amount    `json:"sourceBefore"`
	SourceAfter  Amount    `json:"sourceAfter"`
	DestBefore   Amount    `json:"destinationBefore"`
	DestAfter    Amount    `json:"destinationAfter"`
	Created      time.Time `json:"created"`
}

// Resolution is the outcome of the recovery of a pending transfer.
type Resolution string

const (
	// Completed means both records were already updated.
	Completed Resolution = "completed"
	// RolledForward means one record was updated, the other one has been
	// written to match.
	RolledForward Resolution = "rolled-forward"
	// RolledBack means no record was updated, the transfer never happened.
	RolledBack Resolution = "rolled-back"
	// InFlight means the accounts are locked by a live transfer.
	InFlight Resolution = "in-flight"
	// Unresolved means the records match neither side of the marker.
	Unresolved Resolution = "unresolved"
)

// Recovery reports what happened to one pending marker.
type Recovery struct {
	Marker     Marker
	Resolution Resolution
	Err        error
}

// transfer drives the commit of a single marker. Locks of both accounts must
// be held for its whole life.
type transfer struct {
	e *Engine
	m Marker
}

func (t *transfer) markerPath() string {
	return filepath.Join(t.e.pending, t.m.ID+".json")
}

// begin persists the marker.
func (t *transfer) begin() error {
	data, err := json.Marshal(t.m)
	if err != nil {
		return err
	}
	return writeAtomic(t.markerPath(), data)
}

// stage writes both new records next to the current ones.
func (t *transfer) stage() error {
	if _, err := t.e.store.Stage(Account{ID: t.m.Source, Balance: t.m.SourceAfter}, t.m.ID); err != nil {
		return err
	}
	_, err := t.e.store.Stage(Account{ID: t.m.Destination, Balance: t.m.DestAfter}, t.m.ID)
	return err
}

func (t *transfer) commitSource() error {
	return t.e.store.Commit(t.e.store.StagePath(t.m.Source, t.m.ID), t.m.Source)
}

func (t *transfer) commitDestination() error {
	return t.e.store.Commit(t.e.store.StagePath(t.m.Destination, t.m.ID), t.m.Destination)
}

// finish removes the staging leftovers and the marker.
func (t *transfer) finish() error {
	err := errors.Join(
		t.e.store.Discard(t.e.store.StagePath(t.m.Source, t.m.ID)),
		t.e.store.Discard(t.e.store.StagePath(t.m.Destination, t.m.ID)),
	)
	if err != nil {
		return err
	}
	if err := os.Remove(t.markerPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing marker %s: %w", ErrStorageIO, t.m.ID, err)
	}
	if err := syncDir(t.e.pending); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageIO, err)
	}
	return nil
}

// commit persists a transfer. Locks of both accounts must be held.
func (e *Engine) commit(m Marker) error {
	m.ID = ulid.Make().String()
	m.Created = e.now().UTC()
	t := &transfer{e: e, m: m}
	log := e.log.With(zap.String("marker", m.ID), zap.String("source", m.Source), zap.String("destination", m.Destination))

	if err := t.begin(); err != nil {
		return fmt.Errorf("cannot record transfer intent: %w", err)
	}
	var err error
	for _, step := range []func() error{t.stage, t.commitSource, t.commitDestination} {
		if err = step(); err != nil {
			break
		}
	}
	if err == nil {
		if err := t.finish(); err != nil {
			// Both records are committed, the next recovery will find them
			// completed and remove the marker.
			log.Warn("cannot clear pending marker", zap.Error(err))
		}
		return nil
	}

	log.Error("transfer commit failed, resolving", zap.Error(err))
	res, rerr := e.resolve(m)
	switch {
	case rerr != nil:
		return errors.Join(err, rerr)
	case res == Completed || res == RolledForward:
		log.Warn("transfer completed by recovery", zap.String("resolution", string(res)))
		return nil
	default:
		return err
	}
}

// resolve brings the records named by m to a consistent state and removes m.
// Locks of both accounts must be held.
func (e *Engine) resolve(m Marker) (Resolution, error) {
	t := &transfer{e: e, m: m}
	unresolved := func(format string, args ...any) (Resolution, error) {
		err := fmt.Errorf("%w: marker %s: %s", ErrInconsistentTransferRecovery, m.ID, fmt.Sprintf(format, args...))
		e.fail([]string{m.Source, m.Destination}, err)
		return Unresolved, err
	}

	src, err := e.store.Load(m.Source)
	if err != nil {
		return unresolved("source: %v", err)
	}
	dst, err := e.store.Load(m.Destination)
	if err != nil {
		return unresolved("destination: %v", err)
	}

	srcBefore, srcAfter := src.Balance.Equal(m.SourceBefore), src.Balance.Equal(m.SourceAfter)
	dstBefore, dstAfter := dst.Balance.Equal(m.DestBefore), dst.Balance.Equal(m.DestAfter)

	var res Resolution
	switch {
	case srcAfter && dstAfter:
		res = Completed
	case srcBefore && dstBefore:
		res = RolledBack
	case srcAfter && dstBefore:
		res = RolledForward
		err = e.store.Save(Account{ID: m.Destination, Balance: m.DestAfter})
	case srcBefore && dstAfter:
		res = RolledForward
		err = e.store.Save(Account{ID: m.Source, Balance: m.SourceAfter})
	default:
		return unresolved("%q holds %s and %q holds %s", m.Source, src.Balance, m.Destination, dst.Balance)
	}
	if err != nil {
		return unresolved("%s: %v", res, err)
	}
	if err := t.finish(); err != nil {
		// The records are consistent, only the marker is left behind.
		return res, err
	}
	e.log.Info("pending transfer resolved", zap.String("marker", m.ID), zap.String("resolution", string(res)))
	return res, nil
}

// settle resolves the dead markers naming any of ids. Locks of ids must be held.
func (e *Engine) settle(ids ...string) error {
	markers, err := e.markers()
	if err != nil {
		return err
	}
	for _, r := range markers {
		if r.Err != nil || !r.Marker.involves(ids...) {
			// Unreadable markers already quarantine every account.
			continue
		}
		if _, _, err := e.recoverMarker(r.Marker); err != nil {
			return err
		}
	}
	return nil
}

// recoverMarker locks the accounts of m, then resolves the marker as it is
// on disk at that time. While waiting for the locks, the owner of m may have
// finished it, and other operations may have changed the accounts since: a
// marker that is gone is reported as such, and nothing is touched.
func (e *Engine) recoverMarker(m Marker) (r Recovery, gone bool, err error) {
	r.Marker = m
	err = e.store.WithLock([]string{m.Source, m.Destination}, func() error {
		current, err := e.readMarker(m.ID)
		if errors.Is(err, fs.ErrNotExist) {
			gone = true
			return nil
		}
		if err == nil && (current.Source != m.Source || current.Destination != m.Destination) {
			err = fmt.Errorf("accounts changed from %q and %q", m.Source, m.Destination)
		}
		if err != nil {
			r.Resolution = Unresolved
			return e.fail([]string{AllAccounts}, fmt.Errorf("%w: marker %s is unreadable: %w", ErrInconsistentTransferRecovery, m.ID, err))
		}
		r.Marker = current
		r.Resolution, err = e.resolve(current)
		return err
	})
	return r, gone, err
}

// Recover resolves every pending transfer left by a dead process.
//
// Markers whose accounts are locked belong to a live transfer and are
// reported InFlight. Markers that cannot be resolved stay on disk, their
// accounts are quarantined and the returned error wraps
// ErrInconsistentTransferRecovery.
func (e *Engine) Recover() ([]Recovery, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	markers, err := e.markers()
	if err != nil {
		return nil, err
	}
	var (
		out  []Recovery
		errs error
	)
	for _, r := range markers {
		if r.Err != nil {
			errs = errors.Join(errs, r.Err)
			out = append(out, r)
			continue
		}
		rec, gone, err := e.recoverMarker(r.Marker)
		switch {
		case gone:
			e.log.Debug("pending transfer finished by its owner", zap.String("marker", r.Marker.ID))
			continue
		case errors.Is(err, ErrAccountBusy):
			rec.Resolution = InFlight
		case err != nil:
			rec.Err = err
			if rec.Resolution == "" {
				rec.Resolution = Unresolved
			}
			errs = errors.Join(errs, err)
		}
		out = append(out, rec)
	}
	if err := e.sweep(); err != nil {
		errs = errors.Join(errs, err)
	}
	return out, errs
}

// Pending returns the markers currently on disk.
func (e *Engine) Pending() ([]Recovery, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markers()
}

// Discard removes a pending marker and its staging files without touching
// the records, and lifts the quarantine of its accounts. It is meant for an
// operator who repaired the records by hand.
func (e *Engine) Discard(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	markers, err := e.markers()
	if err != nil {
		return err
	}
	for _, r := range markers {
		if r.Marker.ID != id {
			continue
		}
		t := &transfer{e: e, m: r.Marker}
		if r.Err != nil {
			// Unreadable, it only has an id.
			if err := os.Remove(t.markerPath()); err != nil {
				return fmt.Errorf("%w: %w", ErrStorageIO, err)
			}
			e.log.Warn("pending marker discarded", zap.String("marker", id))
			e.lift(AllAccounts)
			return nil
		}
		accounts := []string{r.Marker.Source, r.Marker.Destination}
		if err := e.store.WithLock(accounts, t.finish); err != nil {
			return err
		}
		e.log.Warn("pending marker discarded", zap.String("marker", id),
			zap.String("source", r.Marker.Source), zap.String("destination", r.Marker.Destination))
		e.lift(accounts...)
		return nil
	}
	return fmt.Errorf("no pending transfer %q", id)
}

// markers reads all pending markers. Unreadable markers are returned with
// only their id and an error, and quarantine every account.
func (e *Engine) markers() ([]Recovery, error) {
	entries, err := os.ReadDir(e.pending)
	if err != nil {
		return nil, fmt.Errorf("%w: listing pending transfers: %w", ErrStorageIO, err)
	}
	var out []Recovery
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		m, err := e.readMarker(id)
		if errors.Is(err, fs.ErrNotExist) {
			// finished since the listing.
			continue
		}
		r := Recovery{Marker: m}
		if err != nil {
			r.Marker = Marker{ID: id}
			r.Resolution = Unresolved
			r.Err = fmt.Errorf("%w: marker %s is unreadable: %w", ErrInconsistentTransferRecovery, id, err)
			e.fail([]string{AllAccounts}, r.Err)
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Recovery) int { return strings.Compare(a.Marker.ID, b.Marker.ID) })
	return out, nil
}

// readMarker reads the marker id from the pending folder. The error wraps
// fs.ErrNotExist if there is no such marker.
func (e *Engine) readMarker(id string) (Marker, error) {
	var m Marker
	data, err := os.ReadFile(filepath.Join(e.pending, id+".json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	m.ID = id
	return m, errors.Join(ValidateID(m.Source), ValidateID(m.Destination))
}

// sweep removes staging files whose marker no longer exists, and the
// temporary files of atomic writes interrupted by a crash.
func (e *Engine) sweep() error {
	staged, err := e.store.staged()
	if err != nil {
		return err
	}
	var errs error
	for _, path := range staged {
		// .<account>.<marker>.stage
		name := strings.TrimSuffix(filepath.Base(path), stageExt)
		id := name[strings.LastIndex(name, ".")+1:]
		if _, err := os.Stat(filepath.Join(e.pending, id+".json")); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		e.log.Info("removing orphan staging file", zap.String("path", path))
		errs = errors.Join(errs, e.store.Discard(path))
	}

	// A temporary file lives for the duration of one write, under the lock
	// of its account. One older than the lock timeout has no writer left.
	for _, dir := range []string{e.store.accounts, e.pending} {
		tmps, err := staleTemporaries(dir, e.cfg.LockTimeout)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		for _, path := range tmps {
			e.log.Info("removing stale temporary file", zap.String("path", path))
			errs = errors.Join(errs, e.store.Discard(path))
		}
	}
	return errs
}
