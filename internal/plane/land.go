package plane

import (
	"log/slog"
	"time"

	"github.com/flightline/flightline/internal/lock"
)

// DefaultLockName is the lock role name used when none is configured.
const DefaultLockName = "plane"

// LandOptions configures one landing pass over the store.
type LandOptions struct {
	LockPath          string
	LockName          string
	TTL               time.Duration
	MaxJournalEntries int
}

// LandResult summarizes what a landing did.
type LandResult struct {
	Owner    string
	Created  bool
	Dropped  int
	Released bool
}

// Land runs the lock-guarded maintenance transaction that keeps concurrent
// writers off each other: acquire the plane lock, ensure the document exists
// and is structurally valid, compact the journal, release the lock with the
// exact owner token from the acquisition. The release runs on every path out,
// so a failed landing never leaves the store locked. Agents call this before
// and after multi-step mutation sequences as a check-in/check-out discipline.
func Land(store *Store, opts LandOptions) (res *LandResult, err error) {
	if opts.LockPath == "" {
		opts.LockPath = store.Path() + ".lock"
	}
	if opts.LockName == "" {
		opts.LockName = DefaultLockName
	}

	rec, err := lock.Acquire(opts.LockPath, opts.LockName, opts.TTL)
	if err != nil {
		return nil, err
	}
	res = &LandResult{Owner: rec.Owner}
	defer func() {
		released, rerr := lock.Release(opts.LockPath, rec.Owner, false)
		if rerr != nil {
			slog.Warn("release plane lock", "path", opts.LockPath, "error", rerr)
		}
		res.Released = released
	}()

	created, err := store.Init()
	if err != nil {
		return res, err
	}
	res.Created = created

	dropped, err := store.Compact(opts.MaxJournalEntries)
	if err != nil {
		return res, err
	}
	res.Dropped = dropped
	return res, nil
}
