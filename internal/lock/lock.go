// Package lock provides an advisory TTL file lock used to serialize plane
// document maintenance across cooperating agent processes. Ownership is a
// courtesy contract, not an OS-enforced mutex: holders are expected to
// release promptly, and expired records may be stolen by the next acquirer.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL applies when an acquirer does not supply a TTL.
const DefaultTTL = time.Minute

var (
	// ErrHeld reports that the lock is held by a live, non-expired owner.
	ErrHeld = errors.New("lock held")
	// ErrNoPath reports a missing lock file path.
	ErrNoPath = errors.New("lock: path not configured")
)

// HeldError carries the holder details of a failed acquisition.
type HeldError struct {
	Path      string
	Owner     string
	ExpiresAt time.Time
}

func (e *HeldError) Error() string {
	if e.Owner == "" {
		return "lock held"
	}
	return fmt.Sprintf("lock held by %s until %s", e.Owner, e.ExpiresAt.Format(time.RFC3339))
}

func (e *HeldError) Is(target error) bool {
	return target == ErrHeld
}

// Record is the lock file's content. Presence of the file means held,
// unless ExpiresAt has passed.
type Record struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	TTLMillis int64     `json:"ttlMs"`
}

// Expired reports whether the record's TTL had lapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Acquire attempts a single exclusive create of the lock file at path,
// writing a record with a freshly generated owner token and
// expiresAt = now + ttl. On a create conflict the existing record is read:
// an unparseable or expired record is treated as stale, deleted, and the
// create retried exactly once; a live record fails the acquisition with a
// HeldError naming the current owner. There is no wait loop; callers that
// need to wait must retry externally.
func Acquire(path, name string, ttl time.Duration) (*Record, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoPath
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	rec, err := tryCreate(path, name, ttl)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	existing, rerr := readRecord(path)
	if rerr == nil && !existing.Expired(time.Now()) {
		return nil, &HeldError{Path: path, Owner: existing.Owner, ExpiresAt: existing.ExpiresAt}
	}
	if rerr == nil {
		slog.Info("stealing expired lock", "path", path, "owner", existing.Owner)
	} else if !errors.Is(rerr, fs.ErrNotExist) {
		slog.Warn("removing unreadable lock file", "path", path, "error", rerr)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale lock: %w", err)
	}

	rec, err = tryCreate(path, name, ttl)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, fs.ErrExist) {
		// Lost the steal race to another acquirer.
		if existing, rerr := readRecord(path); rerr == nil {
			return nil, &HeldError{Path: path, Owner: existing.Owner, ExpiresAt: existing.ExpiresAt}
		}
		return nil, &HeldError{Path: path}
	}
	return nil, fmt.Errorf("create lock file: %w", err)
}

func tryCreate(path, name string, ttl time.Duration) (*Record, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &Record{
		Name:      name,
		Owner:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		TTLMillis: ttl.Milliseconds(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("encode lock record: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write lock record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close lock file: %w", err)
	}
	return rec, nil
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock record: %w", err)
	}
	if rec.Owner == "" {
		return nil, errors.New("lock record missing owner")
	}
	return &rec, nil
}

// Release deletes the lock file when the recorded owner matches the caller's
// owner token, or unconditionally when force is set. It fails softly: a
// missing file, a non-matching owner, or an unreadable record (without
// force) all return released=false with no error.
func Release(path, owner string, force bool) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, ErrNoPath
	}
	rec, err := readRecord(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if !force {
			return false, nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("remove lock: %w", err)
		}
		return true, nil
	}
	if rec.Owner != owner && !force {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove lock: %w", err)
	}
	return true, nil
}

// Inspect returns the current lock record, or nil when no lock file exists.
func Inspect(path string) (*Record, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoPath
	}
	rec, err := readRecord(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}
