package plane

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxJournalEntries bounds the journal when no explicit limit is given.
const DefaultMaxJournalEntries = 5000

// tsFormat is fixed-width so document timestamps order lexicographically.
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoPath is returned by every operation when the store has no backing path.
var ErrNoPath = errors.New("plane: store path not configured")

// Store provides serialized access to one plane document file. Every
// operation is a full read-modify-write cycle against the backing file; no
// document state is cached between calls, so concurrent processes always see
// the latest persisted document.
type Store struct {
	path string

	mu     sync.Mutex
	clock  func() time.Time
	lastTS time.Time
}

// NewStore returns a store bound to the document file at path.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		clock: time.Now,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// timestamp returns the next document timestamp. Timestamps are strictly
// increasing per store instance even when the wall clock stalls or steps
// backwards.
func (s *Store) timestamp() string {
	t := s.clock().UTC()
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = t
	return t.Format(tsFormat)
}

func (s *Store) ensurePath() error {
	if strings.TrimSpace(s.path) == "" {
		return ErrNoPath
	}
	return nil
}

// Init creates and persists an empty document when none exists. A file that
// exists but does not parse as a JSON object is copied to a timestamped
// backup before a fresh document replaces it. Returns whether a fresh
// document was created.
func (s *Store) Init() (bool, error) {
	if err := s.ensurePath(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.writeLocked(newDocument(s.timestamp())); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read document: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err == nil {
		if _, ok := raw.(map[string]any); ok {
			return false, nil
		}
	}

	backup, err := s.backupLocked(data)
	if err != nil {
		return false, err
	}
	slog.Warn("reinitialized corrupt plane document", "path", s.path, "backup", backup)
	if err := s.writeLocked(newDocument(s.timestamp())); err != nil {
		return false, err
	}
	return true, nil
}

// Read loads and normalizes the document, initializing a fresh one when the
// file is absent. A file that does not parse is backed up and replaced; the
// recovery is logged, never surfaced as an error.
func (s *Store) Read() (*Document, error) {
	if err := s.ensurePath(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc := newDocument(s.timestamp())
		if err := s.writeLocked(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		backup, berr := s.backupLocked(data)
		if berr != nil {
			return nil, berr
		}
		slog.Warn("recovered corrupt plane document", "path", s.path, "backup", backup)
		doc := newDocument(s.timestamp())
		if err := s.writeLocked(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	return normalizeDocument(raw, s.timestamp()), nil
}

// Write normalizes doc, stamps updatedAt, and persists it atomically: the
// document is written to a uniquely named temp file in the target directory
// and renamed over the backing path, so readers see either the previous or
// the new document in full, never a partial write.
func (s *Store) Write(doc *Document) error {
	if err := s.ensurePath(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(doc)
}

func (s *Store) writeLocked(doc *Document) error {
	doc.normalize()
	doc.UpdatedAt = s.timestamp()
	if doc.CreatedAt == "" {
		doc.CreatedAt = doc.UpdatedAt
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

func (s *Store) backupLocked(data []byte) (string, error) {
	backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.clock().UTC().UnixNano())
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return "", fmt.Errorf("write corruption backup: %w", err)
	}
	return backup, nil
}

// Get returns the value stored under namespace/key, or nil when either the
// namespace or the key is absent.
func (s *Store) Get(namespace, key string) (any, error) {
	if err := s.ensurePath(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	ns, ok := doc.Namespaces[namespace]
	if !ok {
		return nil, nil
	}
	return ns[key], nil
}

// Set stores a value under namespace/key, creating the namespace on first
// use, and appends a set entry to the journal. String values are best-effort
// JSON-decoded first; the stored (decoded) value is returned.
func (s *Store) Set(namespace, key string, value any, meta map[string]any) (any, error) {
	if err := s.ensurePath(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	stored := decodeValue(value)
	ns := doc.Namespaces[namespace]
	if ns == nil {
		ns = map[string]any{}
		doc.Namespaces[namespace] = ns
	}
	ns[key] = stored
	doc.Journal = append(doc.Journal, JournalEntry{
		TS:        s.timestamp(),
		Op:        OpSet,
		Namespace: namespace,
		Key:       key,
		Meta:      meta,
	})
	if err := s.writeLocked(doc); err != nil {
		return nil, err
	}
	return stored, nil
}

// Append pushes a {ts, value, meta} record onto the sequence stored under
// namespace/key, oldest first. A current value that is not a sequence is
// replaced with an empty one first. The same string-decoding rule as Set
// applies to the value; the appended record is returned.
func (s *Store) Append(namespace, key string, value any, meta map[string]any) (map[string]any, error) {
	if err := s.ensurePath(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	ts := s.timestamp()
	record := map[string]any{
		"ts":    ts,
		"value": decodeValue(value),
	}
	if meta != nil {
		record["meta"] = meta
	}
	ns := doc.Namespaces[namespace]
	if ns == nil {
		ns = map[string]any{}
		doc.Namespaces[namespace] = ns
	}
	seq, _ := ns[key].([]any)
	ns[key] = append(seq, record)
	doc.Journal = append(doc.Journal, JournalEntry{
		TS:        ts,
		Op:        OpAppend,
		Namespace: namespace,
		Key:       key,
		Meta:      meta,
	})
	if err := s.writeLocked(doc); err != nil {
		return nil, err
	}
	return record, nil
}

// List returns the namespace's keys, lexicographically sorted, optionally
// filtered to those starting with prefix.
func (s *Store) List(namespace, prefix string) ([]string, error) {
	if err := s.ensurePath(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	ns := doc.Namespaces[namespace]
	keys := make([]string, 0, len(ns))
	for k := range ns {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Compact truncates the journal to its most recent max entries (default
// DefaultMaxJournalEntries when max <= 0) and persists the re-normalized
// document. Running it twice in a row yields the same document modulo
// updatedAt. Returns the number of entries dropped.
func (s *Store) Compact(max int) (int, error) {
	if err := s.ensurePath(); err != nil {
		return 0, err
	}
	if max <= 0 {
		max = DefaultMaxJournalEntries
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	dropped := 0
	if len(doc.Journal) > max {
		dropped = len(doc.Journal) - max
		doc.Journal = append([]JournalEntry(nil), doc.Journal[dropped:]...)
	}
	if err := s.writeLocked(doc); err != nil {
		return 0, err
	}
	return dropped, nil
}
