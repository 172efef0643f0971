// Package timeline persists a local audit trail of relay activity and store
// maintenance in sqlite. Writers treat it as best-effort: a failed insert is
// never allowed to fail the operation being recorded.
package timeline

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Service struct {
	db *sql.DB
}

// NewService opens (creating if needed) the audit database at dbPath.
func NewService(dbPath string) (*Service, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create timeline directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open timeline db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply timeline schema: %w", err)
	}
	return &Service{db: db}, nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

// AddEvent inserts one relay event. The row timestamp comes from the
// database clock.
func (s *Service) AddEvent(evt *Event) error {
	_, err := s.db.Exec(`INSERT INTO relay_events (kind, issue_id, step, role, exit_code, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		evt.Kind, evt.IssueID, evt.Step, evt.Role, evt.ExitCode, evt.Detail)
	return err
}

// RecentEvents returns the newest events, newest first.
func (s *Service) RecentEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, ts, kind, issue_id, COALESCE(step,''), COALESCE(role,''), exit_code, COALESCE(detail,'')
		FROM relay_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsForIssue returns every event recorded for one work item, oldest
// first.
func (s *Service) EventsForIssue(issueID string) ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, ts, kind, issue_id, COALESCE(step,''), COALESCE(role,''), exit_code, COALESCE(detail,'')
		FROM relay_events WHERE issue_id = ? ORDER BY id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &e.IssueID, &e.Step, &e.Role, &e.ExitCode, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertItemRun records the latest pipeline status of a work item.
func (s *Service) UpsertItemRun(issueID, status string) error {
	_, err := s.db.Exec(`INSERT INTO item_runs (issue_id, status, runs, updated_at)
		VALUES (?, ?, 1, datetime('now'))
		ON CONFLICT(issue_id) DO UPDATE SET
			status = excluded.status,
			runs = item_runs.runs + 1,
			updated_at = datetime('now')`,
		issueID, status)
	return err
}

// ItemRuns returns tracked work items, most recently updated first.
func (s *Service) ItemRuns(limit int) ([]ItemRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT issue_id, status, runs, updated_at
		FROM item_runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ItemRun
	for rows.Next() {
		var r ItemRun
		if err := rows.Scan(&r.IssueID, &r.Status, &r.Runs, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddLandRun records one land maintenance pass.
func (s *Service) AddLandRun(storePath, owner string, created bool, dropped int, released bool) error {
	_, err := s.db.Exec(`INSERT INTO land_runs (store_path, owner, created, dropped, released)
		VALUES (?, ?, ?, ?, ?)`,
		storePath, owner, created, dropped, released)
	return err
}

// RecentLandRuns returns the newest land passes, newest first.
func (s *Service) RecentLandRuns(limit int) ([]LandRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, store_path, COALESCE(owner,''), created, dropped, released, ran_at
		FROM land_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LandRun
	for rows.Next() {
		var r LandRun
		if err := rows.Scan(&r.ID, &r.StorePath, &r.Owner, &r.Created, &r.Dropped, &r.Released, &r.RanAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
