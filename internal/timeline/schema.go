package timeline

import "time"

// Event is one relay lifecycle event in the audit trail.
type Event struct {
	ID       int64     `json:"id"`
	TS       time.Time `json:"ts"`
	Kind     string    `json:"kind"`
	IssueID  string    `json:"issue_id"`
	Step     string    `json:"step,omitempty"`
	Role     string    `json:"role,omitempty"`
	ExitCode int       `json:"exit_code"`
	Detail   string    `json:"detail,omitempty"`
}

// ItemRun is the latest observed pipeline state of one work item.
type ItemRun struct {
	IssueID   string    `json:"issue_id"`
	Status    string    `json:"status"` // dispatched or completed
	Runs      int       `json:"runs"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LandRun records one land maintenance pass over the plane store.
type LandRun struct {
	ID        int64     `json:"id"`
	StorePath string    `json:"store_path"`
	Owner     string    `json:"owner"`
	Created   bool      `json:"created"`
	Dropped   int       `json:"dropped"`
	Released  bool      `json:"released"`
	RanAt     time.Time `json:"ran_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS relay_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	kind TEXT NOT NULL,
	issue_id TEXT NOT NULL,
	step TEXT DEFAULT '',
	role TEXT DEFAULT '',
	exit_code INTEGER NOT NULL DEFAULT 0,
	detail TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_relay_events_issue ON relay_events(issue_id);
CREATE INDEX IF NOT EXISTS idx_relay_events_kind ON relay_events(kind);

CREATE TABLE IF NOT EXISTS item_runs (
	issue_id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'dispatched',
	runs INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS land_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_path TEXT NOT NULL,
	owner TEXT DEFAULT '',
	created BOOLEAN NOT NULL DEFAULT 0,
	dropped INTEGER NOT NULL DEFAULT 0,
	released BOOLEAN NOT NULL DEFAULT 1,
	ran_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_land_runs_path ON land_runs(store_path);
`
