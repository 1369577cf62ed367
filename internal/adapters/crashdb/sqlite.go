package crashdb

// sqlite.go — crash-report sink on SQLite (pure Go, no CGo).
//
// One row per failed trade. Wallet and pool snapshots are stored as JSON
// blobs: the reader is a human triaging offline, not a query planner.
// Old reports are pruned on open.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS crash_reports (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    occurred_at   DATETIME NOT NULL,
    agent_address TEXT     NOT NULL,
    action        TEXT     NOT NULL,
    trade_id      TEXT     NOT NULL,
    amount        TEXT     NOT NULL,
    maturity_time INTEGER  NOT NULL DEFAULT 0,
    error         TEXT     NOT NULL,
    wallet_json   TEXT     NOT NULL,
    config_json   TEXT     NOT NULL,
    state_json    TEXT     NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crash_at    ON crash_reports(occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_crash_agent ON crash_reports(agent_address);
`

// Reports older than this are dropped at startup.
const retention = 30 * 24 * time.Hour

// SQLiteSink implements ports.CrashSink.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path, applies the
// schema and prunes stale reports. Use ":memory:" for tests.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("crashdb: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("crashdb: apply schema: %w", err)
	}
	if _, err := db.Exec(
		`DELETE FROM crash_reports WHERE occurred_at < ?`,
		time.Now().Add(-retention),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("crashdb: prune: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Record implements ports.CrashSink.
func (s *SQLiteSink) Record(ctx context.Context, report domain.CrashReport) error {
	walletJSON, err := json.Marshal(report.Wallet)
	if err != nil {
		return fmt.Errorf("crashdb: marshal wallet: %w", err)
	}
	configJSON, err := json.Marshal(report.PoolConfig)
	if err != nil {
		return fmt.Errorf("crashdb: marshal pool config: %w", err)
	}
	stateJSON, err := json.Marshal(report.PoolState)
	if err != nil {
		return fmt.Errorf("crashdb: marshal pool state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO crash_reports
		  (occurred_at, agent_address, action, trade_id, amount, maturity_time,
		   error, wallet_json, config_json, state_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.Time,
		report.AgentAddress,
		report.Request.Action.String(),
		report.Request.ID.String(),
		report.Request.Amount.String(),
		report.Request.MaturityTime,
		report.Err,
		string(walletJSON),
		string(configJSON),
		string(stateJSON),
	)
	if err != nil {
		return fmt.Errorf("crashdb: insert report: %w", err)
	}
	return nil
}

// Count returns the number of stored reports, optionally filtered by agent
// address (empty string means all).
func (s *SQLiteSink) Count(ctx context.Context, agentAddress string) (int, error) {
	query := `SELECT COUNT(*) FROM crash_reports`
	args := []any{}
	if agentAddress != "" {
		query += ` WHERE agent_address = ?`
		args = append(args, agentAddress)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("crashdb: count reports: %w", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
