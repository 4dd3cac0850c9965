package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/enact-ai/enact/internal/domain/audit"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit records to a SQLite database. Useful for local
// deployments that want queryable history without an external collector.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path and ensures the
// audit table exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteSinkWithDB wraps an existing database handle.
func NewSQLiteSinkWithDB(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		function TEXT NOT NULL,
		arguments JSON,
		allow INTEGER NOT NULL,
		reason TEXT NOT NULL,
		rule_id TEXT,
		duration_ms REAL NOT NULL,
		correlation_id TEXT NOT NULL,
		decision_source TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_records (agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_records (correlation_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate audit table: %w", err)
	}
	return nil
}

// Log inserts the record.
func (s *SQLiteSink) Log(ctx context.Context, rec audit.Record) error {
	argsJSON, _ := json.Marshal(rec.Arguments)

	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_records (
		timestamp, agent_id, tool, function, arguments, allow, reason,
		rule_id, duration_ms, correlation_id, decision_source
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.AgentID, rec.Tool, rec.Function, string(argsJSON),
		rec.Allow, rec.Reason, rec.RuleID, rec.DurationMS,
		rec.CorrelationID, rec.DecisionSource,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// QueryByAgent returns the agent's most recent records, newest first.
func (s *SQLiteSink) QueryByAgent(ctx context.Context, agentID string, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, agent_id, tool, function, arguments, allow, reason,
		       rule_id, duration_ms, correlation_id, decision_source
		FROM audit_records
		WHERE agent_id = ?
		ORDER BY id DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// scanRecord reads one row into a Record.
func scanRecord(rows *sql.Rows) (audit.Record, error) {
	var (
		rec      audit.Record
		ts       string
		argsJSON sql.NullString
		ruleID   sql.NullString
		source   sql.NullString
	)
	err := rows.Scan(&ts, &rec.AgentID, &rec.Tool, &rec.Function, &argsJSON,
		&rec.Allow, &rec.Reason, &ruleID, &rec.DurationMS,
		&rec.CorrelationID, &source)
	if err != nil {
		return audit.Record{}, fmt.Errorf("scan audit record: %w", err)
	}

	rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return audit.Record{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	if argsJSON.Valid && argsJSON.String != "" && argsJSON.String != "null" {
		if err := json.Unmarshal([]byte(argsJSON.String), &rec.Arguments); err != nil {
			return audit.Record{}, fmt.Errorf("decode audit arguments: %w", err)
		}
	}
	rec.RuleID = ruleID.String
	rec.DecisionSource = source.String
	return rec, nil
}

// Close closes the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Compile-time interface verification.
var _ audit.Auditor = (*SQLiteSink)(nil)
