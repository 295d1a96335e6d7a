// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists normalized rows, issues, optimization proposals
// and schema snapshots.
//
// # Description
//
// The store runs over sqlx with either sqlite (modernc.org/sqlite) or
// postgres (lib/pq). Timestamps are stored as unix nanoseconds so both
// dialects sort and compare them the same way. Row writes commit once per
// batch; a failed batch rolls back without touching batches already
// committed.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/observability"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// Store defaults.
const (
	DefaultBatchSize = 1000
	DefaultWindow    = 100

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Issue statuses.
const (
	IssueOpen       = "open"
	IssueInProgress = "in_progress"
	IssueResolved   = "resolved"
)

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("not found")

// Row is a normalized row attributed to an identifier and agent.
type Row struct {
	Identifier string
	Timestamp  time.Time
	AgentID    string
	Data       value.Record
}

// Issue is a stored finding of the issue detection agent.
type Issue struct {
	ID          int64          `json:"id"`
	Identifier  string         `json:"identifier"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	AgentID     string         `json:"agent_id"`
	Status      string         `json:"status"`
	Details     map[string]any `json:"details,omitempty"`
	DetectedAt  time.Time      `json:"detected_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// Optimization is a stored proposal.
type Optimization struct {
	ID          int64          `json:"id"`
	Identifier  string         `json:"identifier"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	AgentID     string         `json:"agent_id"`
	Details     map[string]any `json:"details,omitempty"`
	ProposedAt  time.Time      `json:"proposed_at"`
}

// RowMirror receives every committed batch of rows.
type RowMirror interface {
	MirrorRows(ctx context.Context, rows []Row) error
}

// Config opens a Store.
type Config struct {
	// URL is sqlite://path, file:path, :memory:, or a postgres:// DSN.
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Mirror, when set, is fed every committed batch. Mirror failures are
	// logged and never fail the write.
	Mirror RowMirror

	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Store is the persistence adapter.
//
// # Thread Safety
//
// Safe for concurrent use; every call takes its own connection from the
// pool.
type Store struct {
	db      *sqlx.DB
	driver  string
	mirror  RowMirror
	logger  *logging.Logger
	metrics *observability.Metrics
}

// ParseDatabaseURL maps a database URL onto a database/sql driver name and
// DSN.
func ParseDatabaseURL(databaseURL string) (driver, dsn string, err error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return "", "", errors.New("database url is empty")
	case u == ":memory:":
		return DriverSQLite, "file::memory:?cache=shared&_pragma=busy_timeout(5000)", nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return DriverPostgres, u, nil
	case strings.HasPrefix(u, "sqlite://"):
		path := strings.TrimPrefix(u, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite url %q has no path", databaseURL)
		}
		if path != ":memory:" {
			abs, err := filepath.Abs(path)
			if err != nil {
				return "", "", fmt.Errorf("resolve sqlite path: %w", err)
			}
			path = abs
		}
		return DriverSQLite, sqliteDSN(path), nil
	case strings.HasPrefix(u, "file:"):
		if strings.Contains(u, "?") {
			return DriverSQLite, u, nil
		}
		return DriverSQLite, sqliteDSN(strings.TrimPrefix(u, "file:")), nil
	default:
		return "", "", fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
}

// OpenDB connects to databaseURL and pings it.
func OpenDB(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	driver, dsn, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Open connects, applies the pool settings and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := OpenDB(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	s := New(db, cfg)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Call Migrate before use.
func New(db *sqlx.DB, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		db:      db,
		driver:  db.DriverName(),
		mirror:  cfg.Mirror,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// DB exposes the underlying pool.
func (s *Store) DB() *sqlx.DB { return s.db }

// Driver returns the database/sql driver name.
func (s *Store) Driver() string { return s.driver }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == DriverPostgres {
		stmts = postgresSchema
	}
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for i, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// InsertRows writes rows in batches of batchSize, committing each batch.
//
// # Outputs
//
//   - int: Rows committed. On error this counts only the batches committed
//     before the failing one.
//   - error: The first batch failure, or ctx cancellation between batches.
func (s *Store) InsertRows(ctx context.Context, rows []Row, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	query := s.db.Rebind(`INSERT INTO dynamic_data (timestamp, identifier, data, agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)

	committed := 0
	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		end := min(start+batchSize, len(rows))
		batch := rows[start:end]
		now := time.Now().UTC().UnixNano()
		err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
			stmt, err := tx.PreparexContext(ctx, query)
			if err != nil {
				return fmt.Errorf("prepare insert: %w", err)
			}
			defer stmt.Close()
			for i, r := range batch {
				data, err := json.Marshal(r.Data)
				if err != nil {
					return fmt.Errorf("encode row %d: %w", start+i, err)
				}
				if _, err := stmt.ExecContext(ctx, r.Timestamp.UTC().UnixNano(), r.Identifier, string(data), r.AgentID, now, now); err != nil {
					return fmt.Errorf("insert row %d: %w", start+i, err)
				}
			}
			return nil
		})
		if err != nil {
			return committed, fmt.Errorf("commit batch at row %d: %w", start, err)
		}
		committed += len(batch)
		s.metrics.RecordRowsPersisted(len(batch))

		if s.mirror != nil {
			if err := s.mirror.MirrorRows(ctx, batch); err != nil {
				s.logger.Warn("row mirror failed", "rows", len(batch), "error", err)
			}
		}
	}
	return committed, nil
}

type dataRow struct {
	Timestamp  int64  `db:"timestamp"`
	Identifier string `db:"identifier"`
	Data       string `db:"data"`
	AgentID    string `db:"agent_id"`
}

// Recent returns up to n rows for identifier, newest first.
func (s *Store) Recent(ctx context.Context, identifier string, n int) ([]Row, error) {
	if n <= 0 {
		n = DefaultWindow
	}
	var raw []dataRow
	query := s.db.Rebind(`SELECT timestamp, identifier, data, agent_id FROM dynamic_data
		WHERE identifier = ? ORDER BY timestamp DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &raw, query, identifier, n); err != nil {
		return nil, fmt.Errorf("select recent rows: %w", err)
	}
	out := make([]Row, 0, len(raw))
	for _, r := range raw {
		var rec value.Record
		if err := json.Unmarshal([]byte(r.Data), &rec); err != nil {
			return nil, fmt.Errorf("decode row payload: %w", err)
		}
		out = append(out, Row{
			Identifier: r.Identifier,
			Timestamp:  time.Unix(0, r.Timestamp).UTC(),
			AgentID:    r.AgentID,
			Data:       rec,
		})
	}
	return out, nil
}

// Window returns the n most recent rows for identifier as a batch in
// chronological order.
func (s *Store) Window(ctx context.Context, identifier string, n int) (*value.Batch, error) {
	rows, err := s.Recent(ctx, identifier, n)
	if err != nil {
		return nil, err
	}
	recs := make([]value.Record, len(rows))
	for i, r := range rows {
		recs[len(rows)-1-i] = r.Data
	}
	return value.NewBatch(recs), nil
}

// CountRows returns the number of rows stored for identifier.
func (s *Store) CountRows(ctx context.Context, identifier string) (int, error) {
	var n int
	query := s.db.Rebind(`SELECT COUNT(*) FROM dynamic_data WHERE identifier = ?`)
	if err := s.db.GetContext(ctx, &n, query, identifier); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Identifiers lists every identifier with stored rows, sorted.
func (s *Store) Identifiers(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT identifier FROM dynamic_data ORDER BY identifier`); err != nil {
		return nil, fmt.Errorf("select identifiers: %w", err)
	}
	return ids, nil
}

// SaveIssues stores issues in one transaction. Empty status defaults to
// open. Assigned ids are written back into the slice.
func (s *Store) SaveIssues(ctx context.Context, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for i := range issues {
			is := &issues[i]
			if is.Status == "" {
				is.Status = IssueOpen
			}
			if is.DetectedAt.IsZero() {
				is.DetectedAt = time.Now().UTC()
			}
			details, err := encodeDetails(is.Details)
			if err != nil {
				return err
			}
			var resolved sql.NullInt64
			if is.ResolvedAt != nil {
				resolved = sql.NullInt64{Int64: is.ResolvedAt.UnixNano(), Valid: true}
			}
			id, err := s.insertReturningID(ctx, tx,
				`INSERT INTO issues (identifier, description, severity, agent_id, status, details, detected_at, resolved_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				is.Identifier, is.Description, is.Severity, is.AgentID, is.Status, details, is.DetectedAt.UnixNano(), resolved)
			if err != nil {
				return fmt.Errorf("insert issue: %w", err)
			}
			is.ID = id
		}
		return nil
	})
}

type issueRow struct {
	ID          int64         `db:"id"`
	Identifier  string        `db:"identifier"`
	Description string        `db:"description"`
	Severity    string        `db:"severity"`
	AgentID     string        `db:"agent_id"`
	Status      string        `db:"status"`
	Details     string        `db:"details"`
	DetectedAt  int64         `db:"detected_at"`
	ResolvedAt  sql.NullInt64 `db:"resolved_at"`
}

// Issues lists stored issues for identifier, newest first.
func (s *Store) Issues(ctx context.Context, identifier string, limit int) ([]Issue, error) {
	if limit <= 0 {
		limit = DefaultWindow
	}
	var raw []issueRow
	query := s.db.Rebind(`SELECT id, identifier, description, severity, agent_id, status, details, detected_at, resolved_at
		FROM issues WHERE identifier = ? ORDER BY detected_at DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &raw, query, identifier, limit); err != nil {
		return nil, fmt.Errorf("select issues: %w", err)
	}
	out := make([]Issue, 0, len(raw))
	for _, r := range raw {
		details, err := decodeDetails(r.Details)
		if err != nil {
			return nil, err
		}
		is := Issue{
			ID:          r.ID,
			Identifier:  r.Identifier,
			Description: r.Description,
			Severity:    r.Severity,
			AgentID:     r.AgentID,
			Status:      r.Status,
			Details:     details,
			DetectedAt:  time.Unix(0, r.DetectedAt).UTC(),
		}
		if r.ResolvedAt.Valid {
			t := time.Unix(0, r.ResolvedAt.Int64).UTC()
			is.ResolvedAt = &t
		}
		out = append(out, is)
	}
	return out, nil
}

// ResolveIssue marks an issue resolved at the given time.
func (s *Store) ResolveIssue(ctx context.Context, id int64, at time.Time) error {
	query := s.db.Rebind(`UPDATE issues SET status = ?, resolved_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, IssueResolved, at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("resolve issue: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	return nil
}

// SaveOptimizations stores proposals in one transaction.
func (s *Store) SaveOptimizations(ctx context.Context, opts []Optimization) error {
	if len(opts) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for i := range opts {
			o := &opts[i]
			if o.ProposedAt.IsZero() {
				o.ProposedAt = time.Now().UTC()
			}
			details, err := encodeDetails(o.Details)
			if err != nil {
				return err
			}
			id, err := s.insertReturningID(ctx, tx,
				`INSERT INTO optimizations (identifier, description, confidence, agent_id, details, proposed_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				o.Identifier, o.Description, o.Confidence, o.AgentID, details, o.ProposedAt.UnixNano())
			if err != nil {
				return fmt.Errorf("insert optimization: %w", err)
			}
			o.ID = id
		}
		return nil
	})
}

type optimizationRow struct {
	ID          int64   `db:"id"`
	Identifier  string  `db:"identifier"`
	Description string  `db:"description"`
	Confidence  float64 `db:"confidence"`
	AgentID     string  `db:"agent_id"`
	Details     string  `db:"details"`
	ProposedAt  int64   `db:"proposed_at"`
}

// Optimizations lists stored proposals for identifier, newest first.
func (s *Store) Optimizations(ctx context.Context, identifier string, limit int) ([]Optimization, error) {
	if limit <= 0 {
		limit = DefaultWindow
	}
	var raw []optimizationRow
	query := s.db.Rebind(`SELECT id, identifier, description, confidence, agent_id, details, proposed_at
		FROM optimizations WHERE identifier = ? ORDER BY proposed_at DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &raw, query, identifier, limit); err != nil {
		return nil, fmt.Errorf("select optimizations: %w", err)
	}
	out := make([]Optimization, 0, len(raw))
	for _, r := range raw {
		details, err := decodeDetails(r.Details)
		if err != nil {
			return nil, err
		}
		out = append(out, Optimization{
			ID:          r.ID,
			Identifier:  r.Identifier,
			Description: r.Description,
			Confidence:  r.Confidence,
			AgentID:     r.AgentID,
			Details:     details,
			ProposedAt:  time.Unix(0, r.ProposedAt).UTC(),
		})
	}
	return out, nil
}

// SaveSchema stores a schema snapshot for identifier.
func (s *Store) SaveSchema(ctx context.Context, identifier string, schema kernel.Schema, at time.Time) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	query := s.db.Rebind(`INSERT INTO schemas (identifier, schema, learned_at) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, identifier, string(data), at.UTC().UnixNano()); err != nil {
		return fmt.Errorf("insert schema: %w", err)
	}
	return nil
}

// LatestSchema returns the most recent snapshot, or ErrNotFound.
func (s *Store) LatestSchema(ctx context.Context, identifier string) (kernel.Schema, time.Time, error) {
	var raw struct {
		Schema    string `db:"schema"`
		LearnedAt int64  `db:"learned_at"`
	}
	query := s.db.Rebind(`SELECT schema, learned_at FROM schemas
		WHERE identifier = ? ORDER BY learned_at DESC, id DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &raw, query, identifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, fmt.Errorf("schema for %q: %w", identifier, ErrNotFound)
		}
		return nil, time.Time{}, fmt.Errorf("select schema: %w", err)
	}
	var schema kernel.Schema
	if err := json.Unmarshal([]byte(raw.Schema), &schema); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode schema: %w", err)
	}
	return schema, time.Unix(0, raw.LearnedAt).UTC(), nil
}

// insertReturningID runs an INSERT and returns the new row id. Postgres
// has no LastInsertId so the statement gets a RETURNING clause.
func (s *Store) insertReturningID(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (int64, error) {
	if s.driver == DriverPostgres {
		var id int64
		if err := tx.QueryRowxContext(ctx, tx.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeDetails(d map[string]any) (string, error) {
	if len(d) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode details: %w", err)
	}
	return string(data), nil
}

func decodeDetails(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var d map[string]any
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return d, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS dynamic_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		data TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dynamic_data_identifier_ts_agent ON dynamic_data (identifier, timestamp, agent_id)`,
	`CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
		agent_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'in_progress', 'resolved')),
		details TEXT NOT NULL DEFAULT '{}',
		detected_at INTEGER NOT NULL,
		resolved_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_identifier ON issues (identifier, detected_at)`,
	`CREATE TABLE IF NOT EXISTS optimizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT NOT NULL,
		description TEXT NOT NULL,
		confidence REAL NOT NULL,
		agent_id TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '{}',
		proposed_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_optimizations_identifier ON optimizations (identifier, proposed_at)`,
	`CREATE TABLE IF NOT EXISTS schemas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT NOT NULL,
		schema TEXT NOT NULL,
		learned_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schemas_identifier ON schemas (identifier, learned_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS dynamic_data (
		id BIGSERIAL PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		identifier VARCHAR(255) NOT NULL,
		data JSONB NOT NULL,
		agent_id VARCHAR(255) NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dynamic_data_identifier_ts_agent ON dynamic_data (identifier, timestamp, agent_id)`,
	`CREATE TABLE IF NOT EXISTS issues (
		id BIGSERIAL PRIMARY KEY,
		identifier VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		severity VARCHAR(16) NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
		agent_id VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'in_progress', 'resolved')),
		details JSONB NOT NULL DEFAULT '{}',
		detected_at BIGINT NOT NULL,
		resolved_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_identifier ON issues (identifier, detected_at)`,
	`CREATE TABLE IF NOT EXISTS optimizations (
		id BIGSERIAL PRIMARY KEY,
		identifier VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		agent_id VARCHAR(255) NOT NULL,
		details JSONB NOT NULL DEFAULT '{}',
		proposed_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_optimizations_identifier ON optimizations (identifier, proposed_at)`,
	`CREATE TABLE IF NOT EXISTS schemas (
		id BIGSERIAL PRIMARY KEY,
		identifier VARCHAR(255) NOT NULL,
		schema JSONB NOT NULL,
		learned_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schemas_identifier ON schemas (identifier, learned_at)`,
}
