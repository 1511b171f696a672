// SPDX-License-Identifier: MIT

package faststore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "modernc.org/sqlite"             // SQLite driver (pure Go, no CGO)
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// SQL implements Store over SQLite or Postgres. Queries are written with '?'
// placeholders and rebound per driver; the handful of dialect differences sit
// behind small helpers.
type SQL struct {
	db      *sqlx.DB
	dialect dialect
	now     func() time.Time
}

// Open connects per driver ("sqlite" or "postgres"), applies pool settings
// and runs the idempotent schema. For SQLite the DSN is a file path; WAL mode
// and busy_timeout are enforced so concurrent readers do not see "database
// locked".
func Open(driver, dsn string) (*SQL, error) {
	var (
		db  *sqlx.DB
		d   dialect
		err error
	)

	switch driver {
	case "sqlite":
		d = dialectSQLite
		full := fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
			dsn,
		)
		db, err = sqlx.Open("sqlite", full)
	case "postgres":
		d = dialectPostgres
		db, err = sqlx.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQL{db: db, dialect: d, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

// HealthCheck reports whether the database responds.
func (s *SQL) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// serialPK is the only column type the dialects disagree on.
func (s *SQL) serialPK() string {
	if s.dialect == dialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY"
}

// greatestFn names the two-argument max function.
func (s *SQL) greatestFn() string {
	if s.dialect == dialectPostgres {
		return "GREATEST"
	}
	return "MAX"
}

// migrate runs the schema. Statements are individually idempotent and
// executed one at a time inside a transaction, which both drivers accept.
func (s *SQL) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			uuid TEXT PRIMARY KEY,
			crm_id TEXT NOT NULL DEFAULT '',
			mock_type TEXT NOT NULL,
			exam_date TEXT NOT NULL,
			start_time TEXT NOT NULL DEFAULT '',
			end_time TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			capacity INTEGER NOT NULL CHECK(capacity >= 1 AND capacity <= 100),
			total_bookings INTEGER NOT NULL DEFAULT 0 CHECK(total_bookings >= 0),
			is_active TEXT NOT NULL CHECK(is_active IN ('true', 'false', 'scheduled')),
			scheduled_activation TEXT,
			extra TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			synced_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state_activation
			ON sessions(is_active, scheduled_activation)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_search
			ON sessions(mock_type, is_active, exam_date)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			uuid TEXT PRIMARY KEY,
			crm_id TEXT NOT NULL DEFAULT '',
			booking_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			student_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			mock_type TEXT NOT NULL,
			exam_date TEXT NOT NULL,
			start_time TEXT NOT NULL DEFAULT '',
			end_time TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL CHECK(state IN ('Active', 'Cancelled', 'Completed')),
			attendance TEXT NOT NULL DEFAULT '',
			attending_location TEXT NOT NULL DEFAULT '',
			dominant_hand TEXT NOT NULL DEFAULT '',
			token_used TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL DEFAULT '',
			extra TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			synced_at TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_bookings_idem
			ON bookings(idempotency_key) WHERE idempotency_key <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_bookings_active
			ON bookings(session_id, contact_id) WHERE state = 'Active'`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_contact
			ON bookings(contact_id, state, exam_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_session
			ON bookings(session_id, state)`,

		`CREATE TABLE IF NOT EXISTS contacts (
			uuid TEXT PRIMARY KEY,
			crm_id TEXT NOT NULL DEFAULT '',
			student_id TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			credit_sj INTEGER NOT NULL DEFAULT 0,
			credit_cs INTEGER NOT NULL DEFAULT 0,
			credit_sjmini INTEGER NOT NULL DEFAULT 0,
			credit_mock_discussion INTEGER NOT NULL DEFAULT 0,
			credit_shared INTEGER NOT NULL DEFAULT 0,
			extra TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			synced_at TEXT
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS refund_repairs (
			id %s,
			booking_uuid TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			credit_field TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			next_attempt_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			resolved_at TEXT
		)`, s.serialPK()),
		`CREATE INDEX IF NOT EXISTS idx_repairs_due
			ON refund_repairs(next_attempt_at) WHERE resolved_at IS NULL`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return tx.Commit()
}

// --- shared row helpers ---

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(t), Valid: true}
}

func timeFromNull(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return parseTime(ns.String)
}

func encodeExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return "{}"
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeExtra(data string) map[string]string {
	if data == "" || data == "{}" {
		return nil
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(data), &extra); err != nil {
		return nil
	}
	return extra
}

var _ Store = (*SQL)(nil)
