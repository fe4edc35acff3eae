package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"castd/pkg/receiver"
	"castd/pkg/session"
)

// Common errors
var (
	ErrUnsupportedURL = errors.New("unsupported journal url")
)

const defaultLimit = 50

// ReceiverEvent is one row of receiver_events
type ReceiverEvent struct {
	ID         int64     `db:"id" json:"id"`
	Event      string    `db:"event" json:"event"`
	Address    string    `db:"address" json:"address"`
	Port       int       `db:"port" json:"port"`
	Name       string    `db:"name" json:"name"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// SessionRow is one row of session_history
type SessionRow struct {
	ID        int64     `db:"id" json:"id"`
	Handle    string    `db:"handle" json:"handle"`
	ClientID  string    `db:"client_id" json:"client_id"`
	State     string    `db:"state" json:"state"`
	Name      string    `db:"name" json:"name"`
	MimeType  string    `db:"mime_type" json:"mime_type"`
	Category  string    `db:"category" json:"category"`
	Receiver  string    `db:"receiver" json:"receiver"`
	Declared  int64     `db:"declared" json:"declared"`
	Received  int64     `db:"received" json:"received"`
	Forwarded int64     `db:"forwarded" json:"forwarded"`
	Error     string    `db:"error" json:"error,omitempty"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	EndedAt   time.Time `db:"ended_at" json:"ended_at"`
}

// Journal stores receiver and session history. A nil *Journal is a valid
// disabled journal: every method is a no-op.
type Journal struct {
	db     *sqlx.DB
	driver string
}

// Open connects to sqlite://path or postgres://... and creates the tables.
// An empty url returns a nil (disabled) journal.
func Open(url string) (*Journal, error) {
	if url == "" {
		slog.Info("Journal disabled")
		return nil, nil
	}

	driver, dsn, err := parseURL(url)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if driver == "sqlite3" {
		// sqlite는 단일 커넥션 (:memory: DB가 커넥션마다 분리되는 문제 방지)
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{db: db, driver: driver}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Journal opened", "driver", driver)
	return j, nil
}

func parseURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasPrefix(url, "sqlite3://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite3://"), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, url)
	}
}

func (j *Journal) migrate() error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if j.driver == "postgres" {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS receiver_events (
			id ` + idColumn + `,
			event VARCHAR(16) NOT NULL,
			address VARCHAR(64) NOT NULL,
			port INTEGER NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_history (
			id ` + idColumn + `,
			handle VARCHAR(64) NOT NULL,
			client_id VARCHAR(255) NOT NULL,
			state VARCHAR(16) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			mime_type VARCHAR(128) NOT NULL DEFAULT '',
			category VARCHAR(16) NOT NULL DEFAULT '',
			receiver VARCHAR(80) NOT NULL DEFAULT '',
			declared BIGINT NOT NULL DEFAULT 0,
			received BIGINT NOT NULL DEFAULT 0,
			forwarded BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// RecordReceiver appends a receiver lifecycle event
func (j *Journal) RecordReceiver(ctx context.Context, event string, r receiver.Receiver) error {
	if j == nil {
		return nil
	}

	query := j.db.Rebind(`
		INSERT INTO receiver_events (event, address, port, name, recorded_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := j.db.ExecContext(ctx, query, event, r.Address, int(r.Port), r.Name, time.Now().UTC())
	return err
}

// RecordSession appends the final outcome of a session
func (j *Journal) RecordSession(ctx context.Context, r session.Record) error {
	if j == nil {
		return nil
	}

	query := j.db.Rebind(`
		INSERT INTO session_history (handle, client_id, state, name, mime_type, category,
			receiver, declared, received, forwarded, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := j.db.ExecContext(ctx, query,
		r.Handle, r.ClientID, r.State, r.Name, r.MimeType, r.Category,
		r.Receiver, int64(r.Declared), int64(r.Received), int64(r.Forwarded), r.Error,
		r.StartedAt.UTC(), r.EndedAt.UTC())
	return err
}

// RecentSessions returns the newest session records first
func (j *Journal) RecentSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if j == nil {
		return []SessionRow{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	rows := []SessionRow{}
	query := j.db.Rebind(`
		SELECT id, handle, client_id, state, name, mime_type, category, receiver,
			declared, received, forwarded, error, started_at, ended_at
		FROM session_history ORDER BY id DESC LIMIT ?`)
	if err := j.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

// ReceiverEvents returns the newest receiver events first
func (j *Journal) ReceiverEvents(ctx context.Context, limit int) ([]ReceiverEvent, error) {
	if j == nil {
		return []ReceiverEvent{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	events := []ReceiverEvent{}
	query := j.db.Rebind(`
		SELECT id, event, address, port, name, recorded_at
		FROM receiver_events ORDER BY id DESC LIMIT ?`)
	if err := j.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, err
	}
	return events, nil
}

// Close closes the database
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
