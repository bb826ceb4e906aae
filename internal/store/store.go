// Package store persists block records and per-address history, tags and
// comments in an embedded, pure-Go SQLite database.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/wardline/wardline/internal/clock"
	"github.com/wardline/wardline/internal/firewall"
)

// init registers SQL scalar time functions that resolve through
// clock.Now() instead of wall time, so a test using a MockClock also
// controls "now" as seen from inside SQL (e.g. an expiry comparison
// expressed as datetime('now')).
func init() {
	_ = sqlite.RegisterScalarFunction("datetime", -1, datetimeFunc)
	_ = sqlite.RegisterScalarFunction("date", -1, dateFunc)
	_ = sqlite.RegisterScalarFunction("time", -1, timeFunc)
}

func datetimeFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) == 0 {
		return clock.Now().UTC().Format("2006-01-02 15:04:05"), nil
	}
	if s, ok := args[0].(string); ok && strings.ToLower(s) == "now" {
		return clock.Now().UTC().Format("2006-01-02 15:04:05"), nil
	}
	return args[0], nil
}

func dateFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) == 0 {
		return clock.Now().UTC().Format("2006-01-02"), nil
	}
	if s, ok := args[0].(string); ok && strings.ToLower(s) == "now" {
		return clock.Now().UTC().Format("2006-01-02"), nil
	}
	return args[0], nil
}

func timeFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) == 0 {
		return clock.Now().UTC().Format("15:04:05"), nil
	}
	if s, ok := args[0].(string); ok && strings.ToLower(s) == "now" {
		return clock.Now().UTC().Format("15:04:05"), nil
	}
	return args[0], nil
}

// Sentinel errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyBlocked = errors.New("address already blocked")
)

const timeLayout = time.RFC3339

// BlockRecord mirrors a row in blocked_ips.
type BlockRecord struct {
	Address          string
	BlockedAt        time.Time
	DurationSeconds  int
	ScheduledUnblock time.Time
}

// HistoryEvent mirrors a row in ip_history.
type HistoryEvent struct {
	AddressID string
	Time      time.Time
	Message   string
}

// Comment mirrors a row in ip_comments.
type Comment struct {
	AddressID string
	Time      time.Time
	Comment   string
}

// Stats summarizes the store's contents.
type Stats struct {
	Total       int
	RecentFails int
	LastSeen    time.Time
}

// Store wraps a SQLite database. Writers are serialized by an internal
// mutex around transaction use; reads go through the pool directly.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	retry firewall.RetryConfig
}

// Open opens (creating if necessary) a SQLite database at path and
// ensures the schema exists. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	s := &Store{db: db, retry: firewall.DefaultRetryConfig()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS blocked_ips (
		address TEXT PRIMARY KEY,
		blocked_at TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		scheduled_unblock TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ip_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address_id TEXT NOT NULL,
		time TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ip_history_address ON ip_history(address_id);
	CREATE TABLE IF NOT EXISTS ip_tags (
		address_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		UNIQUE(address_id, tag)
	);
	CREATE TABLE IF NOT EXISTS ip_comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address_id TEXT NOT NULL,
		time TEXT NOT NULL,
		comment TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ip_comments_address ON ip_comments(address_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteTx runs fn inside a transaction, serialized by s.mu and
// retried per s.retry (by default up to 3 attempts on any error).
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return firewall.Retry(ctx, s.retry, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// UpsertBlock inserts or replaces a BlockRecord for rec.Address.
func (s *Store) UpsertBlock(ctx context.Context, rec BlockRecord) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO blocked_ips (address, blocked_at, duration_seconds, scheduled_unblock)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				blocked_at = excluded.blocked_at,
				duration_seconds = excluded.duration_seconds,
				scheduled_unblock = excluded.scheduled_unblock
		`, rec.Address, rec.BlockedAt.UTC().Format(timeLayout), rec.DurationSeconds, rec.ScheduledUnblock.UTC().Format(timeLayout))
		return err
	})
}

// DeleteBlock removes the BlockRecord for address, if any.
func (s *Store) DeleteBlock(ctx context.Context, address string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM blocked_ips WHERE address = ?`, address)
		return err
	})
}

// GetBlock returns the BlockRecord for address, or ErrNotFound.
func (s *Store) GetBlock(ctx context.Context, address string) (BlockRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, blocked_at, duration_seconds, scheduled_unblock
		FROM blocked_ips WHERE address = ?
	`, address)
	rec, err := scanBlockRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BlockRecord{}, ErrNotFound
	}
	return rec, err
}

// ListBlocks returns every BlockRecord currently stored.
func (s *Store) ListBlocks(ctx context.Context) ([]BlockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, blocked_at, duration_seconds, scheduled_unblock
		FROM blocked_ips ORDER BY blocked_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlockRecord
	for rows.Next() {
		rec, err := scanBlockRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RemoveAllExpired deletes and returns every BlockRecord whose
// scheduled_unblock is at or before now.
func (s *Store) RemoveAllExpired(ctx context.Context, now time.Time) ([]BlockRecord, error) {
	var expired []BlockRecord
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT address, blocked_at, duration_seconds, scheduled_unblock
			FROM blocked_ips WHERE scheduled_unblock <= ?
		`, now.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		for rows.Next() {
			rec, err := scanBlockRecord(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, rec := range expired {
			if _, err := tx.ExecContext(ctx, `DELETE FROM blocked_ips WHERE address = ?`, rec.Address); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlockRecord(row rowScanner) (BlockRecord, error) {
	var rec BlockRecord
	var blockedAt, scheduledUnblock string
	if err := row.Scan(&rec.Address, &blockedAt, &rec.DurationSeconds, &scheduledUnblock); err != nil {
		return BlockRecord{}, err
	}
	var err error
	rec.BlockedAt, err = time.Parse(timeLayout, blockedAt)
	if err != nil {
		return BlockRecord{}, fmt.Errorf("parse blocked_at: %w", err)
	}
	rec.ScheduledUnblock, err = time.Parse(timeLayout, scheduledUnblock)
	if err != nil {
		return BlockRecord{}, fmt.Errorf("parse scheduled_unblock: %w", err)
	}
	return rec, nil
}

// InsertHistory appends a HistoryEvent for addressID.
func (s *Store) InsertHistory(ctx context.Context, addressID string, at time.Time, message string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ip_history (address_id, time, message) VALUES (?, ?, ?)
		`, addressID, at.UTC().Format(timeLayout), message)
		return err
	})
}

// ListHistory returns every HistoryEvent for addressID, oldest first.
func (s *Store) ListHistory(ctx context.Context, addressID string) ([]HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address_id, time, message FROM ip_history
		WHERE address_id = ? ORDER BY time
	`, addressID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEvent
	for rows.Next() {
		var ev HistoryEvent
		var t string
		if err := rows.Scan(&ev.AddressID, &t, &ev.Message); err != nil {
			return nil, err
		}
		ev.Time, err = time.Parse(timeLayout, t)
		if err != nil {
			return nil, fmt.Errorf("parse history time: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InsertTag adds tag to addressID's tag set. Adding a tag already
// present is a no-op, not an error.
func (s *Store) InsertTag(ctx context.Context, addressID, tag string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO ip_tags (address_id, tag) VALUES (?, ?)
		`, addressID, tag)
		return err
	})
}

// DeleteTag removes tag from addressID's tag set, if present.
func (s *Store) DeleteTag(ctx context.Context, addressID, tag string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM ip_tags WHERE address_id = ? AND tag = ?
		`, addressID, tag)
		return err
	})
}

// ListTags returns addressID's tags.
func (s *Store) ListTags(ctx context.Context, addressID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM ip_tags WHERE address_id = ? ORDER BY tag
	`, addressID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// InsertComment appends a Comment for addressID.
func (s *Store) InsertComment(ctx context.Context, addressID string, at time.Time, comment string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ip_comments (address_id, time, comment) VALUES (?, ?, ?)
		`, addressID, at.UTC().Format(timeLayout), comment)
		return err
	})
}

// ListComments returns every Comment for addressID, oldest first.
func (s *Store) ListComments(ctx context.Context, addressID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address_id, time, comment FROM ip_comments
		WHERE address_id = ? ORDER BY time
	`, addressID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		var t string
		if err := rows.Scan(&c.AddressID, &t, &c.Comment); err != nil {
			return nil, err
		}
		c.Time, err = time.Parse(timeLayout, t)
		if err != nil {
			return nil, fmt.Errorf("parse comment time: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetStats summarizes the store's contents: total block count, the
// number of ip_history rows whose message mentions "fail"
// case-insensitively, and the most recent history timestamp.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocked_ips`).Scan(&stats.Total); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ip_history WHERE message LIKE '%fail%' COLLATE NOCASE
	`).Scan(&stats.RecentFails); err != nil {
		return Stats{}, err
	}

	var lastSeen sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(time) FROM ip_history`).Scan(&lastSeen); err != nil {
		return Stats{}, err
	}
	if lastSeen.Valid {
		t, err := time.Parse(timeLayout, lastSeen.String)
		if err != nil {
			return Stats{}, fmt.Errorf("parse last_seen: %w", err)
		}
		stats.LastSeen = t
	}

	return stats, nil
}
