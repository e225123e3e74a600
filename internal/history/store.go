// Package history persists where replay sessions have been, so the last
// location of a session can be listed and resumed.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNoEntry = errors.New("history: no entry")

// Entry is one history row.
type Entry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Collection string    `json:"collection"`
	URL        string    `json:"url"`
	Timestamp  string    `json:"ts"`
	Title      string    `json:"title,omitempty"`
	Visits     int       `json:"visits"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store manages the history database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// NewStore creates or opens the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		url TEXT NOT NULL,
		ts TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		visits INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_updated ON entries(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a location for a session. With replace set, the session's
// current entry is rewritten in place instead of a new one being pushed;
// a session with no entry yet always gets a new one.
func (s *Store) Record(ctx context.Context, sessionID, collection, url, ts string, replace bool) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if replace {
		current, err := s.currentLocked(ctx, sessionID)
		switch {
		case err == nil:
			visits := current.Visits
			if current.URL != url || current.Timestamp != ts {
				visits++
			}
			_, err := s.db.ExecContext(ctx,
				`UPDATE entries SET collection = ?, url = ?, ts = ?, visits = ?, updated_at = ? WHERE id = ?`,
				collection, url, ts, visits, now.UnixNano(), current.ID)
			if err != nil {
				return Entry{}, fmt.Errorf("failed to update entry: %w", err)
			}
			current.Collection, current.URL, current.Timestamp = collection, url, ts
			current.Visits = visits
			current.UpdatedAt = now
			return current, nil
		case !errors.Is(err, ErrNoEntry):
			return Entry{}, err
		}
	}

	e := Entry{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Collection: collection,
		URL:        url,
		Timestamp:  ts,
		Visits:     1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, session_id, collection, url, ts, title, visits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, '', 1, ?, ?)`,
		e.ID, e.SessionID, e.Collection, e.URL, e.Timestamp, now.UnixNano(), now.UnixNano())
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert entry: %w", err)
	}
	return e, nil
}

// SetTitle sets the title of a session's current entry.
func (s *Store) SetTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.currentLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE entries SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UnixNano(), current.ID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return nil
}

// Current returns a session's current entry.
func (s *Store) Current(ctx context.Context, sessionID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(ctx, sessionID)
}

func (s *Store) currentLocked(ctx context.Context, sessionID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, sessionID)
	return scanEntry(row)
}

// Latest returns the most recently updated entry across sessions.
func (s *Store) Latest(ctx context.Context) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, selectEntry+` ORDER BY updated_at DESC, seq DESC LIMIT 1`)
	return scanEntry(row)
}

// List returns entries, most recently updated first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := selectEntry + ` ORDER BY updated_at DESC, seq DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const selectEntry = `SELECT id, session_id, collection, url, ts, title, visits, created_at, updated_at FROM entries`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                Entry
		created, updated int64
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.Collection, &e.URL, &e.Timestamp, &e.Title, &e.Visits, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNoEntry
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	e.UpdatedAt = time.Unix(0, updated).UTC()
	return e, nil
}
