package heapdump

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrSnapshotNotFound indicates the requested snapshot doesn't exist
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store keeps heap snapshots in a SQLite database, keyed by snapshot ID.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// StoreEntry describes one stored snapshot without its payload.
type StoreEntry struct {
	ID        string
	CreatedAt time.Time
	Objects   int
	Bytes     int
}

// OpenStore opens (creating if needed) a snapshot database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		object_count INTEGER NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save writes a snapshot, replacing any existing row with the same ID.
func (s *Store) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO snapshots (id, created_at, object_count, data) VALUES (?, ?, ?, ?)",
		snap.ID, snap.CreatedAt.Format(time.RFC3339Nano), len(snap.Objects), data,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Load reads a snapshot by ID.
func (s *Store) Load(id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM snapshots WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", id, err)
	}
	return Unmarshal(data)
}

// List returns metadata for all stored snapshots, newest first.
func (s *Store) List() ([]StoreEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT id, created_at, object_count, length(data) FROM snapshots ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var entries []StoreEntry
	for rows.Next() {
		var e StoreEntry
		var created string
		if err := rows.Scan(&e.ID, &created, &e.Objects, &e.Bytes); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a snapshot by ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}
