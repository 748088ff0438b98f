package objtree

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// SQLite is a persistent Tree backed by a local SQLite database.
// Object descriptors and state values live in separate tables so value
// refreshes never touch descriptor rows.
type SQLite struct {
	db *sql.DB

	mu   sync.Mutex
	subs []*sqliteSub
}

type sqliteSub struct {
	pattern string
	ch      chan StateChange
}

// OpenSQLite opens (or creates) the database and initializes the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS objects (
			path TEXT PRIMARY KEY,
			descriptor TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create objects table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS states (
			path TEXT PRIMARY KEY,
			value TEXT,
			ack INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create states table: %w", err)
	}

	return nil
}

// GetObject returns the descriptor at path, or nil when absent.
func (s *SQLite) GetObject(path string) (*Descriptor, error) {
	var raw string
	err := s.db.QueryRow(`SELECT descriptor FROM objects WHERE path = ?`, path).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	var desc Descriptor
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor: %w", err)
	}
	return &desc, nil
}

// SetObjectIfMissing creates the object when absent.
func (s *SQLite) SetObjectIfMissing(path string, desc Descriptor) (bool, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return false, fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	now := time.Now().UTC().Unix()
	res, err := s.db.Exec(`
		INSERT INTO objects (path, descriptor, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO NOTHING
	`, path, string(raw), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to create object: %w", err)
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ExtendObject overwrites the descriptor at path, creating it if needed.
func (s *SQLite) ExtendObject(path string, desc Descriptor) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	now := time.Now().UTC().Unix()
	_, err = s.db.Exec(`
		INSERT INTO objects (path, descriptor, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			descriptor = excluded.descriptor,
			updated_at = excluded.updated_at
	`, path, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("failed to extend object: %w", err)
	}

	log.Debug().Str("path", path).Msg("Object extended")
	return nil
}

// GetState returns the current value at path, or nil when unset.
func (s *SQLite) GetState(path string) (any, error) {
	var raw sql.NullString
	err := s.db.QueryRow(`SELECT value FROM states WHERE path = ?`, path).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}

	var value any
	if err := json.Unmarshal([]byte(raw.String), &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return value, nil
}

// SetState writes a value and notifies matching subscribers.
func (s *SQLite) SetState(path string, value any, ack bool) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	now := time.Now().UTC().Unix()
	ackInt := 0
	if ack {
		ackInt = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO states (path, value, ack, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			value = excluded.value,
			ack = excluded.ack,
			updated_at = excluded.updated_at
	`, path, string(raw), ackInt, now)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}

	s.notify(StateChange{Path: path, Value: value, Ack: ack})
	return nil
}

func (s *SQLite) notify(change StateChange) {
	s.mu.Lock()
	subs := make([]*sqliteSub, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		if MatchPattern(sub.pattern, change.Path) {
			select {
			case sub.ch <- change:
			default:
				log.Warn().Str("path", change.Path).Msg("State subscriber queue full, dropping change")
			}
		}
	}
}

// SubscribeStates delivers changes for paths matching pattern.
func (s *SQLite) SubscribeStates(pattern string) (<-chan StateChange, error) {
	sub := &sqliteSub{pattern: pattern, ch: make(chan StateChange, 64)}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return sub.ch, nil
}

// Close closes subscriber channels and the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	for _, sub := range s.subs {
		close(sub.ch)
	}
	s.subs = nil
	s.mu.Unlock()

	return s.db.Close()
}
