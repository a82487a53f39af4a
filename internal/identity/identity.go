// Package identity persists the device's last-known seat so a reopened or
// refreshed client can resume it. Three fixed keys, unlimited retention,
// overwritten but never deleted.
package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	keyCode = "previousCode"
	keyID   = "previousId"
	keyName = "previousName"
)

// Identity is what a join request carries. ParticipantID is nil on a fresh
// join; the server allocates a seat. Name rides along regardless of room so
// a returning player keeps their name across rooms.
type Identity struct {
	RoomCode      string
	ParticipantID *int
	Name          string
}

// Resume reports whether this identity re-attaches an existing seat.
func (id Identity) Resume() bool { return id.ParticipantID != nil }

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the identity database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("identity path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS identity (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init identity schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Load decides resume versus fresh join for the requested room. The stored
// participant id is returned only when the stored room code matches; the
// stored name is returned either way.
func (s *Store) Load(code string) (Identity, error) {
	id := Identity{RoomCode: code}

	name, err := s.get(keyName)
	if err != nil {
		return Identity{}, err
	}
	id.Name = name

	prevCode, err := s.get(keyCode)
	if err != nil {
		return Identity{}, err
	}
	if prevCode != code {
		return id, nil
	}

	raw, err := s.get(keyID)
	if err != nil {
		return Identity{}, err
	}
	if raw == "" {
		return id, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// A corrupt id downgrades to a fresh join rather than failing the load.
		return id, nil
	}
	id.ParticipantID = &n
	return id, nil
}

// SetSeat records a server-confirmed seat. Called only after an update
// carries our assigned id, never speculatively.
func (s *Store) SetSeat(code string, participantID int) error {
	if err := s.set(keyCode, code); err != nil {
		return err
	}
	return s.set(keyID, strconv.Itoa(participantID))
}

// SetName records the entered name at submission time. This one write is
// optimistic on purpose: it only seeds the next visit's name field and
// never gates a transition.
func (s *Store) SetName(name string) error {
	return s.set(keyName, name)
}

func (s *Store) get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM identity WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO identity (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
