package storage

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
)

// SQLiteCredentialStore keeps credentials in a sqlite database
type SQLiteCredentialStore struct {
	db *sql.DB
}

// NewSQLiteCredentialStore opens (or creates) the credential database at dbPath
func NewSQLiteCredentialStore(dbPath string) (*SQLiteCredentialStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, oops.In("storage").With("path", dbPath).Wrapf(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, oops.In("storage").With("path", dbPath).Wrapf(err, "open database")
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, oops.In("storage").With("path", dbPath).Wrapf(err, "enable WAL mode")
	}

	store := &SQLiteCredentialStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("path", dbPath).Info("Opened credential database")
	return store, nil
}

// initSchema creates database tables
func (s *SQLiteCredentialStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		secret TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return oops.In("storage").Wrapf(err, "create schema")
	}
	return nil
}

// Verify checks a secret against the stored one
func (s *SQLiteCredentialStore) Verify(name, secret string) (bool, error) {
	var stored string
	err := s.db.QueryRow(`SELECT secret FROM users WHERE username = ?`, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrUnknownUser
	}
	if err != nil {
		return false, oops.In("storage").With("username", name).Wrapf(err, "query user")
	}
	return secretsEqual(stored, secret), nil
}

// PersistNewUser inserts a first-seen user
func (s *SQLiteCredentialStore) PersistNewUser(name, secret string) error {
	if err := validateCredentials(name, secret); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO users (username, secret, created_at) VALUES (?, ?, ?)`,
		name, secret, time.Now().Unix(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrUserExists
		}
		return oops.In("storage").With("username", name).Wrapf(err, "insert user")
	}

	log.WithField("username", name).Info("Saved new user credentials")
	return nil
}

// Count returns the number of known users
func (s *SQLiteCredentialStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, oops.In("storage").Wrapf(err, "count users")
	}
	return n, nil
}

// Close closes the database connection
func (s *SQLiteCredentialStore) Close() error {
	return s.db.Close()
}
