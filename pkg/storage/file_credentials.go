package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
)

// FileCredentialStore keeps credentials in a text file, one `name#secret`
// entry per line. The file is read in full when the store is opened and
// appended to for every new user.
type FileCredentialStore struct {
	path  string
	mu    sync.RWMutex
	users map[string]string
}

// NewFileCredentialStore loads the credential file at path. A missing file is
// an empty store; its directory is created so the first append succeeds.
func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	store := &FileCredentialStore{
		path:  path,
		users: make(map[string]string),
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, oops.In("storage").With("path", path).Wrapf(err, "create credential directory")
		}
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"path":  path,
		"users": len(store.users),
	}).Info("Loaded known user credentials")

	return store, nil
}

func (s *FileCredentialStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return oops.In("storage").With("path", s.path).Wrapf(err, "open credential file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" {
			continue
		}

		name, secret, ok := strings.Cut(text, "#")
		if !ok || name == "" {
			log.WithFields(log.Fields{
				"path": s.path,
				"line": line,
			}).Warn("Skipping malformed credential entry")
			continue
		}
		s.users[name] = secret
	}

	if err := scanner.Err(); err != nil {
		return oops.In("storage").With("path", s.path).Wrapf(err, "read credential file")
	}
	return nil
}

// Verify checks a secret against the stored one
func (s *FileCredentialStore) Verify(name, secret string) (bool, error) {
	s.mu.RLock()
	stored, ok := s.users[name]
	s.mu.RUnlock()

	if !ok {
		return false, ErrUnknownUser
	}
	return secretsEqual(stored, secret), nil
}

// PersistNewUser appends a user to the credential file
func (s *FileCredentialStore) PersistNewUser(name, secret string) error {
	if err := validateCredentials(name, secret); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[name]; exists {
		return ErrUserExists
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return oops.In("storage").With("path", s.path).Wrapf(err, "open credential file for append")
	}

	if _, err := fmt.Fprintf(f, "%s#%s\n", name, secret); err != nil {
		f.Close()
		return oops.In("storage").With("path", s.path).Wrapf(err, "append credential entry")
	}
	if err := f.Close(); err != nil {
		return oops.In("storage").With("path", s.path).Wrapf(err, "close credential file")
	}

	s.users[name] = secret

	log.WithField("username", name).Info("Saved new user credentials")
	return nil
}

// Close is a no-op; the file is only held open while appending
func (s *FileCredentialStore) Close() error {
	return nil
}
