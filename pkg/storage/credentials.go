package storage

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/samber/oops"
)

var (
	ErrUnknownUser    = errors.New("unknown user")
	ErrUserExists     = errors.New("user already exists")
	ErrInvalidName    = errors.New("invalid username")
	ErrInvalidSecret  = errors.New("invalid secret")
	ErrUnknownBackend = errors.New("unknown credential backend")
)

// Credential backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// CredentialStore is the flat username -> secret mapping the relay
// authenticates against.
type CredentialStore interface {
	// Verify reports whether secret matches the stored secret for name.
	// It returns ErrUnknownUser when name has never been seen.
	Verify(name, secret string) (bool, error)

	// PersistNewUser records a first-seen user.
	PersistNewUser(name, secret string) error

	// Close releases the backing resources.
	Close() error
}

// Open creates the credential store for the configured backend
func Open(backend, path string) (CredentialStore, error) {
	switch backend {
	case BackendFile, "":
		return NewFileCredentialStore(path)
	case BackendSQLite:
		return NewSQLiteCredentialStore(path)
	default:
		return nil, oops.In("storage").With("backend", backend).Wrapf(ErrUnknownBackend, "open credential store")
	}
}

// validateCredentials rejects values the flat file format cannot represent.
func validateCredentials(name, secret string) error {
	if name == "" || strings.ContainsAny(name, "#\r\n") {
		return ErrInvalidName
	}
	if strings.ContainsAny(secret, "\r\n") {
		return ErrInvalidSecret
	}
	return nil
}

func secretsEqual(stored, given string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
