package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]CredentialStore {
	t.Helper()
	dir := t.TempDir()

	file, err := Open(BackendFile, filepath.Join(dir, "server_data", "user_details.txt"))
	require.NoError(t, err)
	db, err := Open(BackendSQLite, filepath.Join(dir, "users.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		file.Close()
		db.Close()
	})

	return map[string]CredentialStore{
		BackendFile:   file,
		BackendSQLite: db,
	}
}

func TestCredentialStoreLifecycle(t *testing.T) {
	for backend, store := range openBackends(t) {
		t.Run(backend, func(t *testing.T) {
			_, err := store.Verify("alice", "pw1")
			assert.ErrorIs(t, err, ErrUnknownUser)

			require.NoError(t, store.PersistNewUser("alice", "pw1"))

			ok, err := store.Verify("alice", "pw1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.Verify("alice", "wrong")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.ErrorIs(t, store.PersistNewUser("alice", "other"), ErrUserExists)
		})
	}
}

func TestCredentialStoreRejectsUnrepresentableValues(t *testing.T) {
	for backend, store := range openBackends(t) {
		t.Run(backend, func(t *testing.T) {
			assert.ErrorIs(t, store.PersistNewUser("", "pw"), ErrInvalidName)
			assert.ErrorIs(t, store.PersistNewUser("a#b", "pw"), ErrInvalidName)
			assert.ErrorIs(t, store.PersistNewUser("bob", "pw\nmallory#x"), ErrInvalidSecret)
		})
	}
}

func TestFileCredentialStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_details.txt")

	store, err := NewFileCredentialStore(path)
	require.NoError(t, err)
	require.NoError(t, store.PersistNewUser("alice", "pw1"))
	require.NoError(t, store.PersistNewUser("bob", "pw#2"))
	require.NoError(t, store.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alice#pw1\nbob#pw#2\n", string(data))

	reopened, err := NewFileCredentialStore(path)
	require.NoError(t, err)

	ok, err := reopened.Verify("bob", "pw#2")
	require.NoError(t, err)
	assert.True(t, ok, "secret may contain the separator")
}

func TestFileCredentialStoreSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_details.txt")
	require.NoError(t, os.WriteFile(path, []byte("alice#pw1\r\n\nnoseparator\n#nameless\ncarol#\n"), 0o600))

	store, err := NewFileCredentialStore(path)
	require.NoError(t, err)

	ok, err := store.Verify("alice", "pw1")
	require.NoError(t, err)
	assert.True(t, ok, "CRLF line endings are tolerated")

	_, err = store.Verify("noseparator", "")
	assert.ErrorIs(t, err, ErrUnknownUser)

	ok, err = store.Verify("carol", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteCredentialStoreCount(t *testing.T) {
	store, err := NewSQLiteCredentialStore(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PersistNewUser("alice", "pw1"))
	require.NoError(t, store.PersistNewUser("bob", "pw2"))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
