package network

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupUntilUnregister(t *testing.T) {
	r := NewRegistry()
	alice := &Session{}

	require.NoError(t, r.Register("alice", alice))

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, alice, got)

	assert.True(t, r.Unregister("alice"))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)

	assert.False(t, r.Unregister("alice"), "second unregister is a no-op")
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("alice", &Session{}))

	err := r.Register("alice", &Session{})
	var dup *DuplicateUserError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "alice", dup.Username)
}

func TestRegistryUnregisterSessionKeepsNewerLogin(t *testing.T) {
	r := NewRegistry()
	old, current := &Session{}, &Session{}

	require.NoError(t, r.Register("alice", current))
	assert.False(t, r.UnregisterSession("alice", old))

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, current, got)

	assert.True(t, r.UnregisterSession("alice", current))
	assert.Equal(t, 0, r.Len())
}

func TestRegistrySnapshotOthers(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, r.Register(name, &Session{}))
	}

	others := r.SnapshotOthers("alice")
	assert.Equal(t, []string{"bob", "carol"}, others)
	assert.NotContains(t, others, "alice")

	others[0] = "mallory"
	assert.Equal(t, []string{"bob", "carol"}, r.SnapshotOthers("alice"), "snapshot is an independent copy")

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Usernames())
	assert.Len(t, r.SessionsExcept("bob"), 2)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("user-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := &Session{}
			if r.Register(name, s) == nil {
				r.SnapshotOthers(name)
				r.UnregisterSession(name, s)
			}
		}()
		go func() {
			defer wg.Done()
			r.Lookup(name)
			r.SessionsExcept(name)
		}()
	}

	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
