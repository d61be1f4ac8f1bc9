package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/talkrelay/pkg/protocol"
	"github.com/ZentaChain/talkrelay/pkg/storage"
)

const waitFor = 2 * time.Second

// memCredentials is an in-memory CredentialStore
type memCredentials struct {
	mu         sync.Mutex
	users      map[string]string
	verifyErr  error
	persistErr error
}

func newMemCredentials(pairs ...string) *memCredentials {
	m := &memCredentials{users: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		m.users[pairs[i]] = pairs[i+1]
	}
	return m
}

func (m *memCredentials) Verify(name, secret string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.verifyErr != nil {
		return false, m.verifyErr
	}
	stored, ok := m.users[name]
	if !ok {
		return false, storage.ErrUnknownUser
	}
	return stored == secret, nil
}

func (m *memCredentials) PersistNewUser(name, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.persistErr != nil {
		return m.persistErr
	}
	if _, ok := m.users[name]; ok {
		return storage.ErrUserExists
	}
	m.users[name] = secret
	return nil
}

func (m *memCredentials) Close() error { return nil }

func (m *memCredentials) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[name]
	return ok
}

// pipeSession returns a named session and the far end of its stream
func pipeSession(t *testing.T, name string) (*Session, net.Conn) {
	t.Helper()
	near, far := net.Pipe()
	s := newSession(NewStream(near), 8)
	s.setUsername(name)
	t.Cleanup(func() {
		s.abort()
		far.Close()
	})
	return s, far
}

func recvFrom(t *testing.T, conn net.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	env, err := protocol.ReadEnvelope(conn)
	require.NoError(t, err)
	return env
}

func expectSilence(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	env, err := protocol.ReadEnvelope(conn)
	var netErr net.Error
	if assert.ErrorAs(t, err, &netErr, "unexpected %s", env.Kind()) {
		assert.True(t, netErr.Timeout())
	}
}

func startRelay(t *testing.T, creds storage.CredentialStore) (*RelayServer, string) {
	t.Helper()

	rs := NewRelayServer(RelayConfig{}, creds)
	l, err := ListenTCP("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, rs.Serve(l))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rs.Stop(ctx)
	})
	return rs, l.Addr()
}

// rawPeer speaks the wire protocol directly
type rawPeer struct {
	t    *testing.T
	conn net.Conn
}

func dialPeer(t *testing.T, addr string) *rawPeer {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawPeer{t: t, conn: conn}
}

func (p *rawPeer) send(kind protocol.Kind, sender, recipient string, payload protocol.Payload) {
	p.t.Helper()
	env, err := protocol.New(kind, sender, recipient, payload)
	require.NoError(p.t, err)
	require.NoError(p.t, protocol.WriteEnvelope(p.conn, env))
}

func (p *rawPeer) recv() protocol.Envelope {
	p.t.Helper()
	return recvFrom(p.t, p.conn)
}

func (p *rawPeer) silent(d time.Duration) {
	p.t.Helper()
	expectSilence(p.t, p.conn, d)
}

func (p *rawPeer) login(name, secret string) bool {
	p.t.Helper()
	p.send(protocol.KindRegistrationRequest, name, protocol.ServerName, protocol.Text(secret))
	env := p.recv()
	require.Equal(p.t, protocol.KindRegistrationResponse, env.Kind())
	accepted, ok := env.Bool()
	require.True(p.t, ok)
	return accepted
}
