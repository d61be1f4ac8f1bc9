package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/talkrelay/pkg/protocol"
)

func newTestDispatcher(t *testing.T, names ...string) (*Dispatcher, map[string]*Session, map[string]net.Conn) {
	t.Helper()
	registry := NewRegistry()
	sessions := make(map[string]*Session)
	conns := make(map[string]net.Conn)

	for _, name := range names {
		s, conn := pipeSession(t, name)
		require.NoError(t, registry.Register(name, s))
		sessions[name] = s
		conns[name] = conn
	}
	return NewDispatcher(registry, nil), sessions, conns
}

func TestForwardTextInOrder(t *testing.T) {
	d, _, conns := newTestDispatcher(t, "alice", "bob")

	for _, text := range []string{"m1", "m2"} {
		status := d.ForwardText(protocol.MustNew(protocol.KindTextDirectRequest, "alice", "bob", protocol.Text(text)))
		assert.Equal(t, StatusDelivered, status)
	}

	for _, want := range []string{"m1", "m2"} {
		env := recvFrom(t, conns["bob"])
		assert.Equal(t, protocol.KindTextDirectReceipt, env.Kind())
		assert.Equal(t, "alice", env.Sender())
		text, _ := env.Text()
		assert.Equal(t, want, text)
	}
	assert.Equal(t, uint64(2), d.Relayed())
}

func TestForwardToOfflineRecipient(t *testing.T) {
	d, _, conns := newTestDispatcher(t, "alice")

	assert.Equal(t, StatusRecipientOffline,
		d.ForwardText(protocol.MustNew(protocol.KindTextDirectRequest, "alice", "bob", protocol.Text("hi"))))
	assert.Equal(t, StatusRecipientOffline,
		d.OfferBinary(protocol.MustNew(protocol.KindBinaryDirectRequest, "alice", "bob", protocol.Binary{1})))
	expectSilence(t, conns["alice"], 50*time.Millisecond)
}

func TestBinaryHandshakeAccepted(t *testing.T) {
	d, sessions, conns := newTestDispatcher(t, "alice", "bob")
	image := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}

	status := d.OfferBinary(protocol.MustNew(protocol.KindBinaryDirectRequest, "bob", "alice", protocol.Binary(image)))
	assert.Equal(t, StatusAwaitingConfirmation, status)
	assert.Equal(t, 1, sessions["alice"].Pending().Len())

	prompt := recvFrom(t, conns["alice"])
	assert.Equal(t, protocol.KindBinaryConfirmationRequest, prompt.Kind())
	text, _ := prompt.Text()
	assert.Equal(t, "bob would like to send you an Image. Would you like to Download it? (Yes/No)", text)
	expectSilence(t, conns["alice"], 50*time.Millisecond)

	answer := protocol.MustNew(protocol.KindBinaryConfirmationResponse, "alice", "bob", protocol.Bool(true))
	assert.Equal(t, StatusDelivered, d.ResolveConfirmation(sessions["alice"], answer))

	delivered := recvFrom(t, conns["alice"])
	assert.Equal(t, protocol.KindBinaryDirectReceipt, delivered.Kind())
	assert.Equal(t, "bob", delivered.Sender())
	blob, _ := delivered.Binary()
	assert.Equal(t, image, blob)

	assert.Equal(t, 0, sessions["alice"].Pending().Len())
	expectSilence(t, conns["bob"], 50*time.Millisecond)
}

func TestBinaryHandshakeDeclined(t *testing.T) {
	d, sessions, conns := newTestDispatcher(t, "alice", "bob")

	d.OfferBinary(protocol.MustNew(protocol.KindBinaryDirectRequest, "bob", "alice", protocol.Binary{1, 2, 3}))
	recvFrom(t, conns["alice"])

	answer := protocol.MustNew(protocol.KindBinaryConfirmationResponse, "alice", "bob", protocol.Bool(false))
	assert.Equal(t, StatusDeclined, d.ResolveConfirmation(sessions["alice"], answer))
	assert.Equal(t, 0, sessions["alice"].Pending().Len())

	expectSilence(t, conns["alice"], 50*time.Millisecond)
	expectSilence(t, conns["bob"], 50*time.Millisecond)

	assert.Equal(t, StatusNothingPending, d.ResolveConfirmation(sessions["alice"], answer))
}

func TestBroadcastTextReachesOthersOnly(t *testing.T) {
	d, _, conns := newTestDispatcher(t, "alice", "bob", "carol")

	result := d.BroadcastText(protocol.MustNew(protocol.KindTextBroadcastRequest, "alice", protocol.BroadcastRecipient, protocol.Text("hello all")))
	assert.Equal(t, 2, result.Count(StatusDelivered))
	assert.NotContains(t, result.Statuses, "alice")

	for _, name := range []string{"bob", "carol"} {
		env := recvFrom(t, conns[name])
		assert.Equal(t, protocol.KindTextBroadcastReceipt, env.Kind())
		assert.Equal(t, "alice", env.Sender())
		assert.Equal(t, name, env.Recipient())
	}
	expectSilence(t, conns["alice"], 50*time.Millisecond)
}

func TestBroadcastBinaryOffersEachRecipient(t *testing.T) {
	d, sessions, conns := newTestDispatcher(t, "alice", "bob", "carol")

	result := d.BroadcastBinary(protocol.MustNew(protocol.KindBinaryBroadcastRequest, "alice", protocol.BroadcastRecipient, protocol.Binary{7}))
	assert.Equal(t, 2, result.Count(StatusAwaitingConfirmation))

	for _, name := range []string{"bob", "carol"} {
		env := recvFrom(t, conns[name])
		assert.Equal(t, protocol.KindBinaryConfirmationRequest, env.Kind())
		assert.Equal(t, 1, sessions[name].Pending().Len())
	}
	assert.Equal(t, 0, sessions["alice"].Pending().Len())
}

func TestRosterExcludesRequester(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "alice", "bob", "carol")

	env := d.Roster("alice")
	assert.Equal(t, protocol.KindRosterResponse, env.Kind())
	assert.Equal(t, "alice", env.Recipient())
	names, _ := env.Names()
	assert.ElementsMatch(t, []string{"bob", "carol"}, names)
}

func TestShutdownNotifiesEverySession(t *testing.T) {
	d, _, conns := newTestDispatcher(t, "alice", "bob")
	assert.Equal(t, 2, d.Shutdown(ShutdownReason))

	for name, conn := range conns {
		env := recvFrom(t, conn)
		assert.Equal(t, protocol.KindCloseConnection, env.Kind(), name)
		reason, _ := env.Text()
		assert.Equal(t, "Shut Down", reason)
	}
}

func TestOfferToClosedSessionFails(t *testing.T) {
	d, sessions, _ := newTestDispatcher(t, "alice", "bob")
	sessions["alice"].abort()

	status := d.OfferBinary(protocol.MustNew(protocol.KindBinaryDirectRequest, "bob", "alice", protocol.Binary{1}))
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, 0, sessions["alice"].Pending().Len(), "failed offer leaves nothing pending")
}
