package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPrompter struct {
	answer  bool
	prompts chan string
}

func newScriptedPrompter(answer bool) *scriptedPrompter {
	return &scriptedPrompter{answer: answer, prompts: make(chan string, 4)}
}

func (p *scriptedPrompter) Confirm(_ context.Context, prompt string) (bool, error) {
	p.prompts <- prompt
	return p.answer, nil
}

type textEvent struct {
	from      string
	text      string
	broadcast bool
}

type imageEvent struct {
	from  string
	image []byte
}

type recordingRenderer struct {
	texts   chan textEvent
	images  chan imageEvent
	notices chan string
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{
		texts:   make(chan textEvent, 8),
		images:  make(chan imageEvent, 8),
		notices: make(chan string, 8),
	}
}

func (r *recordingRenderer) ShowText(from, text string, broadcast bool) {
	r.texts <- textEvent{from: from, text: text, broadcast: broadcast}
}

func (r *recordingRenderer) ShowImage(from string, image []byte) {
	r.images <- imageEvent{from: from, image: image}
}

func (r *recordingRenderer) ShowNotice(text string) {
	r.notices <- text
}

type testClient struct {
	*Client
	prompter *scriptedPrompter
	renderer *recordingRenderer
	done     chan error
}

func connectClient(t *testing.T, addr, name, secret string, answer bool, turn *Turn) *testClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	stream, err := Dial(ctx, addr)
	require.NoError(t, err)

	tc := &testClient{
		prompter: newScriptedPrompter(answer),
		renderer: newRecordingRenderer(),
		done:     make(chan error, 1),
	}
	tc.Client = NewClient(stream, tc.prompter, tc.renderer, turn)

	accepted, err := tc.Login(ctx, name, secret)
	require.NoError(t, err)
	require.True(t, accepted)

	runCtx, stop := context.WithCancel(context.Background())
	go func() { tc.done <- tc.Run(runCtx) }()
	t.Cleanup(func() {
		stop()
		<-tc.done
	})
	return tc
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestClientRejectedLogin(t *testing.T) {
	_, addr := startRelay(t, newMemCredentials("alice", "pw1"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	stream, err := Dial(ctx, addr)
	require.NoError(t, err)

	c := NewClient(stream, newScriptedPrompter(true), newRecordingRenderer(), nil)
	accepted, err := c.Login(ctx, "alice", "nope")
	require.NoError(t, err)
	assert.False(t, accepted)

	assert.ErrorIs(t, c.SendText("bob", "hi"), ErrNotLoggedIn)
	assert.ErrorIs(t, c.Run(ctx), ErrNotLoggedIn)

	accepted, err = c.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	assert.True(t, accepted)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Run(ctx))
}

func TestClientRosterAndText(t *testing.T) {
	_, addr := startRelay(t, newMemCredentials("alice", "pw1", "bob", "pw2"))

	alice := connectClient(t, addr, "alice", "pw1", true, nil)
	bob := connectClient(t, addr, "bob", "pw2", true, nil)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	roster, err := alice.RequestRoster(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, roster)
	assert.True(t, alice.IsOnline("bob"))
	assert.False(t, alice.IsOnline("alice"))
	assert.Equal(t, []string{"bob"}, alice.Roster())

	require.NoError(t, alice.SendText("bob", "m1"))
	require.NoError(t, alice.SendText("bob", "m2"))
	assert.Equal(t, textEvent{from: "alice", text: "m1"}, receive(t, bob.renderer.texts))
	assert.Equal(t, textEvent{from: "alice", text: "m2"}, receive(t, bob.renderer.texts))

	require.NoError(t, bob.BroadcastText("to everyone"))
	assert.Equal(t, textEvent{from: "bob", text: "to everyone", broadcast: true}, receive(t, alice.renderer.texts))
}

func TestClientImageHandshake(t *testing.T) {
	_, addr := startRelay(t, newMemCredentials("alice", "pw1", "bob", "pw2", "carol", "pw3"))

	alice := connectClient(t, addr, "alice", "pw1", true, nil)
	bob := connectClient(t, addr, "bob", "pw2", true, nil)
	carol := connectClient(t, addr, "carol", "pw3", false, nil)

	image := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	require.NoError(t, bob.SendImage("alice", image))

	assert.Contains(t, receive(t, alice.prompter.prompts), "bob would like to send you an Image")
	got := receive(t, alice.renderer.images)
	assert.Equal(t, "bob", got.from)
	assert.Equal(t, image, got.image)

	require.NoError(t, bob.BroadcastImage(image))
	receive(t, alice.prompter.prompts)
	receive(t, alice.renderer.images)

	receive(t, carol.prompter.prompts)
	select {
	case <-carol.renderer.images:
		t.Fatal("declined image was delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientPromptWaitsForTurn(t *testing.T) {
	_, addr := startRelay(t, newMemCredentials("alice", "pw1", "bob", "pw2"))

	turn := NewTurn()
	alice := connectClient(t, addr, "alice", "pw1", true, turn)
	bob := connectClient(t, addr, "bob", "pw2", true, nil)

	require.True(t, turn.tryAcquire(), "console busy with local input")
	require.NoError(t, bob.SendImage("alice", []byte{1}))

	select {
	case <-alice.prompter.prompts:
		t.Fatal("prompted while the console was busy")
	case <-time.After(100 * time.Millisecond):
	}

	// The receive loop keeps running while the prompt waits
	require.NoError(t, bob.SendText("alice", "still here"))
	assert.Equal(t, "still here", receive(t, alice.renderer.texts).text)

	turn.Release()
	receive(t, alice.prompter.prompts)
	receive(t, alice.renderer.images)
}

func TestClientCloseEndsRun(t *testing.T) {
	rs, addr := startRelay(t, newMemCredentials("alice", "pw1"))
	alice := connectClient(t, addr, "alice", "pw1", true, nil)

	require.NoError(t, alice.Close())
	assert.NoError(t, receive(t, alice.done))
	alice.done <- nil

	assert.Eventually(t, func() bool { return rs.Registry().Len() == 0 }, waitFor, 10*time.Millisecond)
}

func TestClientCloseBeforeRunReturnsOnAck(t *testing.T) {
	rs, addr := startRelay(t, newMemCredentials("alice", "pw1"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	stream, err := Dial(ctx, addr)
	require.NoError(t, err)

	c := NewClient(stream, newScriptedPrompter(true), newRecordingRenderer(), nil)
	accepted, err := c.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	require.True(t, accepted)

	// The stream stays open for Run to read the acknowledgement
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.NoError(t, c.Run(ctx))
	assert.Eventually(t, func() bool { return rs.Registry().Len() == 0 }, waitFor, 10*time.Millisecond)
}

func TestClientCloseBeforeLoginClosesStream(t *testing.T) {
	_, addr := startRelay(t, newMemCredentials("alice", "pw1"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	stream, err := Dial(ctx, addr)
	require.NoError(t, err)

	c := NewClient(stream, newScriptedPrompter(true), newRecordingRenderer(), nil)
	require.NoError(t, c.Close())
	_, err = c.Login(ctx, "alice", "pw1")
	assert.Error(t, err)
}

func TestClientSeesRelayShutdown(t *testing.T) {
	rs, addr := startRelay(t, newMemCredentials("alice", "pw1"))
	alice := connectClient(t, addr, "alice", "pw1", true, nil)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, rs.Stop(ctx))

	assert.Equal(t, ShutdownReason, receive(t, alice.renderer.notices))
	assert.NoError(t, receive(t, alice.done))
	alice.done <- nil
}
