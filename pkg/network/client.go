package network

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"

	"github.com/ZentaChain/talkrelay/pkg/protocol"
)

var (
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrConnectionClosed = errors.New("connection closed by relay")
)

// Prompter asks the local user a yes/no question
type Prompter interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Renderer shows what the relay delivers
type Renderer interface {
	ShowText(from, text string, broadcast bool)
	ShowImage(from string, image []byte)
	ShowNotice(text string)
}

// Client is the participant side of one relay connection
type Client struct {
	stream   Stream
	conn     *protocol.Conn
	prompter Prompter
	renderer Renderer
	turn     *Turn

	username string
	loggedIn atomic.Bool
	running  atomic.Bool
	closing  atomic.Bool

	rmu      sync.RWMutex
	roster   []string
	rosterCh chan []string

	// Routed to us between registration and the login reply
	early []protocol.Envelope
}

// NewClient wraps an established stream. A nil turn gets a private one.
func NewClient(stream Stream, prompter Prompter, renderer Renderer, turn *Turn) *Client {
	if turn == nil {
		turn = NewTurn()
	}
	return &Client{
		stream:   stream,
		conn:     protocol.NewConn(stream),
		prompter: prompter,
		renderer: renderer,
		turn:     turn,
		rosterCh: make(chan []string, 1),
	}
}

// Username returns the name the client logged in with
func (c *Client) Username() string {
	return c.username
}

// Login runs one registration round trip. It must complete before Run.
func (c *Client) Login(ctx context.Context, username, secret string) (bool, error) {
	if c.running.Load() {
		return false, oops.In("client").Errorf("login after receive loop started")
	}

	req, err := protocol.New(protocol.KindRegistrationRequest, username, protocol.ServerName, protocol.Text(secret))
	if err != nil {
		return false, err
	}
	if err := c.send(req); err != nil {
		return false, err
	}

	stop := context.AfterFunc(ctx, func() { c.stream.Close() })
	defer stop()

	for {
		env, err := c.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if protocol.IsBodyError(err) {
				log.WithError(err).Warn("Ignoring malformed envelope")
				continue
			}
			return false, oops.In("client").Wrapf(err, "read registration response")
		}

		switch env.Kind() {
		case protocol.KindRegistrationResponse:
			accepted, _ := env.Bool()
			if accepted {
				c.username = username
				c.loggedIn.Store(true)
			}
			return accepted, nil
		case protocol.KindCloseConnection:
			return false, ErrConnectionClosed
		default:
			c.early = append(c.early, env)
		}
	}
}

// Run receives envelopes until the relay closes the connection, the stream
// fails or ctx is done. The stream is closed on return.
func (c *Client) Run(ctx context.Context) error {
	if !c.loggedIn.Load() {
		return ErrNotLoggedIn
	}
	c.running.Store(true)
	defer c.stream.Close()

	stop := context.AfterFunc(ctx, func() { c.stream.Close() })
	defer stop()

	early := c.early
	c.early = nil
	for _, env := range early {
		if env.Kind().ExpectedBy(protocol.SidePeer) && !c.handle(ctx, env) {
			return nil
		}
	}

	for {
		env, err := c.conn.Receive()
		if err != nil {
			if protocol.IsBodyError(err) {
				log.WithError(err).Warn("Ignoring malformed envelope")
				continue
			}
			if ctx.Err() != nil || c.closing.Load() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrConnectionClosed
			}
			return oops.In("client").Wrapf(err, "receive")
		}

		if !env.Kind().ExpectedBy(protocol.SidePeer) {
			log.WithField("kind", env.Kind().String()).Warn("Ignoring unexpected envelope kind")
			continue
		}

		if !c.handle(ctx, env) {
			return nil
		}
	}
}

func (c *Client) handle(ctx context.Context, env protocol.Envelope) bool {
	switch env.Kind() {
	case protocol.KindTextDirectReceipt, protocol.KindTextBroadcastReceipt:
		text, _ := env.Text()
		c.renderer.ShowText(env.Sender(), text, env.Kind() == protocol.KindTextBroadcastReceipt)

	case protocol.KindBinaryConfirmationRequest:
		// Prompting waits for the console, so it must not hold up the loop
		go c.confirm(ctx, env)

	case protocol.KindBinaryDirectReceipt:
		image, _ := env.Binary()
		c.renderer.ShowImage(env.Sender(), image)

	case protocol.KindRosterResponse:
		names, _ := env.Names()
		c.updateRoster(names)

	case protocol.KindCloseConnection:
		if reason, ok := env.Text(); ok && reason != "" {
			c.renderer.ShowNotice(reason)
		}
		return false

	default:
		log.WithField("kind", env.Kind().String()).Warn("Unhandled envelope kind")
	}
	return true
}

func (c *Client) confirm(ctx context.Context, env protocol.Envelope) {
	if err := c.turn.Acquire(ctx); err != nil {
		return
	}
	defer c.turn.Release()

	prompt, _ := env.Text()
	accepted, err := c.prompter.Confirm(ctx, prompt)
	if err != nil {
		log.WithError(err).Warn("Prompt failed, declining")
		accepted = false
	}

	resp := protocol.MustNew(protocol.KindBinaryConfirmationResponse, c.username, env.Sender(), protocol.Bool(accepted))
	if err := c.send(resp); err != nil {
		log.WithError(err).Warn("Confirmation response not sent")
	}
}

func (c *Client) updateRoster(names []string) {
	c.rmu.Lock()
	c.roster = names
	c.rmu.Unlock()

	// Keep only the newest roster for a waiting RequestRoster
	select {
	case <-c.rosterCh:
	default:
	}
	c.rosterCh <- names
}

// RequestRoster asks the relay who is online and waits for the answer.
// Run must be active.
func (c *Client) RequestRoster(ctx context.Context) ([]string, error) {
	if !c.loggedIn.Load() {
		return nil, ErrNotLoggedIn
	}

	select {
	case <-c.rosterCh:
	default:
	}

	req := protocol.MustNew(protocol.KindRosterRequest, c.username, protocol.ServerName, protocol.None{})
	if err := c.send(req); err != nil {
		return nil, err
	}

	select {
	case names := <-c.rosterCh:
		return slices.Clone(names), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Roster returns the last roster received
func (c *Client) Roster() []string {
	c.rmu.RLock()
	defer c.rmu.RUnlock()
	return slices.Clone(c.roster)
}

// IsOnline checks name against the last roster received
func (c *Client) IsOnline(name string) bool {
	c.rmu.RLock()
	defer c.rmu.RUnlock()
	return slices.Contains(c.roster, name)
}

func (c *Client) SendText(to, text string) error {
	return c.request(protocol.KindTextDirectRequest, to, protocol.Text(text))
}

func (c *Client) SendImage(to string, image []byte) error {
	return c.request(protocol.KindBinaryDirectRequest, to, protocol.Binary(image))
}

func (c *Client) BroadcastText(text string) error {
	return c.request(protocol.KindTextBroadcastRequest, protocol.BroadcastRecipient, protocol.Text(text))
}

func (c *Client) BroadcastImage(image []byte) error {
	return c.request(protocol.KindBinaryBroadcastRequest, protocol.BroadcastRecipient, protocol.Binary(image))
}

// Close asks the relay to end the session. Once logged in, the stream is
// left to Run, which returns after the relay acknowledges. Before login the
// stream is closed directly.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	if !c.loggedIn.Load() {
		return c.stream.Close()
	}

	req := protocol.MustNew(protocol.KindCloseConnection, c.username, protocol.ServerName, protocol.None{})
	if err := c.send(req); err != nil {
		c.stream.Close()
		return err
	}
	return nil
}

func (c *Client) request(kind protocol.Kind, to string, payload protocol.Payload) error {
	if !c.loggedIn.Load() {
		return ErrNotLoggedIn
	}
	env, err := protocol.New(kind, c.username, to, payload)
	if err != nil {
		return err
	}
	return c.send(env)
}

func (c *Client) send(env protocol.Envelope) error {
	if err := c.conn.Send(env); err != nil {
		return oops.In("client").With("kind", env.Kind().String()).Wrapf(err, "send")
	}
	return nil
}
