package network

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ZentaChain/talkrelay/pkg/protocol"
)

// DefaultSendBuffer is the number of outbound envelopes a session buffers
const DefaultSendBuffer = 32

// ErrSessionClosed is returned by Send once the session is shutting down
var ErrSessionClosed = errors.New("session closed")

// Session is the relay side of one connection. Its writer goroutine is the
// only code that writes to the stream.
type Session struct {
	mu       sync.RWMutex
	username string

	stream  Stream
	pending *PendingQueue

	sendCh     chan protocol.Envelope
	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	closeOnce  sync.Once
}

// newSession wraps stream and starts its writer
func newSession(stream Stream, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		stream:     stream,
		pending:    NewPendingQueue(),
		sendCh:     make(chan protocol.Envelope, buffer),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}

	go s.writeLoop()
	return s
}

// Username is empty until the session authenticates
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) RemoteAddr() string {
	return s.stream.RemoteAddr()
}

// Pending returns the binaries waiting for this session's confirmation
func (s *Session) Pending() *PendingQueue {
	return s.pending
}

// setUsername is called once, before the session is registered
func (s *Session) setUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

func (s *Session) log() *log.Entry {
	return log.WithFields(log.Fields{
		"remote":  s.stream.RemoteAddr(),
		"session": s.Username(),
	})
}

// Send queues env for the writer. It blocks while the buffer is full.
func (s *Session) Send(env protocol.Envelope) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}

	select {
	case s.sendCh <- env:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// Done is closed when the session starts shutting down
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case env := <-s.sendCh:
			if !s.write(env) {
				return
			}
		case <-s.ctx.Done():
			for {
				select {
				case env := <-s.sendCh:
					if !s.write(env) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) write(env protocol.Envelope) bool {
	if err := protocol.WriteEnvelope(s.stream, env); err != nil {
		s.log().WithError(err).WithField("kind", env.Kind().String()).Warn("Write failed, closing stream")
		s.cancel()
		// Unblocks the reader so the handler cleans up
		s.stream.Close()
		return false
	}
	return true
}

// Close flushes what is buffered, stops the writer and closes the stream.
// It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.writerDone
		err = s.stream.Close()
	})
	return err
}

// abort closes the stream without waiting for the writer to flush
func (s *Session) abort() {
	s.cancel()
	s.stream.Close()
}
