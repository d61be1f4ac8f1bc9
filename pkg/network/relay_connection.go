package network

import (
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ZentaChain/talkrelay/pkg/protocol"
)

// acceptLoop accepts incoming connections
func (rs *RelayServer) acceptLoop(l Listener) {
	for {
		stream, err := l.Accept()
		if err != nil {
			if errors.Is(err, ErrListenerClosed) || rs.isClosing() {
				return
			}
			log.WithError(err).WithField("address", l.Addr()).Warn("Accept error")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		rs.mu.Lock()
		if rs.closing {
			rs.mu.Unlock()
			stream.Close()
			return
		}
		s := newSession(stream, rs.cfg.SendBuffer)
		rs.conns[s] = struct{}{}
		rs.wg.Add(1)
		rs.mu.Unlock()

		go rs.handleConnection(s)
	}
}

func (rs *RelayServer) isClosing() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.closing
}

// handleConnection owns one stream from accept to release
func (rs *RelayServer) handleConnection(s *Session) {
	defer rs.wg.Done()
	defer rs.release(s)

	s.log().Info("New connection")

	if !rs.authenticate(s) {
		return
	}

	for {
		env, err := protocol.ReadEnvelope(s.stream)
		if err != nil {
			if protocol.IsBodyError(err) {
				rs.metrics.recordViolation("malformed")
				s.log().WithError(err).Warn("Ignoring malformed envelope")
				continue
			}
			rs.logReadError(s, err)
			return
		}

		rs.metrics.recordEnvelope(env.Kind().String())

		if !env.Kind().ExpectedBy(protocol.SideRelay) {
			rs.metrics.recordViolation("unexpected_kind")
			s.log().WithField("kind", env.Kind().String()).Warn("Ignoring unexpected envelope kind")
			continue
		}

		if !rs.handleEnvelope(s, env) {
			return
		}
	}
}

// release runs once per connection, whichever way it ended
func (rs *RelayServer) release(s *Session) {
	name := s.Username()
	if name != "" && rs.registry.UnregisterSession(name, s) {
		rs.metrics.decSession()
		s.log().Info("Session unregistered")
	}

	// Offers racing with release fail to Send once the session is closed and
	// discard their own entry, so the drain below is the last one.
	if err := s.Close(); err != nil {
		s.log().WithError(err).Debug("Close stream")
	}

	if n := s.Pending().Drain(); n > 0 {
		rs.metrics.addPending(-n)
		s.log().WithField("dropped", n).Info("Dropped unconfirmed binaries")
	}

	rs.mu.Lock()
	delete(rs.conns, s)
	rs.mu.Unlock()

	s.log().Info("Connection closed")
}

func (rs *RelayServer) logReadError(s *Session, err error) {
	select {
	case <-s.Done():
		// Closed by us
		return
	default:
	}

	if errors.Is(err, io.EOF) {
		s.log().Info("Peer disconnected")
		return
	}
	s.log().WithError(err).Warn("Read failed, dropping session")
}
