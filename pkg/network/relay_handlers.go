package network

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/ZentaChain/talkrelay/pkg/protocol"
	"github.com/ZentaChain/talkrelay/pkg/storage"
)

// authenticate reads registration requests until one is accepted. It returns
// false when the stream ends first.
func (rs *RelayServer) authenticate(s *Session) bool {
	for {
		env, err := protocol.ReadEnvelope(s.stream)
		if err != nil {
			if protocol.IsBodyError(err) {
				rs.metrics.recordViolation("malformed")
				s.log().WithError(err).Warn("Ignoring malformed envelope")
				continue
			}
			rs.logReadError(s, err)
			return false
		}

		rs.metrics.recordEnvelope(env.Kind().String())

		switch env.Kind() {
		case protocol.KindRegistrationRequest:
		case protocol.KindCloseConnection:
			rs.sendCloseAck(s, env.Sender())
			return false
		default:
			rs.metrics.recordViolation("unauthenticated")
			s.log().WithField("kind", env.Kind().String()).Warn("Ignoring envelope before login")
			continue
		}

		name := env.Sender()
		secret, _ := env.Text()

		accepted := rs.checkCredentials(s, name, secret)
		if accepted {
			s.setUsername(name)
			if err := rs.registry.Register(name, s); err != nil {
				var dup *DuplicateUserError
				if errors.As(err, &dup) {
					s.log().WithField("username", name).Warn("Rejected login, user already connected")
				}
				s.setUsername("")
				accepted = false
			}
		}

		// Registered first so the peer is routable once it sees the accept
		reply := protocol.MustNew(protocol.KindRegistrationResponse, protocol.ServerName, name, protocol.Bool(accepted))
		if err := s.Send(reply); err != nil {
			return false
		}

		if !accepted {
			rs.metrics.recordAuth("rejected")
			continue
		}

		rs.metrics.recordAuth("accepted")
		rs.metrics.incSession()
		s.log().Info("Logged in")
		return true
	}
}

// checkCredentials verifies name/secret, enrolling first-seen users. Store
// failures reject the attempt.
func (rs *RelayServer) checkCredentials(s *Session, name, secret string) bool {
	if name == "" || protocol.IsReservedName(name) {
		s.log().WithField("username", name).Warn("Rejected reserved username")
		return false
	}

	ok, err := rs.creds.Verify(name, secret)
	if err == nil {
		if !ok {
			s.log().WithField("username", name).Info("Rejected login, incorrect secret")
		}
		return ok
	}

	if !errors.Is(err, storage.ErrUnknownUser) {
		s.log().WithError(err).WithField("username", name).Error("Credential store lookup failed")
		return false
	}

	err = rs.creds.PersistNewUser(name, secret)
	switch {
	case err == nil:
		s.log().WithField("username", name).Info("Registered new user")
		return true
	case errors.Is(err, storage.ErrUserExists):
		// Enrolled concurrently; check against what was stored
		ok, err = rs.creds.Verify(name, secret)
		return err == nil && ok
	case errors.Is(err, storage.ErrInvalidName), errors.Is(err, storage.ErrInvalidSecret):
		s.log().WithError(err).WithField("username", name).Warn("Rejected unstorable credentials")
		return false
	default:
		s.log().WithError(err).WithField("username", name).Error("Credential store write failed")
		return false
	}
}

// handleEnvelope performs the one action env asks for. It returns false when
// the session should end.
func (rs *RelayServer) handleEnvelope(s *Session, env protocol.Envelope) bool {
	username := s.Username()

	// The authenticated name wins over whatever the peer claims
	if env.Sender() != username {
		env = env.WithSender(username)
	}

	switch env.Kind() {
	case protocol.KindRosterRequest:
		if err := s.Send(rs.dispatcher.Roster(username)); err != nil {
			return false
		}
		s.log().Debug("Sent roster")

	case protocol.KindTextDirectRequest:
		rs.dispatcher.ForwardText(env)

	case protocol.KindBinaryDirectRequest:
		rs.dispatcher.OfferBinary(env)

	case protocol.KindBinaryConfirmationResponse:
		rs.dispatcher.ResolveConfirmation(s, env)

	case protocol.KindTextBroadcastRequest:
		rs.dispatcher.BroadcastText(env)

	case protocol.KindBinaryBroadcastRequest:
		rs.dispatcher.BroadcastBinary(env)

	case protocol.KindCloseConnection:
		rs.sendCloseAck(s, username)
		s.log().Info("Peer closed the connection")
		return false

	default:
		rs.metrics.recordViolation("unhandled_kind")
		log.WithField("kind", env.Kind().String()).Warn("Unhandled envelope kind")
	}

	return true
}

func (rs *RelayServer) sendCloseAck(s *Session, recipient string) {
	ack := protocol.MustNew(protocol.KindCloseConnection, protocol.ServerName, recipient, protocol.None{})
	if err := s.Send(ack); err != nil {
		s.log().WithError(err).Debug("Close acknowledgement not sent")
	}
}
