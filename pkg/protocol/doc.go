// Package protocol implements the talkrelay wire protocol.
//
// The protocol package defines the envelope model exchanged between the relay
// and its participants, the closed set of message kinds, and the binary
// encoding used on every stream.
//
// # Protocol Overview
//
// Every envelope is framed as:
//   - a 32-byte header with magic number, version, kind and body length
//   - a body carrying sender, recipient and a tag-dependent payload
//
// # Message Kinds
//
// Registration (0x00xx):
//   - RegistrationRequest: username and secret, peer to relay
//   - RegistrationResponse: accept/reject, relay to peer
//
// Text transfer (0x01xx):
//   - TextDirectRequest / TextDirectReceipt: one-to-one text
//   - TextBroadcastRequest / TextBroadcastReceipt: text to every other participant
//
// Binary transfer (0x02xx):
//   - BinaryDirectRequest: image for one participant
//   - BinaryConfirmationRequest: prompt asking the recipient to accept
//   - BinaryConfirmationResponse: the recipient's yes/no
//   - BinaryDirectReceipt: the image, delivered after a yes
//   - BinaryBroadcastRequest: image offered to every other participant
//
// Roster (0x03xx):
//   - RosterRequest / RosterResponse: usernames currently online
//
// Connection management (0x04xx):
//   - CloseConnection: graceful close, either direction
//
// Each kind has a fixed direction and a fixed payload shape. A reader that
// receives a kind outside its direction treats it like an unknown kind.
//
// # Usage Example
//
//	env, err := protocol.New(protocol.KindTextDirectRequest, "alice", "bob", protocol.Text("hi"))
//	if err != nil {
//	    return err
//	}
//	if err := protocol.WriteEnvelope(conn, env); err != nil {
//	    return err
//	}
//
//	reply, err := protocol.ReadEnvelope(conn)
package protocol
