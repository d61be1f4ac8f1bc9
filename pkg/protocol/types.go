package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Protocol constants
const (
	// Magic number for the relay protocol ('TRLY')
	ProtocolMagic = 0x54524C59

	// Protocol version
	ProtocolVersion = 0x0100 // v1.0

	// Header size
	HeaderSize = 32
)

// Reserved participant names
const (
	// ServerName is the sender of every envelope the relay originates.
	ServerName = "Server"

	// BroadcastRecipient marks the recipient of a broadcast request.
	BroadcastRecipient = "All"
)

// Kind identifies the purpose of an envelope.
type Kind uint16

// Message kinds
const (
	// Registration (0x00xx)
	KindRegistrationRequest  Kind = 0x0001
	KindRegistrationResponse Kind = 0x0002

	// Text transfer (0x01xx)
	KindTextDirectRequest    Kind = 0x0100
	KindTextDirectReceipt    Kind = 0x0101
	KindTextBroadcastRequest Kind = 0x0102
	KindTextBroadcastReceipt Kind = 0x0103

	// Binary transfer (0x02xx)
	KindBinaryDirectRequest        Kind = 0x0200
	KindBinaryConfirmationRequest  Kind = 0x0201
	KindBinaryConfirmationResponse Kind = 0x0202
	KindBinaryDirectReceipt        Kind = 0x0203
	KindBinaryBroadcastRequest     Kind = 0x0204

	// Roster (0x03xx)
	KindRosterRequest  Kind = 0x0300
	KindRosterResponse Kind = 0x0301

	// Connection management (0x04xx)
	KindCloseConnection Kind = 0x0400
)

// Direction describes which way a kind is allowed to flow.
type Direction uint8

const (
	ToRelay Direction = iota + 1
	ToPeer
	Bidirectional
)

// Side is the role of the party reading an envelope.
type Side uint8

const (
	SideRelay Side = iota + 1
	SidePeer
)

type kindInfo struct {
	name      string
	direction Direction
	payloads  []PayloadType
}

var kinds = map[Kind]kindInfo{
	KindRegistrationRequest:        {"registration-request", ToRelay, []PayloadType{PayloadText}},
	KindRegistrationResponse:       {"registration-response", ToPeer, []PayloadType{PayloadBool}},
	KindTextDirectRequest:          {"text-direct-request", ToRelay, []PayloadType{PayloadText}},
	KindTextDirectReceipt:          {"text-direct-receipt", ToPeer, []PayloadType{PayloadText}},
	KindTextBroadcastRequest:       {"text-broadcast-request", ToRelay, []PayloadType{PayloadText}},
	KindTextBroadcastReceipt:       {"text-broadcast-receipt", ToPeer, []PayloadType{PayloadText}},
	KindBinaryDirectRequest:        {"binary-direct-request", ToRelay, []PayloadType{PayloadBinary}},
	KindBinaryConfirmationRequest:  {"binary-confirmation-request", ToPeer, []PayloadType{PayloadText}},
	KindBinaryConfirmationResponse: {"binary-confirmation-response", ToRelay, []PayloadType{PayloadBool}},
	KindBinaryDirectReceipt:        {"binary-direct-receipt", ToPeer, []PayloadType{PayloadBinary}},
	KindBinaryBroadcastRequest:     {"binary-broadcast-request", ToRelay, []PayloadType{PayloadBinary}},
	KindRosterRequest:              {"roster-request", ToRelay, []PayloadType{PayloadText, PayloadNone}},
	KindRosterResponse:             {"roster-response", ToPeer, []PayloadType{PayloadNames}},
	KindCloseConnection:            {"close-connection", Bidirectional, []PayloadType{PayloadText, PayloadNone}},
}

// Valid reports whether k belongs to the closed set of kinds.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "unknown"
}

// Direction returns the fixed direction of k. Unknown kinds return 0.
func (k Kind) Direction() Direction {
	return kinds[k].direction
}

// ExpectedBy reports whether a reader on the given side should accept k.
// Kinds outside the reader's direction are treated like unknown kinds.
func (k Kind) ExpectedBy(side Side) bool {
	switch k.Direction() {
	case Bidirectional:
		return true
	case ToRelay:
		return side == SideRelay
	case ToPeer:
		return side == SidePeer
	default:
		return false
	}
}

// AcceptsPayload reports whether t is a legal payload shape for k.
func (k Kind) AcceptsPayload(t PayloadType) bool {
	for _, allowed := range kinds[k].payloads {
		if allowed == t {
			return true
		}
	}
	return false
}

// MessageID represents a unique message identifier (16 bytes)
type MessageID [16]byte

// IsZero reports whether id was never assigned
func (id MessageID) IsZero() bool {
	return id == MessageID{}
}

func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// ===== HELPER FUNCTIONS =====

// GenerateMessageID generates a random message ID
func GenerateMessageID() MessageID {
	var id MessageID
	// Timestamp first for ordering in logs
	timestamp := time.Now().UnixNano()
	binary.BigEndian.PutUint64(id[0:8], uint64(timestamp))

	if _, err := rand.Read(id[8:]); err != nil {
		binary.BigEndian.PutUint64(id[8:], uint64(timestamp^0xDEADBEEF))
	}

	return id
}

// IsReservedName reports whether name cannot be used by a participant.
func IsReservedName(name string) bool {
	return name == ServerName || name == BroadcastRecipient
}
