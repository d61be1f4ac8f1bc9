package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind     = errors.New("unknown envelope kind")
	ErrPayloadMismatch = errors.New("payload shape does not match kind")
)

// PayloadType tags the shape of an envelope payload.
type PayloadType uint8

const (
	PayloadNone   PayloadType = 0x00
	PayloadText   PayloadType = 0x01
	PayloadBinary PayloadType = 0x02
	PayloadBool   PayloadType = 0x03
	PayloadNames  PayloadType = 0x04
)

func (t PayloadType) String() string {
	switch t {
	case PayloadNone:
		return "none"
	case PayloadText:
		return "text"
	case PayloadBinary:
		return "binary"
	case PayloadBool:
		return "bool"
	case PayloadNames:
		return "names"
	default:
		return fmt.Sprintf("payload(0x%02x)", uint8(t))
	}
}

// Payload is the tag-dependent content of an envelope. The set of
// implementations is closed: Text, Binary, Bool, Names and None.
type Payload interface {
	Type() PayloadType
}

// Text is a text payload (message body, secret, prompt or free text).
type Text string

// Binary is an opaque blob, an image in practice.
type Binary []byte

// Bool is an accept/reject answer.
type Bool bool

// Names is a list of usernames.
type Names []string

// None is the empty payload.
type None struct{}

func (Text) Type() PayloadType { return PayloadText }
func (Binary) Type() PayloadType { return PayloadBinary }
func (Bool) Type() PayloadType { return PayloadBool }
func (Names) Type() PayloadType { return PayloadNames }
func (None) Type() PayloadType { return PayloadNone }

// Envelope is the unit of exchange between the relay and a participant.
// It is never modified after construction; a reply is a new Envelope.
type Envelope struct {
	id        MessageID
	kind      Kind
	sender    string
	recipient string
	payload   Payload
}

// New builds a validated envelope. Binary and Names payloads are copied so
// the caller cannot mutate the envelope afterwards.
func New(kind Kind, sender, recipient string, payload Payload) (Envelope, error) {
	env := Envelope{
		kind:      kind,
		sender:    sender,
		recipient: recipient,
		payload:   clonePayload(payload),
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// MustNew is New for envelopes built from constants; it panics on a shape error.
func MustNew(kind Kind, sender, recipient string, payload Payload) Envelope {
	env, err := New(kind, sender, recipient, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Validate checks that the kind is known and the payload has a legal shape.
func (e Envelope) Validate() error {
	if !e.kind.Valid() {
		return fmt.Errorf("%w: 0x%04x", ErrUnknownKind, uint16(e.kind))
	}
	if !e.kind.AcceptsPayload(e.PayloadType()) {
		return fmt.Errorf("%w: %s carries %s", ErrPayloadMismatch, e.kind, e.PayloadType())
	}
	return nil
}

// ID is the message ID the envelope arrived with. Envelopes built with New
// have a zero ID until written.
func (e Envelope) ID() MessageID { return e.id }

func (e Envelope) Kind() Kind { return e.kind }
func (e Envelope) Sender() string { return e.sender }
func (e Envelope) Recipient() string { return e.recipient }
func (e Envelope) Payload() Payload { return e.payload }

// PayloadType returns the shape of the payload, PayloadNone when absent.
func (e Envelope) PayloadType() PayloadType {
	if e.payload == nil {
		return PayloadNone
	}
	return e.payload.Type()
}

// Text returns the text payload.
func (e Envelope) Text() (string, bool) {
	t, ok := e.payload.(Text)
	return string(t), ok
}

// Binary returns a copy of the binary payload.
func (e Envelope) Binary() ([]byte, bool) {
	b, ok := e.payload.(Binary)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Bool returns the boolean payload.
func (e Envelope) Bool() (bool, bool) {
	b, ok := e.payload.(Bool)
	return bool(b), ok
}

// Names returns a copy of the list payload.
func (e Envelope) Names() ([]string, bool) {
	n, ok := e.payload.(Names)
	if !ok {
		return nil, false
	}
	return append([]string(nil), n...), true
}

// WithSender returns a copy of e attributed to sender. The message ID is kept.
func (e Envelope) WithSender(sender string) Envelope {
	e.sender = sender
	return e
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s %s->%s [%s]", e.kind, e.sender, e.recipient, e.PayloadType())
}

func clonePayload(p Payload) Payload {
	switch v := p.(type) {
	case nil:
		return None{}
	case Binary:
		return Binary(append([]byte(nil), v...))
	case Names:
		return Names(append([]string(nil), v...))
	default:
		return p
	}
}
