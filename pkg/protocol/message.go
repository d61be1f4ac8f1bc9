package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrTruncated    = errors.New("envelope body truncated")
	ErrFieldTooLong = errors.New("envelope field too long")
	ErrTrailingData = errors.New("trailing bytes after envelope body")
)

// ===== ENVELOPE BODY =====
//
// Field order on the wire is fixed: sender, recipient, payload.
//
//	sender     u16 length | bytes
//	recipient  u16 length | bytes
//	payload    u8 tag | tag-dependent encoding
//
// Text and Binary are u32 length prefixed, Bool is one byte, Names is a u32
// count followed by u16 length prefixed entries, None has no bytes.

// EncodeBody encodes the envelope body (everything after the header)
func EncodeBody(env Envelope) ([]byte, error) {
	size, err := bodySize(env)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	offset := putString16(buf, 0, env.sender)
	offset = putString16(buf, offset, env.recipient)

	buf[offset] = byte(env.PayloadType())
	offset++

	switch p := env.payload.(type) {
	case Text:
		binary.BigEndian.PutUint32(buf[offset:], uint32(len(p)))
		offset += 4
		copy(buf[offset:], p)
	case Binary:
		binary.BigEndian.PutUint32(buf[offset:], uint32(len(p)))
		offset += 4
		copy(buf[offset:], p)
	case Bool:
		if p {
			buf[offset] = 1
		}
	case Names:
		binary.BigEndian.PutUint32(buf[offset:], uint32(len(p)))
		offset += 4
		for _, name := range p {
			offset = putString16(buf, offset, name)
		}
	}

	return buf, nil
}

// DecodeBody decodes an envelope body for the given kind. Unknown kinds are
// decoded without shape validation so the reader can log and carry on;
// known kinds must carry a legal payload.
func DecodeBody(kind Kind, buf []byte) (Envelope, error) {
	d := &decoder{buf: buf}

	sender := d.readString16()
	recipient := d.readString16()
	tag := PayloadType(d.readByte())

	var payload Payload
	switch tag {
	case PayloadNone:
		payload = None{}
	case PayloadText:
		payload = Text(d.readBytes32())
	case PayloadBinary:
		payload = Binary(d.readBytes32())
	case PayloadBool:
		payload = Bool(d.readByte() == 1)
	case PayloadNames:
		count := d.readUint32()
		names := make(Names, 0, min(int(count), len(buf)/2))
		for i := uint32(0); i < count && d.err == nil; i++ {
			names = append(names, d.readString16())
		}
		payload = names
	default:
		return Envelope{}, fmt.Errorf("%w: unknown payload tag 0x%02x", ErrPayloadMismatch, uint8(tag))
	}

	if d.err != nil {
		return Envelope{}, d.err
	}
	if d.offset != len(buf) {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(buf)-d.offset)
	}

	env := Envelope{kind: kind, sender: sender, recipient: recipient, payload: payload}
	if kind.Valid() {
		if err := env.Validate(); err != nil {
			return Envelope{}, err
		}
	}
	return env, nil
}

// WriteEnvelope writes header and body with a single Write call so that
// concurrent writers on a shared stream can never interleave one envelope.
func WriteEnvelope(w io.Writer, env Envelope) error {
	body, err := EncodeBody(env)
	if err != nil {
		return err
	}

	header := NewHeader(env.kind, len(body))
	if !env.id.IsZero() {
		header.MessageID = env.id
	}
	frame := make([]byte, HeaderSize+len(body))
	header.put(frame)
	copy(frame[HeaderSize:], body)

	_, err = w.Write(frame)
	return err
}

// ReadEnvelope reads exactly one envelope from r. io.EOF is returned
// unwrapped when the stream ends cleanly between envelopes.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return Envelope{}, err
	}

	// The buffer grows with the bytes that actually arrive, not with the
	// length the peer claims
	body, err := io.ReadAll(io.LimitReader(r, int64(header.Length)))
	if err != nil {
		return Envelope{}, err
	}
	if uint32(len(body)) != header.Length {
		return Envelope{}, io.ErrUnexpectedEOF
	}

	env, err := DecodeBody(header.Kind, body)
	if err != nil {
		return Envelope{}, err
	}
	env.id = header.MessageID
	return env, nil
}

func bodySize(env Envelope) (int, error) {
	if len(env.sender) > math.MaxUint16 || len(env.recipient) > math.MaxUint16 {
		return 0, ErrFieldTooLong
	}
	size := 2 + len(env.sender) + 2 + len(env.recipient) + 1

	switch p := env.payload.(type) {
	case Text:
		size += 4 + len(p)
	case Binary:
		size += 4 + len(p)
	case Bool:
		size++
	case Names:
		size += 4
		for _, name := range p {
			if len(name) > math.MaxUint16 {
				return 0, ErrFieldTooLong
			}
			size += 2 + len(name)
		}
	}

	if uint64(size) > math.MaxUint32 {
		return 0, ErrFieldTooLong
	}
	return size, nil
}

func putString16(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(s)))
	offset += 2
	copy(buf[offset:], s)
	return offset + len(s)
}

// decoder walks a body buffer and records the first error it hits.
type decoder struct {
	buf    []byte
	offset int
	err    error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if len(d.buf)-d.offset < n {
		d.err = ErrTruncated
		return false
	}
	return true
}

func (d *decoder) readByte() byte {
	if !d.need(1) {
		return 0
	}
	b := d.buf[d.offset]
	d.offset++
	return b
}

func (d *decoder) readUint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.offset:])
	d.offset += 4
	return v
}

func (d *decoder) readString16() string {
	if !d.need(2) {
		return ""
	}
	n := int(binary.BigEndian.Uint16(d.buf[d.offset:]))
	d.offset += 2
	if !d.need(n) {
		return ""
	}
	s := string(d.buf[d.offset : d.offset+n])
	d.offset += n
	return s
}

func (d *decoder) readBytes32() []byte {
	n := int(d.readUint32())
	if !d.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf[d.offset:d.offset+n])
	d.offset += n
	return out
}

// IsBodyError reports whether err came from decoding a body that was read in
// full. The stream is still positioned on the next header.
func IsBodyError(err error) bool {
	return errors.Is(err, ErrPayloadMismatch) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrTrailingData) ||
		errors.Is(err, ErrUnknownKind)
}
