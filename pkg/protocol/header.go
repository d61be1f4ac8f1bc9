package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrInvalidMagic   = errors.New("invalid protocol magic")
	ErrInvalidVersion = errors.New("unsupported protocol version")
	ErrInvalidHeader  = errors.New("invalid header")
)

// Header precedes every envelope on the wire
type Header struct {
	Magic     uint32    // Magic number (0x54524C59)
	Version   uint16    // Protocol version
	Kind      Kind      // Envelope kind
	Length    uint32    // Body length
	MessageID MessageID // Unique message ID
}

// NewHeader creates a header with a fresh message ID for a body of the given length
func NewHeader(kind Kind, length int) *Header {
	return &Header{
		Magic:     ProtocolMagic,
		Version:   ProtocolVersion,
		Kind:      kind,
		Length:    uint32(length),
		MessageID: GenerateMessageID(),
	}
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf
}

func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Kind))
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	// 12:14 and 30:32 are reserved and stay zero
	copy(buf[14:30], h.MessageID[:])
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Kind = Kind(binary.BigEndian.Uint16(buf[6:8]))
	h.Length = binary.BigEndian.Uint32(buf[8:12])
	copy(h.MessageID[:], buf[14:30])

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Magic != ProtocolMagic {
		return ErrInvalidMagic
	}

	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}

	return nil
}

// ReadHeader reads a header from an io.Reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	header := &Header{}
	if err := header.Decode(buf); err != nil {
		return nil, err
	}

	if err := header.Validate(); err != nil {
		return nil, err
	}

	return header, nil
}

// WriteHeader writes a header to an io.Writer
func WriteHeader(w io.Writer, h *Header) error {
	_, err := w.Write(h.Encode())
	return err
}
