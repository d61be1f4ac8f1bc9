package protocol

import (
	"io"
	"sync"
)

// Conn frames envelopes over a byte stream. Send is safe for concurrent use;
// Receive must be called from one goroutine.
type Conn struct {
	rw  io.ReadWriter
	wmu sync.Mutex
}

// NewConn wraps rw
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Send writes env as one frame
func (c *Conn) Send(env Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteEnvelope(c.rw, env)
}

// Receive reads the next envelope. Errors for which IsBodyError is true
// leave the stream on the next frame.
func (c *Conn) Receive() (Envelope, error) {
	return ReadEnvelope(c.rw)
}
