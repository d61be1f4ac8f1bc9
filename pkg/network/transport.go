package network

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/samber/oops"
)

// DefaultPort is the relay's default TCP port
const DefaultPort = 1337

// ErrListenerClosed is returned by Accept after Close
var ErrListenerClosed = errors.New("listener closed")

// Stream is one bidirectional byte stream between the relay and a peer
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() string
}

// Listener yields accepted streams
type Listener interface {
	Accept() (Stream, error)
	Close() error
	Addr() string
}

// tcpStream adapts net.Conn to Stream
type tcpStream struct {
	net.Conn
}

func (s tcpStream) RemoteAddr() string {
	return s.Conn.RemoteAddr().String()
}

// NewStream wraps an established net.Conn
func NewStream(conn net.Conn) Stream {
	return tcpStream{Conn: conn}
}

// TCPListener accepts plain TCP connections
type TCPListener struct {
	listener net.Listener
}

// ListenTCP starts listening on addr
func ListenTCP(addr string) (*TCPListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.In("transport").With("address", addr).Wrapf(err, "listen tcp")
	}
	return &TCPListener{listener: l}, nil
}

// Accept waits for the next connection
func (l *TCPListener) Accept() (Stream, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return NewStream(conn), nil
}

func (l *TCPListener) Close() error {
	return l.listener.Close()
}

func (l *TCPListener) Addr() string {
	return l.listener.Addr().String()
}

// Dial connects to a relay. ws:// and wss:// addresses use the WebSocket
// transport, anything else is treated as host:port over TCP.
func Dial(ctx context.Context, address string) (Stream, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return DialWebSocket(ctx, address)
	}

	address = strings.TrimPrefix(address, "tcp://")

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, oops.In("transport").With("address", address).Wrapf(err, "dial tcp")
	}
	return NewStream(conn), nil
}
