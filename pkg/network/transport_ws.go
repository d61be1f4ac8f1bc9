package network

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
)

// WebSocketListener accepts relay streams as a http.Handler. Each binary
// message carries a chunk of the envelope byte stream.
type WebSocketListener struct {
	upgrader websocket.Upgrader
	addr     string

	streams   chan Stream
	done      chan struct{}
	closeOnce sync.Once
}

// ListenWebSocket creates a WebSocketListener. addr is only reported by Addr;
// the caller mounts the listener on its own http.Server.
func ListenWebSocket(addr string) *WebSocketListener {
	return &WebSocketListener{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		addr:    addr,
		streams: make(chan Stream),
		done:    make(chan struct{}),
	}
}

// ServeHTTP upgrades a HTTP connection and hands it to Accept
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("remote", r.RemoteAddr).WithError(err).Warn("Upgrading connection errored")
		return
	}

	select {
	case l.streams <- newWSStream(conn):
	case <-l.done:
		conn.Close()
	}
}

func (l *WebSocketListener) Accept() (Stream, error) {
	select {
	case s := <-l.streams:
		return s, nil
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

func (l *WebSocketListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *WebSocketListener) Addr() string {
	return l.addr
}

// DialWebSocket connects to a relay's WebSocket endpoint
func DialWebSocket(ctx context.Context, url string) (Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, oops.In("transport").With("address", url).Wrapf(err, "dial websocket")
	}
	return newWSStream(conn), nil
}

// wsStream stitches WebSocket binary messages into a byte stream
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
	wmu    sync.Mutex
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			msgType, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.wmu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.wmu.Unlock()
	return s.conn.Close()
}

func (s *wsStream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
