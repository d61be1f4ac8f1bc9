package network

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"

	"github.com/ZentaChain/talkrelay/pkg/storage"
)

// RelayConfig holds the listener settings of a relay
type RelayConfig struct {
	ListenAddress    string
	WebSocketAddress string
	SendBuffer       int
}

// RelayServer accepts participant streams, authenticates them and routes
// their envelopes
type RelayServer struct {
	cfg   RelayConfig
	creds storage.CredentialStore

	registry   *Registry
	dispatcher *Dispatcher
	metrics    *relayMetrics
	gatherer   prometheus.Gatherer

	mu        sync.Mutex
	listeners []Listener
	servers   []*http.Server
	conns     map[*Session]struct{}
	closing   bool
	wg        sync.WaitGroup

	startTime     time.Time
	lastHeartbeat time.Time
}

// Option configures a RelayServer
type Option func(*relayOptions)

type relayOptions struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// WithPrometheus registers the relay metrics on reg instead of a private registry
func WithPrometheus(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(o *relayOptions) {
		o.registerer = reg
		o.gatherer = gatherer
	}
}

// NewRelayServer creates a relay that authenticates against creds
func NewRelayServer(cfg RelayConfig, creds storage.CredentialStore, opts ...Option) *RelayServer {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}

	options := relayOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.registerer == nil {
		reg := prometheus.NewRegistry()
		options.registerer = reg
		options.gatherer = reg
	}

	metrics := newRelayMetrics(options.registerer)
	registry := NewRegistry()

	return &RelayServer{
		cfg:        cfg,
		creds:      creds,
		registry:   registry,
		dispatcher: NewDispatcher(registry, metrics),
		metrics:    metrics,
		gatherer:   options.gatherer,
		conns:      make(map[*Session]struct{}),
		startTime:  time.Now(),
	}
}

// Registry returns the live session registry
func (rs *RelayServer) Registry() *Registry {
	return rs.registry
}

// Gatherer exposes the relay metrics for scraping
func (rs *RelayServer) Gatherer() prometheus.Gatherer {
	return rs.gatherer
}

// Start opens the configured TCP listener and, if set, the WebSocket one
func (rs *RelayServer) Start() error {
	tcp, err := ListenTCP(rs.cfg.ListenAddress)
	if err != nil {
		return err
	}
	if err := rs.Serve(tcp); err != nil {
		tcp.Close()
		return err
	}
	log.WithField("address", tcp.Addr()).Info("Relay server listening")

	if rs.cfg.WebSocketAddress == "" {
		return nil
	}
	return rs.startWebSocket(rs.cfg.WebSocketAddress)
}

func (rs *RelayServer) startWebSocket(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return oops.In("relay").With("address", addr).Wrapf(err, "listen websocket")
	}

	ws := ListenWebSocket(ln.Addr().String())
	srv := &http.Server{
		Handler:           ws,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := rs.Serve(ws); err != nil {
		ln.Close()
		return err
	}

	rs.mu.Lock()
	rs.servers = append(rs.servers, srv)
	rs.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("WebSocket server stopped")
		}
	}()

	log.WithField("address", ws.Addr()).Info("Relay WebSocket endpoint listening")
	return nil
}

// Serve accepts streams from l until it is closed
func (rs *RelayServer) Serve(l Listener) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closing {
		return oops.In("relay").Errorf("relay is shutting down")
	}
	rs.listeners = append(rs.listeners, l)

	go rs.acceptLoop(l)
	return nil
}

// Stop closes the listeners, tells every session the relay is shutting down
// and waits for the handlers to finish. Sessions still open when ctx expires
// are closed without flushing.
func (rs *RelayServer) Stop(ctx context.Context) error {
	rs.mu.Lock()
	if rs.closing {
		rs.mu.Unlock()
		return nil
	}
	rs.closing = true
	listeners := rs.listeners
	servers := rs.servers
	rs.mu.Unlock()

	var result *multierror.Error

	for _, l := range listeners {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, oops.In("relay").With("address", l.Addr()).Wrapf(err, "close listener"))
		}
	}
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			result = multierror.Append(result, oops.In("relay").Wrapf(err, "shutdown websocket server"))
		}
	}

	notified := rs.dispatcher.Shutdown(ShutdownReason)
	log.WithField("sessions", notified).Info("Notified sessions of shutdown")

	sessions := rs.liveSessions()
	for _, s := range sessions {
		go s.Close()
	}

	done := make(chan struct{})
	go func() {
		rs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		for _, s := range rs.liveSessions() {
			s.abort()
		}
		<-done
		result = multierror.Append(result, oops.In("relay").Wrapf(ctx.Err(), "wait for sessions"))
	}

	log.Info("Relay server stopped")
	return result.ErrorOrNil()
}

func (rs *RelayServer) liveSessions() []*Session {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	out := make([]*Session, 0, len(rs.conns))
	for s := range rs.conns {
		out = append(out, s)
	}
	return out
}

// Heartbeat records that the operator loop is alive
func (rs *RelayServer) Heartbeat() {
	rs.mu.Lock()
	rs.lastHeartbeat = time.Now()
	rs.mu.Unlock()
}

// GetStats returns relay statistics
func (rs *RelayServer) GetStats() map[string]interface{} {
	pending := 0
	for _, s := range rs.registry.SessionsExcept("") {
		pending += s.Pending().Len()
	}

	rs.mu.Lock()
	connections := len(rs.conns)
	lastHeartbeat := rs.lastHeartbeat
	rs.mu.Unlock()

	return map[string]interface{}{
		"online_sessions":  rs.registry.Len(),
		"connections":      connections,
		"envelopes_routed": rs.dispatcher.Relayed(),
		"pending_binaries": pending,
		"uptime_seconds":   int64(time.Since(rs.startTime).Seconds()),
		"last_heartbeat":   lastHeartbeat,
	}
}

// OnlineUsers returns the authenticated usernames, sorted
func (rs *RelayServer) OnlineUsers() []string {
	return rs.registry.Usernames()
}
