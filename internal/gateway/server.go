// Package gateway ties the per-connection pumps, the frame router, and the
// shutdown plane into the listening daemon: a TCP accept loop for downstream
// miners plus one persistent connection to the template provider.
package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/bardlex/gojds/internal/config"
	"github.com/bardlex/gojds/internal/connection"
	"github.com/bardlex/gojds/internal/shutdown"
	"github.com/bardlex/gojds/internal/status"
	"github.com/bardlex/gojds/internal/tasks"
	"github.com/bardlex/gojds/pkg/log"
)

// Server accepts downstream connections and supervises their pumps.
type Server struct {
	cfg        *config.Config
	logger     *log.Logger
	sig        *shutdown.Signal
	tm         *tasks.Manager
	handshaker Handshaker
	router     *Router

	// onDisconnect runs after a downstream's pumps and router have fully
	// stopped, with the downstream's id.
	onDisconnect func(downstreamID uint64)

	nextID   atomic.Uint64
	stopping atomic.Bool

	mu       sync.RWMutex
	listener net.Listener
	conns    map[uint64]*Conn
}

// NewServer creates a server. onDisconnect may be nil.
func NewServer(
	cfg *config.Config,
	logger *log.Logger,
	sig *shutdown.Signal,
	tm *tasks.Manager,
	handshaker Handshaker,
	router *Router,
	onDisconnect func(downstreamID uint64),
) *Server {
	return &Server{
		cfg:          cfg,
		logger:       logger.WithComponent("server"),
		sig:          sig,
		tm:           tm,
		handshaker:   handshaker,
		router:       router,
		onDisconnect: onDisconnect,
		conns:        make(map[uint64]*Conn),
	}
}

// Start listens for downstream connections and blocks in the accept loop
// until the context is cancelled or the listener is closed by Stop.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.ListenAddress()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("server listening", "address", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.stopping.Load() || ctx.Err() != nil {
				return nil
			}
			s.logger.WithError(err).Error("failed to accept connection")
			continue
		}

		if s.DownstreamCount() >= s.cfg.MaxConnections {
			s.logger.Warn("rejecting connection, at capacity",
				"remote_addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		// Handshakes do network I/O; a stalled peer must not block the
		// accept loop.
		s.tm.Spawn(fmt.Sprintf("handshake %s", conn.RemoteAddr()), func() {
			s.handleConnection(ctx, conn)
		})
	}
}

// handleConnection upgrades one accepted connection into a pumped
// downstream and hands its inbound side to the router.
func (s *Server) handleConnection(ctx context.Context, netConn net.Conn) {
	remoteAddr := netConn.RemoteAddr().String()

	reader, writer, err := s.handshaker.Handshake(ctx, netConn)
	if err != nil {
		s.logger.WithError(err).Error("handshake failed", "remote_addr", remoteAddr)
		_ = netConn.Close()
		return
	}

	id := s.nextID.Add(1)
	c := &Conn{
		ID:         id,
		RemoteAddr: remoteAddr,
		Status:     status.Downstream(id),
		Inbound:    connection.NewQueue(s.cfg.QueueCapacity),
		Outbound:   connection.NewQueue(s.cfg.QueueCapacity),
	}

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	clog := s.logger.WithDownstream(id, remoteAddr)
	clog.LogConnection("accepted", remoteAddr)

	connection.SpawnIOTasks(s.tm, clog, reader, writer, c.Outbound, c.Inbound, s.sig, c.Status)

	s.tm.Spawn(fmt.Sprintf("router-%d", id), func() {
		s.router.Serve(ctx, c)
		s.teardownDownstream(c, netConn)
	})
}

// teardownDownstream runs once the router stops consuming a downstream's
// inbound queue. It scopes a shutdown to this downstream so a pump that is
// still alive exits, waits for the writer to finish, and only then closes
// the socket and forgets the connection.
func (s *Server) teardownDownstream(c *Conn, netConn net.Conn) {
	s.sig.Publish(shutdown.OneDownstream(c.ID))
	<-c.Outbound.Done()

	if err := netConn.Close(); err != nil {
		s.logger.Debug("failed to close connection", "error", err)
	}

	s.mu.Lock()
	delete(s.conns, c.ID)
	s.mu.Unlock()

	s.logger.LogConnection("closed", c.RemoteAddr)
	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
}

// ConnectTemplateProvider dials the upstream template provider and pumps it
// with template-receiver identity, which downstream-scoped shutdowns never
// touch. Losing this connection outside of a shutdown stops the whole
// gateway: without templates there is no work to hand out.
func (s *Server) ConnectTemplateProvider(ctx context.Context) error {
	addr := s.cfg.TemplateProviderAddr

	netConn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial template provider %s: %w", addr, err)
	}

	reader, writer, err := s.handshaker.Handshake(ctx, netConn)
	if err != nil {
		_ = netConn.Close()
		return fmt.Errorf("template provider handshake failed: %w", err)
	}

	c := &Conn{
		RemoteAddr: addr,
		Status:     status.TemplateReceiver(),
		Inbound:    connection.NewQueue(s.cfg.QueueCapacity),
		Outbound:   connection.NewQueue(s.cfg.QueueCapacity),
	}

	tlog := s.logger.WithComponent("template_receiver")
	tlog.Info("connected to template provider", "address", addr)

	connection.SpawnIOTasks(s.tm, tlog, reader, writer, c.Outbound, c.Inbound, s.sig, c.Status)

	s.tm.Spawn("template-router", func() {
		s.router.Serve(ctx, c)
		<-c.Outbound.Done()
		if err := netConn.Close(); err != nil {
			tlog.Debug("failed to close connection", "error", err)
		}
		if !s.stopping.Load() {
			tlog.Error("template provider connection lost, stopping gateway")
			s.sig.Publish(shutdown.All())
		}
	})

	return nil
}

// Addr returns the listener's bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// DownstreamCount returns the number of live downstream connections.
func (s *Server) DownstreamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// DisconnectAllDownstreams scopes a shutdown to every downstream while the
// template receiver keeps running.
func (s *Server) DisconnectAllDownstreams() {
	s.logger.LogShutdownScope("all_downstreams", 0)
	s.sig.Publish(shutdown.AllDownstreams())
}

// Stop shuts the whole gateway down: every pump and router is told to stop,
// the listener closes, and Stop blocks until every supervised task has
// drained or the context expires.
func (s *Server) Stop(ctx context.Context) error {
	s.stopping.Store(true)
	s.logger.LogShutdownScope("all", 0)
	s.sig.Publish(shutdown.All())

	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener != nil {
		if err := listener.Close(); err != nil {
			s.logger.Debug("failed to close listener", "error", err)
		}
	}

	return s.tm.Wait(ctx)
}
