// Package server implements the TCP listener and per-connection workers of
// the pixel ingestion path.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sbernauer/breakwater-rewrite-2/canvas"
	"github.com/sbernauer/breakwater-rewrite-2/component"
	"github.com/sbernauer/breakwater-rewrite-2/config"
	"github.com/sbernauer/breakwater-rewrite-2/errors"
	"github.com/sbernauer/breakwater-rewrite-2/metric"
	"github.com/sbernauer/breakwater-rewrite-2/pkg/retry"
	"github.com/sbernauer/breakwater-rewrite-2/protocol"
	"github.com/sbernauer/breakwater-rewrite-2/stats"
)

// Server accepts pixelflut clients and runs one connection worker goroutine
// per accepted socket. All workers share the canvas and the statistics
// aggregator; there is no other shared state between connections.
type Server struct {
	name     string
	listen   string
	maxConns int
	bufSize  int

	canvas *canvas.Canvas
	parser *protocol.Parser
	stats  *stats.Aggregator
	logger *slog.Logger

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	listener  net.Listener

	// Live connections, tracked so Stop can close them
	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	acceptErrors atomic.Int64
	retryConfig  retry.Config

	metrics *Metrics
}

// Ensure Server implements the lifecycle contract
var _ component.LifecycleComponent = (*Server)(nil)

// Deps holds runtime dependencies for the pixel server
type Deps struct {
	Name            string
	Config          config.ServerConfig
	Canvas          *canvas.Canvas
	Stats           *stats.Aggregator
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// New creates a pixel server from its dependencies.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "pixel-server", "listen", deps.Config.Listen)
	}

	bufSize := deps.Config.ReadBufferSize
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}

	return &Server{
		name:        deps.Name,
		listen:      deps.Config.Listen,
		maxConns:    deps.Config.MaxConnections,
		bufSize:     bufSize,
		canvas:      deps.Canvas,
		parser:      protocol.NewParser(deps.Canvas),
		stats:       deps.Stats,
		logger:      logger,
		conns:       make(map[net.Conn]struct{}),
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, deps.Stats),
	}
}

// Meta returns the component metadata
func (s *Server) Meta() component.Metadata {
	name := s.name
	if name == "" {
		name = "pixel-server"
	}

	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("pixelflut TCP listener on %s", s.listen),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (s *Server) Health() component.HealthStatus {
	s.mu.RLock()
	running := s.running.Load()
	listening := s.listener != nil
	s.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running && listening,
		LastCheck:  time.Now(),
		ErrorCount: int(s.acceptErrors.Load()),
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (s *Server) DataFlow() component.FlowMetrics {
	snap := s.stats.Snapshot()

	var messagesPerSecond float64
	var bytesPerSecond float64
	var errorRate float64

	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(snap.Commands) / uptime
		bytesPerSecond = float64(snap.BytesRead) / uptime
	}
	if snap.Commands > 0 {
		errorRate = float64(snap.ProtocolErrors) / float64(snap.Commands)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
	}
}

// Initialize validates the server configuration.
func (s *Server) Initialize() error {
	if s.canvas == nil {
		return errors.WrapInvalid(fmt.Errorf("nil canvas"),
			"pixel-server", "Initialize", "canvas validation")
	}
	if s.stats == nil {
		return errors.WrapInvalid(fmt.Errorf("nil statistics aggregator"),
			"pixel-server", "Initialize", "stats validation")
	}
	if s.listen == "" {
		return errors.WrapInvalid(fmt.Errorf("empty listen address"),
			"pixel-server", "Initialize", "listen address validation")
	}
	return nil
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil // Already running, idempotent
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})

	bindOperation := func() error {
		lis, err := net.Listen("tcp", s.listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.listen, err)
		}
		s.listener = lis
		return nil
	}

	if err := retry.Do(ctx, s.retryConfig, bindOperation); err != nil {
		s.cleanupUnlocked()
		return errors.WrapFatal(err, "pixel-server", "Start", "socket binding")
	}

	s.running.Store(true)
	s.startTime = time.Now()

	s.logger.Info("pixel server listening", "addr", s.listener.Addr().String())

	// Close the listener when the parent context is cancelled so the accept
	// loop unblocks.
	shutdown := s.shutdown
	lis := s.listener
	go func() {
		select {
		case <-ctx.Done():
			_ = lis.Close()
		case <-shutdown:
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.acceptLoop()
	}()

	return nil
}

// Addr returns the bound listener address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop accepts connections until the listener is closed. Transient
// accept failures back off briefly; anything else ends the loop.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}

			if errors.IsTransient(err) {
				s.acceptErrors.Add(1)
				if s.metrics != nil {
					s.metrics.socketErrors.Inc()
				}
				s.logger.Warn("transient accept failure", "error", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}

			s.logger.Error("accept loop terminated", "error", err)
			return
		}

		if s.maxConns > 0 && s.stats.ActiveConnections() >= int64(s.maxConns) {
			s.stats.RecordRejected()
			if s.metrics != nil {
				s.metrics.connectionsRejected.Inc()
			}
			s.logger.Debug("connection rejected by cap",
				"remote", conn.RemoteAddr().String(), "cap", s.maxConns)
			_ = conn.Close()
			continue
		}

		s.trackConn(conn)
		if s.metrics != nil {
			s.metrics.connectionsOpened.Inc()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackConn(conn)
			s.serveConn(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

// Stop closes the listener and all live connections, then waits for workers
// to drain within the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	// Unblock every worker's read
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"pixel-server", "Stop", "graceful shutdown")
	}

	s.cleanup()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupUnlocked()
}

func (s *Server) cleanupUnlocked() {
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
		s.shutdown = nil
	}
	s.done = nil
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}
