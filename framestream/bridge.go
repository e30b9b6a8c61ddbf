package framestream

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sbernauer/breakwater-rewrite-2/canvas"
	"github.com/sbernauer/breakwater-rewrite-2/component"
	"github.com/sbernauer/breakwater-rewrite-2/config"
	"github.com/sbernauer/breakwater-rewrite-2/errors"
	"github.com/sbernauer/breakwater-rewrite-2/metric"
	"github.com/sbernauer/breakwater-rewrite-2/pkg/retry"
)

// Bridge snapshots the canvas on a fixed interval and publishes the frames
// to the bus. It optionally serves a websocket viewer endpoint and mirrors
// frames to a NATS subject.
type Bridge struct {
	name         string
	interval     time.Duration
	viewerListen string
	natsCfg      config.NATSConfig

	canvas *canvas.Canvas
	bus    *Bus
	logger *slog.Logger

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup

	httpListener net.Listener
	httpServer   *http.Server
	natsConn     *nats.Conn

	seq           atomic.Uint64
	publishErrors atomic.Int64

	retryConfig retry.Config
	metrics     *Metrics
}

// Ensure Bridge implements the lifecycle contract
var _ component.LifecycleComponent = (*Bridge)(nil)

// Deps holds runtime dependencies for the frame bridge
type Deps struct {
	Name            string
	Config          config.FramesConfig
	Canvas          *canvas.Canvas
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// New creates a frame bridge from its dependencies.
func New(deps Deps) *Bridge {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "frame-bridge")
	}

	interval := deps.Config.SnapshotInterval()
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	bus := NewBus()

	return &Bridge{
		name:         deps.Name,
		interval:     interval,
		viewerListen: deps.Config.ViewerListen,
		natsCfg:      deps.Config.NATS,
		canvas:       deps.Canvas,
		bus:          bus,
		logger:       logger,
		retryConfig:  retry.DefaultConfig(),
		startTime:    time.Now(),
		metrics:      newMetrics(deps.MetricsRegistry, bus),
	}
}

// Bus exposes the frame bus for additional subscribers.
func (b *Bridge) Bus() *Bus {
	return b.bus
}

// Meta returns the component metadata
func (b *Bridge) Meta() component.Metadata {
	name := b.name
	if name == "" {
		name = "frame-bridge"
	}

	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: fmt.Sprintf("canvas frame streaming every %s", b.interval),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (b *Bridge) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    b.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(b.publishErrors.Load()),
		Uptime:     time.Since(b.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (b *Bridge) DataFlow() component.FlowMetrics {
	stats := b.bus.Stats()

	var framesPerSecond float64
	var errorRate float64

	if uptime := time.Since(b.startTime).Seconds(); uptime > 0 {
		framesPerSecond = float64(stats.TotalPublished) / uptime
	}
	if total := stats.TotalSent + stats.TotalDropped; total > 0 {
		errorRate = float64(stats.TotalDropped) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: framesPerSecond,
		BytesPerSecond:    framesPerSecond * float64(b.canvasBytes()),
		ErrorRate:         errorRate,
	}
}

func (b *Bridge) canvasBytes() int {
	if b.canvas == nil {
		return 0
	}
	w, h := b.canvas.Dimensions()
	return headerSize + w*h*4
}

// Initialize validates the bridge configuration.
func (b *Bridge) Initialize() error {
	if b.canvas == nil {
		return errors.WrapInvalid(fmt.Errorf("nil canvas"),
			"frame-bridge", "Initialize", "canvas validation")
	}
	if b.interval < time.Millisecond {
		return errors.WrapInvalid(fmt.Errorf("snapshot interval %s below 1ms", b.interval),
			"frame-bridge", "Initialize", "interval validation")
	}
	if b.natsCfg.Enabled && (b.natsCfg.URL == "" || b.natsCfg.Subject == "") {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"frame-bridge", "Initialize", "nats validation")
	}
	return nil
}

// Start begins snapshotting and brings up the optional viewer endpoint and
// NATS publisher.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running.Load() {
		return nil // Already running, idempotent
	}

	b.shutdown = make(chan struct{})
	b.done = make(chan struct{})

	if b.natsCfg.Enabled {
		if err := b.startNATSPublisher(ctx); err != nil {
			b.cleanupUnlocked()
			return errors.WrapFatal(err, "frame-bridge", "Start", "nats publisher startup")
		}
	}

	if b.viewerListen != "" {
		if err := b.startViewerServer(); err != nil {
			b.cleanupUnlocked()
			return errors.WrapFatal(err, "frame-bridge", "Start", "viewer endpoint startup")
		}
	}

	b.running.Store(true)
	b.startTime = time.Now()

	b.logger.Info("frame bridge started",
		"interval", b.interval,
		"viewer_listen", b.viewerListen,
		"nats_enabled", b.natsCfg.Enabled)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.done)
		b.snapshotLoop(ctx)
	}()

	return nil
}

// snapshotLoop publishes one frame per tick until shutdown.
func (b *Bridge) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		case <-ticker.C:
			b.publishFrame()
		}
	}
}

// publishFrame copies the canvas and hands the frame to the bus. Each frame
// carries its own pixel slice because subscribers consume it asynchronously.
func (b *Bridge) publishFrame() {
	start := time.Now()
	pixels := b.canvas.Snapshot(nil)
	if b.metrics != nil {
		b.metrics.snapshotDuration.Observe(time.Since(start).Seconds())
	}

	width, height := b.canvas.Dimensions()
	frame := Frame{
		Width:     width,
		Height:    height,
		Pixels:    pixels,
		Seq:       b.seq.Add(1),
		Timestamp: start,
	}

	b.bus.Publish(frame)
	if b.metrics != nil {
		b.metrics.framesPublished.Inc()
	}
}

// ViewerAddr returns the bound viewer address, useful when listening on
// port 0. Nil when the endpoint is disabled or not started.
func (b *Bridge) ViewerAddr() net.Addr {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.httpListener == nil {
		return nil
	}
	return b.httpListener.Addr()
}

// Stop halts snapshotting, shuts down the viewer endpoint and drains the
// NATS publisher within the timeout.
func (b *Bridge) Stop(timeout time.Duration) error {
	if !b.running.Load() {
		return nil
	}
	b.running.Store(false)

	b.mu.Lock()
	if b.shutdown != nil {
		select {
		case <-b.shutdown:
		default:
			close(b.shutdown)
		}
	}
	httpServer := b.httpServer
	b.mu.Unlock()

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := httpServer.Shutdown(ctx); err != nil {
			_ = httpServer.Close()
		}
		cancel()
	}

	waited := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"frame-bridge", "Stop", "graceful shutdown")
	}

	b.cleanup()
	return nil
}

func (b *Bridge) cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanupUnlocked()
}

func (b *Bridge) cleanupUnlocked() {
	if b.shutdown != nil {
		select {
		case <-b.shutdown:
		default:
			close(b.shutdown)
		}
		b.shutdown = nil
	}
	b.done = nil
	if b.httpListener != nil {
		_ = b.httpListener.Close()
		b.httpListener = nil
	}
	b.httpServer = nil
	b.closeNATS()
	_ = b.bus.Close()
}
