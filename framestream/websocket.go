package framestream

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds a single frame write to a viewer.
	writeTimeout = 5 * time.Second

	// viewerChannelDepth is the per-viewer frame buffer. Depth 1 means a
	// viewer that cannot keep up always skips to the latest frame.
	viewerChannelDepth = 1
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// startViewerServer binds the viewer HTTP listener and serves the websocket
// endpoint on /frames. Must be called with b.mu held.
func (b *Bridge) startViewerServer() error {
	lis, err := net.Listen("tcp", b.viewerListen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", b.viewerListen, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/frames", b.handleViewer)

	b.httpListener = lis
	b.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	b.logger.Info("viewer endpoint listening", "addr", lis.Addr().String())

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if serr := b.httpServer.Serve(lis); serr != nil && serr != http.ErrServerClosed {
			b.logger.Error("viewer server failed", "error", serr)
		}
	}()

	return nil
}

// handleViewer upgrades the connection and streams binary frames until the
// viewer disconnects or the bridge shuts down.
func (b *Bridge) handleViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("viewer upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if b.metrics != nil {
		b.metrics.viewerConnects.Inc()
	}

	id := "viewer-" + uuid.NewString()
	frames := make(chan Frame, viewerChannelDepth)
	if err := b.bus.Subscribe(id, frames); err != nil {
		b.logger.Debug("viewer subscribe failed", "viewer", id, "error", err)
		return
	}
	defer func() { _ = b.bus.Unsubscribe(id) }()

	b.logger.Debug("viewer connected", "viewer", id, "remote", r.RemoteAddr)

	// The read pump only detects the peer going away; viewers send nothing
	// meaningful.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	b.mu.RLock()
	shutdown := b.shutdown
	b.mu.RUnlock()

	var encodeBuf []byte
	for {
		select {
		case <-shutdown:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-disconnected:
			b.logger.Debug("viewer disconnected", "viewer", id)
			return
		case frame := <-frames:
			encodeBuf = EncodeBinary(frame, encodeBuf)
			if b.metrics != nil {
				b.metrics.encodedFrameBytes.Observe(float64(len(encodeBuf)))
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if werr := conn.WriteMessage(websocket.BinaryMessage, encodeBuf); werr != nil {
				b.logger.Debug("viewer write failed", "viewer", id, "error", werr)
				return
			}
		}
	}
}
