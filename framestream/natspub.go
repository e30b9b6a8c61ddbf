package framestream

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/sbernauer/breakwater-rewrite-2/pkg/retry"
)

// natsPublisherID identifies the internal bus subscription that feeds NATS.
const natsPublisherID = "nats-publisher"

// startNATSPublisher connects to the broker and starts the publish loop as a
// regular bus subscriber. Must be called with b.mu held.
func (b *Bridge) startNATSPublisher(ctx context.Context) error {
	var nc *nats.Conn

	connectOperation := func() error {
		conn, err := nats.Connect(b.natsCfg.URL,
			nats.Name("breakwater-frame-bridge"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", b.natsCfg.URL, err)
		}
		nc = conn
		return nil
	}

	if err := retry.Do(ctx, b.retryConfig, connectOperation); err != nil {
		return err
	}
	b.natsConn = nc

	frames := make(chan Frame, viewerChannelDepth)
	if err := b.bus.Subscribe(natsPublisherID, frames); err != nil {
		nc.Close()
		b.natsConn = nil
		return err
	}

	b.logger.Info("nats frame publisher connected",
		"url", b.natsCfg.URL, "subject", b.natsCfg.Subject)

	shutdown := b.shutdown
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.natsLoop(shutdown, frames)
	}()

	return nil
}

// natsLoop mirrors frames to the configured subject until shutdown. Publish
// failures are counted, logged and skipped; the loop never blocks the bus.
func (b *Bridge) natsLoop(shutdown <-chan struct{}, frames <-chan Frame) {
	var encodeBuf []byte

	for {
		select {
		case <-shutdown:
			return
		case frame := <-frames:
			encodeBuf = EncodeBinary(frame, encodeBuf)
			if err := b.natsConn.Publish(b.natsCfg.Subject, encodeBuf); err != nil {
				b.publishErrors.Add(1)
				if b.metrics != nil {
					b.metrics.natsErrors.Inc()
				}
				b.logger.Warn("nats publish failed",
					"subject", b.natsCfg.Subject, "seq", frame.Seq, "error", err)
				continue
			}
			if b.metrics != nil {
				b.metrics.natsPublished.Inc()
			}
		}
	}
}

// closeNATS flushes and closes the broker connection if one exists. Must be
// called with b.mu held.
func (b *Bridge) closeNATS() {
	if b.natsConn == nil {
		return
	}
	_ = b.natsConn.Flush()
	b.natsConn.Close()
	b.natsConn = nil
}
