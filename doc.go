// Package breakwater is a high-throughput pixelflut server: many concurrent
// TCP clients push short ASCII commands that set or read single pixels of a
// large shared in-memory canvas.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         Listener (server)           │  Accept loop, one goroutine
//	│                                     │  per accepted connection
//	└─────────────────────────────────────┘
//	           ↓ feeds bytes to
//	┌─────────────────────────────────────┐
//	│       Command parser (protocol)     │  Zero-allocation forward scan,
//	│                                     │  PX / SIZE / HELP grammar
//	└─────────────────────────────────────┘
//	           ↓ writes pixels to
//	┌─────────────────────────────────────┐
//	│         Canvas (canvas)             │  Flat []uint32 grid, one atomic
//	│                                     │  cell per pixel, no global lock
//	└─────────────────────────────────────┘
//	           ↓ snapshotted by
//	┌─────────────────────────────────────┐
//	│   Frame bridge (framestream)        │  Interval snapshots fanned out
//	│                                     │  to websocket / NATS viewers
//	└─────────────────────────────────────┘
//
// Operational counters live in the stats package and are exported through a
// Prometheus endpoint (metric package). All components follow the lifecycle
// contract in the component package: Initialize, Start(ctx), Stop(timeout).
//
// The ingestion path holds no locks: canvas cells and statistics counters are
// plain atomics, so thousands of connections mutate the canvas concurrently
// while every observed pixel value is one that some client actually wrote.
package breakwater
