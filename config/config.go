// Package config defines the application configuration, its validation rules
// and defaults. Configuration is loaded from a JSON or YAML file; CLI flags
// and environment variables only select the file and logging options.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/sbernauer/breakwater-rewrite-2/canvas"
	"github.com/sbernauer/breakwater-rewrite-2/errors"
)

// Config represents the complete application configuration.
type Config struct {
	Canvas  CanvasConfig  `json:"canvas" yaml:"canvas"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Frames  FramesConfig  `json:"frames" yaml:"frames"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// CanvasConfig holds the immutable canvas dimensions.
type CanvasConfig struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// ServerConfig holds the pixel listener settings.
type ServerConfig struct {
	// Listen is the TCP address clients connect to, e.g. ":1234".
	Listen string `json:"listen" yaml:"listen"`

	// MaxConnections caps concurrently open client connections.
	// 0 means unlimited.
	MaxConnections int `json:"max_connections" yaml:"max_connections"`

	// ReadBufferSize is the per-connection read buffer in bytes. A single
	// command line must fit into it.
	ReadBufferSize int `json:"read_buffer_size" yaml:"read_buffer_size"`
}

// FramesConfig holds the frame streaming bridge settings.
type FramesConfig struct {
	// Interval between canvas snapshots, e.g. "100ms".
	Interval string `json:"interval" yaml:"interval"`

	// ViewerListen is the HTTP address serving the websocket viewer
	// endpoint. Empty disables the endpoint.
	ViewerListen string `json:"viewer_listen" yaml:"viewer_listen"`

	// NATS optionally mirrors frames to a NATS subject.
	NATS NATSConfig `json:"nats" yaml:"nats"`

	interval time.Duration
}

// NATSConfig holds the optional NATS frame publisher settings.
type NATSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

// MetricsConfig holds the Prometheus exporter settings.
type MetricsConfig struct {
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path" yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Canvas: CanvasConfig{Width: 1280, Height: 720},
		Server: ServerConfig{
			Listen:         ":1234",
			MaxConnections: 0,
			ReadBufferSize: 64 * 1024,
		},
		Frames: FramesConfig{
			Interval:     "100ms",
			ViewerListen: ":8080",
			NATS: NATSConfig{
				Enabled: false,
				URL:     "nats://localhost:4222",
				Subject: "breakwater.frames",
			},
		},
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
	}
}

// Interval returns the parsed snapshot interval. Only valid after Validate.
func (f *FramesConfig) SnapshotInterval() time.Duration {
	return f.interval
}

// Validate checks the config and resolves derived values. It must be called
// before the config is handed to components.
func (c *Config) Validate() error {
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 ||
		c.Canvas.Width > canvas.MaxDimension || c.Canvas.Height > canvas.MaxDimension {
		return errors.WrapInvalid(
			fmt.Errorf("canvas dimensions %dx%d out of range (1..%d)",
				c.Canvas.Width, c.Canvas.Height, canvas.MaxDimension),
			"config", "Validate", "canvas validation")
	}

	if c.Server.Listen == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "server.listen validation")
	}
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("server.listen %q: %w", c.Server.Listen, err),
			"config", "Validate", "server.listen validation")
	}

	if c.Server.MaxConnections < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("server.max_connections must be >= 0, got %d", c.Server.MaxConnections),
			"config", "Validate", "connection cap validation")
	}

	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = 64 * 1024
	}
	if c.Server.ReadBufferSize < 64 {
		return errors.WrapInvalid(
			fmt.Errorf("server.read_buffer_size must hold at least one command line, got %d",
				c.Server.ReadBufferSize),
			"config", "Validate", "read buffer validation")
	}

	if c.Frames.Interval == "" {
		c.Frames.Interval = "100ms"
	}
	interval, err := time.ParseDuration(c.Frames.Interval)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("frames.interval %q: %w", c.Frames.Interval, err),
			"config", "Validate", "snapshot interval validation")
	}
	if interval < time.Millisecond {
		return errors.WrapInvalid(
			fmt.Errorf("frames.interval %s below 1ms", interval),
			"config", "Validate", "snapshot interval validation")
	}
	c.Frames.interval = interval

	if c.Frames.NATS.Enabled {
		if c.Frames.NATS.URL == "" || c.Frames.NATS.Subject == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"config", "Validate", "frames.nats validation")
		}
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("metrics.port %d out of range", c.Metrics.Port),
			"config", "Validate", "metrics port validation")
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}
