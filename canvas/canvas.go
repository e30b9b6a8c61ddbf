// Package canvas implements the shared pixel grid all connections draw on.
//
// The grid is a flat []uint32 with one atomically read/written cell per
// pixel, so thousands of writers mutate it concurrently without any lock and
// a reader can never observe a torn pixel. There is deliberately no
// cross-pixel consistency: the canvas is a live surface, not a transactional
// store.
package canvas

import (
	"fmt"
	"sync/atomic"

	"github.com/sbernauer/breakwater-rewrite-2/errors"
)

// Pixel values are packed as 0xRRGGBBAA.
const (
	// AlphaOpaque is the alpha byte stored for commands without an explicit
	// alpha channel.
	AlphaOpaque = 0xff

	// MaxDimension bounds configurable canvas width and height.
	MaxDimension = 1 << 14
)

// Canvas is a fixed-size shared pixel store. Dimensions are immutable for the
// lifetime of the process; the zero value is not usable, use New.
type Canvas struct {
	width  int
	height int
	pixels []uint32
}

// New creates a canvas of the given dimensions with all pixels black.
func New(width, height int) (*Canvas, error) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return nil, errors.WrapInvalid(
			fmt.Errorf("dimensions %dx%d out of range (1..%d)", width, height, MaxDimension),
			"canvas", "New", "dimension validation")
	}

	return &Canvas{
		width:  width,
		height: height,
		pixels: make([]uint32, width*height),
	}, nil
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() int { return c.width }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() int { return c.height }

// Dimensions returns (width, height).
func (c *Canvas) Dimensions() (int, int) { return c.width, c.height }

// Set stores rgba (0xRRGGBBAA) at (x, y). Out-of-bounds coordinates are a
// silent no-op. The store is a single atomic write, so concurrent writers to
// the same pixel race last-writer-wins but never mix bytes.
func (c *Canvas) Set(x, y int, rgba uint32) {
	if uint(x) >= uint(c.width) || uint(y) >= uint(c.height) {
		return
	}
	atomic.StoreUint32(&c.pixels[y*c.width+x], rgba)
}

// Get returns the pixel at (x, y) and true, or (0, false) when the
// coordinates are out of bounds.
func (c *Canvas) Get(x, y int) (uint32, bool) {
	if uint(x) >= uint(c.width) || uint(y) >= uint(c.height) {
		return 0, false
	}
	return atomic.LoadUint32(&c.pixels[y*c.width+x]), true
}

// Fill sets every pixel to rgba. Used to seed the canvas at startup.
func (c *Canvas) Fill(rgba uint32) {
	for i := range c.pixels {
		atomic.StoreUint32(&c.pixels[i], rgba)
	}
}

// Snapshot copies the grid into dst and returns it, allocating when dst is
// too small. Every copied cell is an atomic load, so each pixel is a value
// some writer actually stored; pixels written during the copy may or may not
// be included.
func (c *Canvas) Snapshot(dst []uint32) []uint32 {
	if cap(dst) < len(c.pixels) {
		dst = make([]uint32, len(c.pixels))
	}
	dst = dst[:len(c.pixels)]
	for i := range c.pixels {
		dst[i] = atomic.LoadUint32(&c.pixels[i])
	}
	return dst
}
