// Package protocol implements the textual pixelflut command parser.
//
// The parser is a single forward scan over a byte buffer: it consumes every
// complete LF-terminated command, applies pixel writes directly to the
// canvas, appends query responses to a caller-owned buffer, and reports how
// many bytes it consumed so the caller can retain the incomplete suffix for
// the next read. It never backtracks past a consumed line and allocates
// nothing per command.
package protocol

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/sbernauer/breakwater-rewrite-2/canvas"
)

// MaxCoordinate bounds decoded x/y values. Larger values are a field parse
// failure, which invalidates only that line.
const MaxCoordinate = 1 << 24

// Counts accumulates per-pass counters. The caller folds them into the
// statistics aggregator once per parse pass instead of per command.
type Counts struct {
	Commands  int64 // recognized commands applied
	PixelsSet int64 // subset of Commands that stored a pixel
	Errors    int64 // lines skipped as malformed or unrecognized
}

// Parser applies the PX / SIZE / HELP command family to a canvas.
type Parser struct {
	canvas       *canvas.Canvas
	sizeResponse []byte
}

// NewParser creates a parser bound to cv. The SIZE response is precomputed
// since dimensions are immutable.
func NewParser(cv *canvas.Canvas) *Parser {
	w, h := cv.Dimensions()
	return &Parser{
		canvas:       cv,
		sizeResponse: []byte(fmt.Sprintf("SIZE %d %d\n", w, h)),
	}
}

// Parse consumes all complete commands in buf. Query responses are appended
// to resp in the order their commands appear in the stream; the grown resp
// slice is returned alongside the number of consumed bytes. Bytes after the
// last LF are left for the caller to carry over.
func (p *Parser) Parse(buf []byte, resp []byte) (consumed int, out []byte, counts Counts) {
	out = resp
	for {
		nl := bytes.IndexByte(buf[consumed:], '\n')
		if nl < 0 {
			return consumed, out, counts
		}
		line := buf[consumed : consumed+nl]
		consumed += nl + 1
		out = p.applyLine(line, out, &counts)
	}
}

// applyLine decodes and applies a single command line (without the LF).
// Malformed lines are counted and skipped, never fatal.
func (p *Parser) applyLine(line, resp []byte, counts *Counts) []byte {
	switch {
	case len(line) > 3 && line[0] == 'P' && line[1] == 'X' && line[2] == ' ':
		return p.applyPixel(line[3:], resp, counts)
	case len(line) == 4 && line[0] == 'S' && line[1] == 'I' && line[2] == 'Z' && line[3] == 'E':
		counts.Commands++
		return append(resp, p.sizeResponse...)
	case len(line) == 4 && line[0] == 'H' && line[1] == 'E' && line[2] == 'L' && line[3] == 'P':
		counts.Commands++
		return append(resp, HelpText...)
	default:
		counts.Errors++
		return resp
	}
}

// applyPixel handles the argument part of a PX command: "x y", "x y rrggbb",
// "x y rrggbbaa" or "x y gg".
func (p *Parser) applyPixel(args, resp []byte, counts *Counts) []byte {
	x, n := parseDecimal(args)
	if n == 0 || n >= len(args) || args[n] != ' ' {
		counts.Errors++
		return resp
	}
	args = args[n+1:]

	y, n := parseDecimal(args)
	if n == 0 {
		counts.Errors++
		return resp
	}
	args = args[n:]

	// No color field: read back the current pixel. Out-of-range reads
	// produce no response, matching the canvas contract.
	if len(args) == 0 {
		counts.Commands++
		if v, ok := p.canvas.Get(x, y); ok {
			resp = appendPixelResponse(resp, x, y, v)
		}
		return resp
	}

	if args[0] != ' ' {
		counts.Errors++
		return resp
	}
	args = args[1:]

	var rgba uint32
	switch len(args) {
	case 6: // rrggbb, implicitly opaque
		v, ok := parseHex(args)
		if !ok {
			counts.Errors++
			return resp
		}
		rgba = v<<8 | canvas.AlphaOpaque
	case 8: // rrggbbaa, alpha stored verbatim, never blended
		v, ok := parseHex(args)
		if !ok {
			counts.Errors++
			return resp
		}
		rgba = v
	case 2: // gg, grayscale shorthand
		v, ok := parseHex(args)
		if !ok {
			counts.Errors++
			return resp
		}
		rgba = v<<24 | v<<16 | v<<8 | canvas.AlphaOpaque
	default:
		counts.Errors++
		return resp
	}

	// Out-of-bounds coordinates are the canvas' problem (silent no-op); the
	// grammar accepted the line, so it still counts as a command.
	p.canvas.Set(x, y, rgba)
	counts.Commands++
	counts.PixelsSet++
	return resp
}

// parseDecimal reads leading ASCII digits and returns the value and the
// number of bytes consumed. n == 0 means no digit was present; values above
// MaxCoordinate also return n == 0.
func parseDecimal(b []byte) (v, n int) {
	for n < len(b) {
		c := b[n]
		if c < '0' || c > '9' {
			break
		}
		v = v*10 + int(c-'0')
		if v > MaxCoordinate {
			return 0, 0
		}
		n++
	}
	return v, n
}

// hexTable maps ASCII to nibble values, 0xff marking invalid input. Built
// once at package init.
var hexTable = func() (t [256]byte) {
	for i := range t {
		t[i] = 0xff
	}
	for c := byte('0'); c <= '9'; c++ {
		t[c] = c - '0'
	}
	for c := byte('a'); c <= 'f'; c++ {
		t[c] = c - 'a' + 10
	}
	for c := byte('A'); c <= 'F'; c++ {
		t[c] = c - 'A' + 10
	}
	return t
}()

// parseHex decodes the full slice as hexadecimal (2, 6 or 8 digits).
func parseHex(b []byte) (uint32, bool) {
	var v uint32
	for _, c := range b {
		nib := hexTable[c]
		if nib == 0xff {
			return 0, false
		}
		v = v<<4 | uint32(nib)
	}
	return v, true
}

const hexDigits = "0123456789abcdef"

// appendPixelResponse appends "PX <x> <y> <rrggbb>\n" using the stored
// 0xRRGGBBAA value, dropping alpha on output.
func appendPixelResponse(resp []byte, x, y int, rgba uint32) []byte {
	resp = append(resp, 'P', 'X', ' ')
	resp = strconv.AppendInt(resp, int64(x), 10)
	resp = append(resp, ' ')
	resp = strconv.AppendInt(resp, int64(y), 10)
	resp = append(resp, ' ')
	rgb := rgba >> 8
	for shift := 20; shift >= 0; shift -= 4 {
		resp = append(resp, hexDigits[(rgb>>uint(shift))&0xf])
	}
	return append(resp, '\n')
}
