package framestream

import (
	"encoding/binary"
)

// Binary frame layout sent to viewers: a 20-byte header followed by the
// row-major pixel grid, 4 bytes per pixel (RGBA, big-endian).
//
//	offset 0  [4]byte  magic "PXF1"
//	offset 4  uint32   width
//	offset 8  uint32   height
//	offset 12 uint64   sequence number
//	offset 20 [w*h*4]  pixels
const (
	headerSize = 20
)

var frameMagic = [4]byte{'P', 'X', 'F', '1'}

// EncodeBinary serializes f into dst, reusing its capacity when possible,
// and returns the encoded buffer.
func EncodeBinary(f Frame, dst []byte) []byte {
	size := headerSize + len(f.Pixels)*4
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	copy(dst[0:4], frameMagic[:])
	binary.BigEndian.PutUint32(dst[4:8], uint32(f.Width))
	binary.BigEndian.PutUint32(dst[8:12], uint32(f.Height))
	binary.BigEndian.PutUint64(dst[12:20], f.Seq)

	off := headerSize
	for _, px := range f.Pixels {
		binary.BigEndian.PutUint32(dst[off:off+4], px)
		off += 4
	}
	return dst
}

// DecodeBinary parses a frame encoded by EncodeBinary. Used by tests and
// reference viewer implementations.
func DecodeBinary(data []byte) (Frame, bool) {
	if len(data) < headerSize || [4]byte(data[0:4]) != frameMagic {
		return Frame{}, false
	}

	f := Frame{
		Width:  int(binary.BigEndian.Uint32(data[4:8])),
		Height: int(binary.BigEndian.Uint32(data[8:12])),
		Seq:    binary.BigEndian.Uint64(data[12:20]),
	}

	want := f.Width * f.Height
	if want < 0 || len(data) != headerSize+want*4 {
		return Frame{}, false
	}

	f.Pixels = make([]uint32, want)
	for i := range f.Pixels {
		f.Pixels[i] = binary.BigEndian.Uint32(data[headerSize+i*4:])
	}
	return f, true
}
