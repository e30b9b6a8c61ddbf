package canvas

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesDimensions(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		height  int
		wantErr bool
	}{
		{"valid", 800, 600, false},
		{"minimal", 1, 1, false},
		{"zero width", 0, 600, true},
		{"zero height", 800, 0, true},
		{"negative", -1, 600, true},
		{"too large", MaxDimension + 1, 600, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.width, tt.height)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			w, h := c.Dimensions()
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
		})
	}
}

func TestSetGet_RoundTrip(t *testing.T) {
	c, err := New(16, 16)
	require.NoError(t, err)

	c.Set(3, 7, 0x112233ff)
	v, ok := c.Get(3, 7)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x112233ff), v)

	// Untouched pixels stay black
	v, ok = c.Get(0, 0)
	assert.True(t, ok)
	assert.Equal(t, uint32(0), v)
}

func TestSet_OutOfBoundsIsNoOp(t *testing.T) {
	c, err := New(4, 4)
	require.NoError(t, err)

	c.Set(1, 1, 0xaabbccff)

	for _, p := range [][2]int{{-1, 0}, {0, -1}, {4, 0}, {0, 4}, {1000, 1000}} {
		c.Set(p[0], p[1], 0xdeadbeef)
	}

	// In-bounds pixels unaffected
	v, ok := c.Get(1, 1)
	assert.True(t, ok)
	assert.Equal(t, uint32(0xaabbccff), v)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			v, _ := c.Get(x, y)
			assert.NotEqual(t, uint32(0xdeadbeef), v)
		}
	}
}

func TestGet_OutOfBounds(t *testing.T) {
	c, err := New(4, 4)
	require.NoError(t, err)

	for _, p := range [][2]int{{-1, 0}, {0, -1}, {4, 0}, {0, 4}} {
		_, ok := c.Get(p[0], p[1])
		assert.False(t, ok)
	}
}

func TestFill(t *testing.T) {
	c, err := New(8, 8)
	require.NoError(t, err)

	c.Fill(0x010203ff)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v, ok := c.Get(x, y)
			require.True(t, ok)
			assert.Equal(t, uint32(0x010203ff), v)
		}
	}
}

func TestSnapshot_ReusesBuffer(t *testing.T) {
	c, err := New(4, 2)
	require.NoError(t, err)
	c.Set(3, 1, 0x445566ff)

	snap := c.Snapshot(nil)
	require.Len(t, snap, 8)
	assert.Equal(t, uint32(0x445566ff), snap[1*4+3])

	// Second call reuses the same backing array
	snap2 := c.Snapshot(snap)
	assert.Equal(t, &snap[0], &snap2[0])
}

// Two goroutines hammer the same pixel with distinct colors; every observed
// value must be one of the two, never a byte-level mixture.
func TestConcurrentWrites_NeverTear(t *testing.T) {
	c, err := New(8, 8)
	require.NoError(t, err)

	const iterations = 10000
	colorA := uint32(0xff0000ff)
	colorB := uint32(0x00ff00ff)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			c.Set(3, 3, colorA)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			c.Set(3, 3, colorB)
		}
	}()

	observed := make(map[uint32]bool)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if v, ok := c.Get(3, 3); ok {
				observed[v] = true
			}
		}
	}()

	wg.Wait()

	final, ok := c.Get(3, 3)
	require.True(t, ok)
	assert.Contains(t, []uint32{colorA, colorB}, final)

	for v := range observed {
		assert.Contains(t, []uint32{0, colorA, colorB}, v)
	}
}

func TestSnapshot_OnlyFullyFormedPixels(t *testing.T) {
	c, err := New(16, 16)
	require.NoError(t, err)

	colors := []uint32{0x111111ff, 0x222222ff, 0x333333ff}
	done := make(chan struct{})

	var wg sync.WaitGroup
	for _, col := range colors {
		wg.Add(1)
		go func(col uint32) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for i := 0; i < 16*16; i++ {
					c.Set(i%16, i/16, col)
				}
			}
		}(col)
	}

	valid := map[uint32]bool{0: true}
	for _, col := range colors {
		valid[col] = true
	}

	var snap []uint32
	for i := 0; i < 100; i++ {
		snap = c.Snapshot(snap)
		for _, v := range snap {
			if !valid[v] {
				close(done)
				wg.Wait()
				t.Fatalf("snapshot observed torn pixel value %08x", v)
			}
		}
	}

	close(done)
	wg.Wait()
}

func BenchmarkSet(b *testing.B) {
	c, _ := New(1280, 720)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Set(i%1280, (i/1280)%720, uint32(i))
	}
}

func BenchmarkSnapshot(b *testing.B) {
	c, _ := New(1280, 720)
	var buf []uint32
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = c.Snapshot(buf)
	}
}
