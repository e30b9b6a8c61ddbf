package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbernauer/breakwater-rewrite-2/canvas"
	"github.com/sbernauer/breakwater-rewrite-2/config"
	"github.com/sbernauer/breakwater-rewrite-2/protocol"
	"github.com/sbernauer/breakwater-rewrite-2/stats"
)

// startTestServer brings up a server on an ephemeral port and tears it down
// with the test.
func startTestServer(t *testing.T, width, height, maxConns int) (*Server, *stats.Aggregator, string) {
	t.Helper()

	cv, err := canvas.New(width, height)
	require.NoError(t, err)

	agg := stats.NewAggregator()
	srv := New(Deps{
		Name: "test-server",
		Config: config.ServerConfig{
			Listen:         "127.0.0.1:0",
			MaxConnections: maxConns,
			ReadBufferSize: 1024,
		},
		Canvas: cv,
		Stats:  agg,
	})

	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(2 * time.Second) })

	addr := srv.Addr()
	require.NotNil(t, addr)
	return srv, agg, addr.String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func TestServer_SetThenGet(t *testing.T) {
	_, _, addr := startTestServer(t, 32, 32, 0)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("PX 3 4 aabbcc\nPX 3 4\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "PX 3 4 aabbcc\n", line)
}

func TestServer_Size(t *testing.T) {
	_, _, addr := startTestServer(t, 800, 600, 0)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("SIZE\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "SIZE 800 600\n", line)
}

func TestServer_Help(t *testing.T) {
	_, _, addr := startTestServer(t, 8, 8, 0)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("HELP\n"))
	require.NoError(t, err)

	expected := len(protocol.HelpText)
	got := make([]byte, expected)
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, string(protocol.HelpText), string(got))
}

func TestServer_SplitCommandAcrossWrites(t *testing.T) {
	_, _, addr := startTestServer(t, 32, 32, 0)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("PX 5 5 ab"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("cdef\nPX 5 5\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "PX 5 5 abcdef\n", line)
}

func TestServer_GarbageDoesNotKillConnection(t *testing.T) {
	_, agg, addr := startTestServer(t, 32, 32, 0)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("GARBAGE\nPX 1 1 ff0000\nPX 1 1\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "PX 1 1 ff0000\n", line)

	require.Eventually(t, func() bool {
		return agg.Snapshot().ProtocolErrors >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestServer_OversizedLineIsDropped(t *testing.T) {
	// Read buffer is 1024 bytes; a 2000 byte line must be discarded without
	// killing the connection.
	_, _, addr := startTestServer(t, 32, 32, 0)
	conn, r := dial(t, addr)

	junk := make([]byte, 2000)
	for i := range junk {
		junk[i] = 'x'
	}
	_, err := conn.Write(junk)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("\nPX 2 2 00ff00\nPX 2 2\n"))
	require.NoError(t, err)

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "PX 2 2 00ff00\n", line)
}

func TestServer_ResponsesPreserveOrder(t *testing.T) {
	_, _, addr := startTestServer(t, 16, 16, 0)
	conn, r := dial(t, addr)

	_, err := conn.Write([]byte("PX 0 0 010101\nPX 1 1 020202\nPX 0 0\nSIZE\nPX 1 1\n"))
	require.NoError(t, err)

	for _, expected := range []string{"PX 0 0 010101\n", "SIZE 16 16\n", "PX 1 1 020202\n"} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, expected, line)
	}
}

func TestServer_ConcurrentWritersLastWriterWins(t *testing.T) {
	srv, _, addr := startTestServer(t, 16, 16, 0)

	const rounds = 500
	colors := []string{"ff0000", "00ff00"}

	var wg sync.WaitGroup
	for _, col := range colors {
		wg.Add(1)
		go func(col string) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			for i := 0; i < rounds; i++ {
				if _, err := conn.Write([]byte(fmt.Sprintf("PX 3 3 %s\n", col))); err != nil {
					t.Error(err)
					return
				}
			}
		}(col)
	}
	wg.Wait()

	// The stored pixel is always one of the two written colors
	require.Eventually(t, func() bool {
		v, ok := srv.canvas.Get(3, 3)
		return ok && (v == 0xff0000ff || v == 0x00ff00ff)
	}, time.Second, 10*time.Millisecond)
}

func TestServer_ConnectionCap(t *testing.T) {
	_, agg, addr := startTestServer(t, 8, 8, 1)

	first, r1 := dial(t, addr)
	_, err := first.Write([]byte("SIZE\n"))
	require.NoError(t, err)
	_, err = r1.ReadString('\n')
	require.NoError(t, err)

	// Second connection is accepted then immediately closed by the cap
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.Error(t, err, "capped connection should be closed by the server")

	require.Eventually(t, func() bool {
		return agg.Snapshot().ConnectionsRejected == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServer_StatsAccounting(t *testing.T) {
	_, agg, addr := startTestServer(t, 16, 16, 0)
	conn, r := dial(t, addr)

	payload := "PX 0 0 111111\nPX 1 1 222222\nSIZE\n"
	_, err := conn.Write([]byte(payload))
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := agg.Snapshot()
		return snap.Commands == 3 && snap.PixelsSet == 2 && snap.BytesRead == int64(len(payload))
	}, time.Second, 10*time.Millisecond)

	snap := agg.Snapshot()
	assert.Equal(t, int64(1), snap.ConnectionsActive)
	assert.Equal(t, int64(1), snap.ConnectionsTotal)
}

func TestServer_StopClosesConnections(t *testing.T) {
	cv, err := canvas.New(8, 8)
	require.NoError(t, err)

	srv := New(Deps{
		Config: config.ServerConfig{Listen: "127.0.0.1:0", ReadBufferSize: 1024},
		Canvas: cv,
		Stats:  stats.NewAggregator(),
	})
	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, srv.Stop(2*time.Second))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "server stop should close live connections")

	// Stop is idempotent
	assert.NoError(t, srv.Stop(time.Second))
}

func TestServer_InitializeValidation(t *testing.T) {
	srv := New(Deps{Config: config.ServerConfig{Listen: ":0"}})
	assert.Error(t, srv.Initialize(), "nil canvas must fail initialization")
}

func TestServer_Meta(t *testing.T) {
	cv, err := canvas.New(8, 8)
	require.NoError(t, err)

	srv := New(Deps{
		Config: config.ServerConfig{Listen: ":1234"},
		Canvas: cv,
		Stats:  stats.NewAggregator(),
	})

	meta := srv.Meta()
	assert.Equal(t, "pixel-server", meta.Name)
	assert.Equal(t, "input", meta.Type)
}
