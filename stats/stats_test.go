package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenClose_Connections(t *testing.T) {
	agg := NewAggregator()

	c1 := agg.OpenConnection("10.0.0.1:1111")
	c2 := agg.OpenConnection("10.0.0.2:2222")
	require.NotEqual(t, c1.ID, c2.ID)

	snap := agg.Snapshot()
	assert.Equal(t, int64(2), snap.ConnectionsTotal)
	assert.Equal(t, int64(2), snap.ConnectionsActive)
	assert.Len(t, snap.Connections, 2)

	agg.CloseConnection(c1.ID)
	snap = agg.Snapshot()
	assert.Equal(t, int64(2), snap.ConnectionsTotal)
	assert.Equal(t, int64(1), snap.ConnectionsActive)
	assert.Len(t, snap.Connections, 1)
	assert.Equal(t, c2.ID, snap.Connections[0].ID)

	// Closing twice must not underflow the active counter
	agg.CloseConnection(c1.ID)
	assert.Equal(t, int64(1), agg.ActiveConnections())
}

func TestRecordCounters(t *testing.T) {
	agg := NewAggregator()
	c := agg.OpenConnection("10.0.0.1:1111")

	agg.RecordCommands(c, 5)
	agg.RecordBytes(c, 120)
	agg.RecordPixels(4)
	agg.RecordProtocolErrors(1)

	assert.Equal(t, int64(5), c.Commands())
	assert.Equal(t, int64(120), c.Bytes())

	snap := agg.Snapshot()
	assert.Equal(t, int64(5), snap.Commands)
	assert.Equal(t, int64(120), snap.BytesRead)
	assert.Equal(t, int64(4), snap.PixelsSet)
	assert.Equal(t, int64(1), snap.ProtocolErrors)
}

func TestRecordRejected(t *testing.T) {
	agg := NewAggregator()
	agg.RecordRejected()
	agg.RecordRejected()

	snap := agg.Snapshot()
	assert.Equal(t, int64(2), snap.ConnectionsTotal)
	assert.Equal(t, int64(2), snap.ConnectionsRejected)
	assert.Equal(t, int64(0), snap.ConnectionsActive)
}

func TestConcurrentRecording(t *testing.T) {
	agg := NewAggregator()

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := agg.OpenConnection("10.0.0.1:9999")
			defer agg.CloseConnection(c.ID)
			for j := 0; j < perWorker; j++ {
				agg.RecordCommands(c, 1)
				agg.RecordBytes(c, 10)
				agg.RecordPixels(1)
			}
		}()
	}

	// Snapshot concurrently with the writers; must never block or panic
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = agg.Snapshot()
		}
	}()

	wg.Wait()
	<-done

	snap := agg.Snapshot()
	assert.Equal(t, int64(workers*perWorker), snap.Commands)
	assert.Equal(t, int64(workers*perWorker*10), snap.BytesRead)
	assert.Equal(t, int64(workers*perWorker), snap.PixelsSet)
	assert.Equal(t, int64(workers), snap.ConnectionsTotal)
	assert.Equal(t, int64(0), snap.ConnectionsActive)
}
