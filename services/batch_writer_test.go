package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu       sync.Mutex
	batches  []map[string][]models.Reading
	calls    int
	failures int
}

func (w *fakeWriter) SaveReadings(_ context.Context, batch map[string][]models.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("database unavailable")
	}
	w.batches = append(w.batches, batch)
	return nil
}

func (w *fakeWriter) saved() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		for _, readings := range b {
			n += len(readings)
		}
	}
	return n
}

func (w *fakeWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func startBatchWriter(t *testing.T, w ReadingWriter, size int, timeout time.Duration) (*BatchWriterService, context.CancelFunc) {
	t.Helper()
	bw := NewBatchWriterService(w, size, timeout, zap.NewNop())
	bw.retryDelay = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go bw.Start(ctx)
	t.Cleanup(func() {
		cancel()
		bw.WaitForShutdown(time.Second)
	})
	return bw, cancel
}

func TestBatchWriterFlushesWhenFull(t *testing.T) {
	w := &fakeWriter{}
	bw, _ := startBatchWriter(t, w, 3, time.Hour)

	bw.Record("benzene", models.Reading{Timestamp: 1, Value: 1})
	bw.Record("toluene", models.Reading{Timestamp: 2, Value: 2})
	bw.Record("benzene", models.Reading{Timestamp: 3, Value: 3})

	require.Eventually(t, func() bool { return w.saved() == 3 }, time.Second, 5*time.Millisecond)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.batches, 1)
	assert.Equal(t, []models.Reading{{Timestamp: 1, Value: 1}, {Timestamp: 3, Value: 3}}, w.batches[0]["benzene"])
	assert.Equal(t, []models.Reading{{Timestamp: 2, Value: 2}}, w.batches[0]["toluene"])
}

func TestBatchWriterFlushesOnTimeout(t *testing.T) {
	w := &fakeWriter{}
	bw, _ := startBatchWriter(t, w, 100, 20*time.Millisecond)

	bw.Record("benzene", models.Reading{Timestamp: 1, Value: 1})

	require.Eventually(t, func() bool { return w.saved() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, bw.GetBufferSize())
}

func TestBatchWriterFlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	bw := NewBatchWriterService(w, 100, time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go bw.Start(ctx)

	bw.Record("benzene", models.Reading{Timestamp: 1, Value: 1})
	bw.Record("benzene", models.Reading{Timestamp: 2, Value: 2})
	cancel()

	require.True(t, bw.WaitForShutdown(2*time.Second))
	assert.Equal(t, 2, w.saved())
}

func TestBatchWriterRetries(t *testing.T) {
	w := &fakeWriter{failures: 2}
	bw, _ := startBatchWriter(t, w, 1, time.Hour)

	bw.Record("benzene", models.Reading{Timestamp: 1, Value: 1})

	require.Eventually(t, func() bool { return w.saved() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, w.callCount())
}
