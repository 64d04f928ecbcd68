package services

import (
	"context"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/metrics"
	"github.com/IDGS-904-22002349/Eathereye/models"

	"go.uber.org/zap"
)

// ReadingWriter persists batches of readings keyed by sensor.
type ReadingWriter interface {
	SaveReadings(ctx context.Context, batch map[string][]models.Reading) error
}

type sensorReading struct {
	sensorKey string
	reading   models.Reading
}

// BatchWriterService buffers live readings and writes them to the history
// store in batches.
type BatchWriterService struct {
	writer       ReadingWriter
	logger       *zap.Logger
	input        chan sensorReading
	buffer       map[string][]models.Reading
	bufferSize   int
	bufferMutex  sync.Mutex
	flushTimer   *time.Timer
	maxBatchSize int
	batchTimeout time.Duration
	retryDelay   time.Duration
	shutdownChan chan bool
}

// NewBatchWriterService creates a new batch writer service
func NewBatchWriterService(writer ReadingWriter, maxBatchSize int, batchTimeout time.Duration, logger *zap.Logger) *BatchWriterService {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	return &BatchWriterService{
		writer:       writer,
		logger:       logger.With(zap.String("component", "batch_writer")),
		input:        make(chan sensorReading, maxBatchSize*4),
		buffer:       make(map[string][]models.Reading),
		maxBatchSize: maxBatchSize,
		batchTimeout: batchTimeout,
		retryDelay:   time.Second,
		shutdownChan: make(chan bool, 1),
	}
}

// Record queues a reading. It never blocks; readings are dropped while the
// queue is full.
func (bw *BatchWriterService) Record(sensorKey string, r models.Reading) {
	select {
	case bw.input <- sensorReading{sensorKey: sensorKey, reading: r}:
	default:
		bw.logger.Warn("History queue full, dropping reading", zap.String("sensor", sensorKey))
	}
}

// Start runs the batching loop until ctx is cancelled. The buffer is flushed
// before returning.
func (bw *BatchWriterService) Start(ctx context.Context) {
	bw.logger.Info("Starting batch writer service",
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	bw.flushTimer = time.NewTimer(bw.batchTimeout)
	defer bw.flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.logger.Info("Batch writer received shutdown signal")
			bw.drain()
			// The parent context is gone; give the final write its own budget.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			bw.flushBuffer(flushCtx)
			cancel()
			bw.shutdownChan <- true
			return

		case item := <-bw.input:
			currentSize := bw.add(item)

			if currentSize >= bw.maxBatchSize {
				bw.logger.Debug("Buffer full, flushing", zap.Int("buffer_size", currentSize))

				if !bw.flushTimer.Stop() {
					select {
					case <-bw.flushTimer.C:
					default:
					}
				}

				bw.flushBuffer(ctx)
				bw.flushTimer.Reset(bw.batchTimeout)
			}

		case <-bw.flushTimer.C:
			if bw.GetBufferSize() > 0 {
				bw.flushBuffer(ctx)
			}
			bw.flushTimer.Reset(bw.batchTimeout)
		}
	}
}

func (bw *BatchWriterService) add(item sensorReading) int {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	bw.buffer[item.sensorKey] = append(bw.buffer[item.sensorKey], item.reading)
	bw.bufferSize++
	return bw.bufferSize
}

// drain moves whatever is still queued into the buffer.
func (bw *BatchWriterService) drain() {
	for {
		select {
		case item := <-bw.input:
			bw.add(item)
		default:
			return
		}
	}
}

// flushBuffer writes the current buffer and clears it
func (bw *BatchWriterService) flushBuffer(ctx context.Context) {
	bw.bufferMutex.Lock()
	if bw.bufferSize == 0 {
		bw.bufferMutex.Unlock()
		return
	}
	batch := bw.buffer
	size := bw.bufferSize
	bw.buffer = make(map[string][]models.Reading)
	bw.bufferSize = 0
	bw.bufferMutex.Unlock()

	maxRetries := 3
	var err error

retry:
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = bw.writer.SaveReadings(ctx, batch)
		if err == nil {
			metrics.ReadingsRecorded.Add(float64(size))
			bw.logger.Debug("Flushed readings", zap.Int("batch_size", size))
			return
		}

		bw.logger.Error("Failed to flush readings",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("batch_size", size),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				break retry
			case <-time.After(time.Duration(attempt) * bw.retryDelay):
			}
		}
	}

	metrics.StoreErrors.WithLabelValues("save_readings").Inc()
	bw.logger.Error("Failed to flush readings after all retries, data lost",
		zap.Int("batch_size", size),
		zap.Error(err))
}

// WaitForShutdown waits for the batch writer to complete shutdown
func (bw *BatchWriterService) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetBufferSize returns the number of buffered readings
func (bw *BatchWriterService) GetBufferSize() int {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	return bw.bufferSize
}
