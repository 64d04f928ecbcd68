package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"go.uber.org/zap"
)

// SensorHealthService watches the live feeds and raises a notification when
// a sensor stops publishing, and another when it comes back.
type SensorHealthService struct {
	notifier      Notifier
	logger        *zap.Logger
	timeout       time.Duration
	checkInterval time.Duration
	now           func() time.Time

	mu      sync.RWMutex
	sensors map[string]*models.SensorHealth
}

// NewSensorHealthService creates the watchdog. A sensor is silent once no
// reading arrived for timeout.
func NewSensorHealthService(notifier Notifier, timeout time.Duration, logger *zap.Logger) *SensorHealthService {
	if notifier == nil {
		notifier = MultiNotifier{}
	}
	checkInterval := timeout / 4
	if checkInterval < time.Second {
		checkInterval = time.Second
	}
	return &SensorHealthService{
		notifier:      notifier,
		logger:        logger.With(zap.String("component", "sensor_health")),
		timeout:       timeout,
		checkInterval: checkInterval,
		now:           time.Now,
		sensors:       make(map[string]*models.SensorHealth),
	}
}

// Start runs the timeout checker until ctx is cancelled.
func (h *SensorHealthService) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	h.logger.Info("Sensor health checker started", zap.Duration("timeout", h.timeout))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Sensor health checker stopped")
			return
		case <-ticker.C:
			h.checkTimeouts(ctx)
		}
	}
}

// Record marks sensorKey as alive.
func (h *SensorHealthService) Record(sensorKey string, r models.Reading) {
	now := h.now()

	h.mu.Lock()
	sensor, exists := h.sensors[sensorKey]
	if !exists {
		sensor = &models.SensorHealth{SensorKey: sensorKey, Status: models.SensorHealthy}
		h.sensors[sensorKey] = sensor
		h.logger.Info("Sensor registered for health monitoring", zap.String("sensor", sensorKey))
	}

	wasSilent := sensor.Status == models.SensorSilent
	silentSince := sensor.SilentSince

	sensor.LastSeen = now
	sensor.LastValue = r.Value
	sensor.Status = models.SensorHealthy
	sensor.SilentSince = time.Time{}
	h.mu.Unlock()

	if wasSilent {
		downDuration := now.Sub(silentSince)
		h.logger.Info("Sensor recovered",
			zap.String("sensor", sensorKey),
			zap.Duration("down_duration", downDuration))

		// Called on the broker callback path; delivery must not block it.
		go h.notify(context.Background(), Notification{
			Title:   fmt.Sprintf("%s sensor back online", models.SensorName(sensorKey)),
			Message: fmt.Sprintf("Readings resumed after %s.", downDuration.Round(time.Second)),
		})
	}
}

// checkTimeouts flags every sensor silent for longer than the timeout.
func (h *SensorHealthService) checkTimeouts(ctx context.Context) {
	now := h.now()
	var silenced []models.SensorHealth

	h.mu.Lock()
	for key, sensor := range h.sensors {
		if sensor.Status == models.SensorSilent {
			continue
		}

		sinceLastSeen := now.Sub(sensor.LastSeen)
		if sinceLastSeen > h.timeout {
			h.logger.Warn("Sensor silent",
				zap.String("sensor", key),
				zap.Time("last_seen", sensor.LastSeen),
				zap.Duration("since_last_seen", sinceLastSeen))

			sensor.Status = models.SensorSilent
			sensor.SilentSince = now
			silenced = append(silenced, *sensor)
		}
	}
	h.mu.Unlock()

	for _, sensor := range silenced {
		h.notify(ctx, Notification{
			Title: fmt.Sprintf("%s sensor offline", models.SensorName(sensor.SensorKey)),
			Message: fmt.Sprintf("No readings since %s (last value %s ppm).",
				sensor.LastSeen.Format("15:04:05"), formatPPM(sensor.LastValue)),
		})
	}
}

func (h *SensorHealthService) notify(ctx context.Context, n Notification) {
	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Error("Failed to send sensor health notification",
			zap.String("title", n.Title),
			zap.Error(err))
	}
}

// Status returns the health of one sensor.
func (h *SensorHealthService) Status(sensorKey string) (models.SensorHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sensor, exists := h.sensors[sensorKey]
	if !exists {
		return models.SensorHealth{}, false
	}
	return *sensor, true
}

// Snapshot returns the health of every sensor seen so far, ordered by key.
func (h *SensorHealthService) Snapshot() []models.SensorHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.SensorHealth, 0, len(h.sensors))
	for _, sensor := range h.sensors {
		out = append(out, *sensor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorKey < out[j].SensorKey })
	return out
}
