package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// WebhookNotifier posts alerts to an HTTP endpoint, e.g. the extraction
// controller or a home-automation hub. A circuit breaker stops hammering an
// endpoint that keeps failing.
type WebhookNotifier struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// WebhookPayload is the JSON body sent to the webhook.
type WebhookPayload struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Sensor    string  `json:"sensor,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Severity  string  `json:"severity"`
	Timestamp int64   `json:"timestamp"`
}

func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	logger = logger.With(zap.String("component", "webhook"))
	settings := gobreaker.Settings{
		Name:        "alert-webhook",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Webhook breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &WebhookNotifier{
		logger: logger,
		url:    url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	payload := WebhookPayload{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Severity:  severity(n),
		Timestamp: time.Now().UnixMilli(),
	}
	if n.Breach != nil {
		payload.Sensor = n.Breach.SensorKey
		payload.Value = n.Breach.Value
		payload.Threshold = n.Breach.Threshold
		payload.Timestamp = n.Breach.Timestamp.UnixMilli()
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = w.breaker.Execute(func() (interface{}, error) {
		return nil, w.post(ctx, jsonData)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		w.logger.Debug("Webhook breaker open, alert skipped", zap.String("id", n.ID))
		return nil
	}
	if err != nil {
		w.logger.Error("Failed to send webhook alert", zap.String("url", w.url), zap.Error(err))
		return err
	}

	w.logger.Info("Webhook alert sent", zap.String("id", n.ID), zap.String("severity", payload.Severity))
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AetherEye/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook error: %s", resp.Status)
}

// severity grades a notification by how far the reading exceeds its threshold.
func severity(n Notification) string {
	if n.Breach == nil || n.Breach.Threshold <= 0 {
		return "high"
	}
	switch ratio := n.Breach.Value / n.Breach.Threshold; {
	case ratio >= 2:
		return "critical"
	case ratio >= 1.5:
		return "high"
	default:
		return "medium"
	}
}
