package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

func benzeneBreach(value float64) *models.Breach {
	return &models.Breach{
		SensorKey:  "benzene",
		SensorName: "Benzene",
		Value:      value,
		Threshold:  10,
		Timestamp:  time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestMultiNotifier(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("chat unreachable")}

	err := MultiNotifier{failing, ok, NewLogNotifier(zap.NewNop())}.Notify(context.Background(), Notification{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat unreachable")

	assert.Len(t, ok.notifications(), 1)
	assert.Len(t, failing.notifications(), 1)

	assert.NoError(t, MultiNotifier{}.Notify(context.Background(), Notification{}))
}

func TestWebhookNotifier(t *testing.T) {
	t.Run("PostsPayload", func(t *testing.T) {
		var got WebhookPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		n := Notification{ID: "n1", Title: "Benzene alert!", Message: "m", Breach: benzeneBreach(25)}
		require.NoError(t, NewWebhookNotifier(server.URL, zap.NewNop()).Notify(context.Background(), n))

		assert.Equal(t, "n1", got.ID)
		assert.Equal(t, "benzene", got.Sensor)
		assert.Equal(t, 25.0, got.Value)
		assert.Equal(t, "critical", got.Severity)
		assert.Equal(t, n.Breach.Timestamp.UnixMilli(), got.Timestamp)
	})

	t.Run("BreakerOpensAfterFailures", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		notifier := NewWebhookNotifier(server.URL, zap.NewNop())
		for i := 0; i < 3; i++ {
			assert.Error(t, notifier.Notify(context.Background(), Notification{ID: "x"}))
		}

		// Open breaker: skipped without reaching the endpoint.
		assert.NoError(t, notifier.Notify(context.Background(), Notification{ID: "x"}))
		assert.Equal(t, int32(3), hits.Load())
	})
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name   string
		breach *models.Breach
		want   string
	}{
		{name: "no breach", want: "high"},
		{name: "slightly above", breach: benzeneBreach(11), want: "medium"},
		{name: "one and a half times", breach: benzeneBreach(15), want: "high"},
		{name: "double", breach: benzeneBreach(20), want: "critical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, severity(Notification{Breach: tt.breach}))
		})
	}
}

func TestFormatTelegramAlert(t *testing.T) {
	loc := time.FixedZone("CST", -6*60*60)
	text := formatTelegramAlert(Notification{
		Title:   "Benzene alert!",
		Message: "Detected level: 12.5 ppm. Threshold: 10 ppm.",
		Breach:  benzeneBreach(12.5),
	}, loc)

	assert.Contains(t, text, "<b>Benzene alert!</b>")
	assert.Contains(t, text, "Detected level: 12.5 ppm. Threshold: 10 ppm.")
	assert.Contains(t, text, "2026-03-01 06:30:00")

	escaped := formatTelegramAlert(Notification{Title: "<script>", Message: "a & b"}, nil)
	assert.Contains(t, escaped, "&lt;script&gt;")
	assert.Contains(t, escaped, "a &amp; b")
	assert.NotContains(t, escaped, "Time:")
}

func TestTelegramThrottle(t *testing.T) {
	ts := &TelegramNotifier{lastAlertTimes: make(map[string]time.Time)}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, ts.shouldThrottle("benzene", start))
	assert.True(t, ts.shouldThrottle("benzene", start.Add(5*time.Second)))
	assert.False(t, ts.shouldThrottle("toluene", start.Add(5*time.Second)))
	assert.False(t, ts.shouldThrottle("benzene", start.Add(alertThrottle)))
}
