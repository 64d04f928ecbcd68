package services

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/metrics"
	"github.com/IDGS-904-22002349/Eathereye/models"

	"go.uber.org/zap"
)

// Broker is the messaging client contract shared by the background session
// and the dashboard.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(topic string, handler MessageHandler) (Subscription, error)
	Publish(topic string, payload []byte) error
	WatchConnection() (<-chan bool, func())
}

// AlertStore records alert notifications.
type AlertStore interface {
	SaveNotification(ctx context.Context, title, message string) (models.AlertNotification, error)
}

// PreferenceSource returns the latest persisted preferences.
type PreferenceSource interface {
	Load(ctx context.Context) (models.UserPreferences, error)
}

// Recorder receives every parsed sensor reading.
type Recorder interface {
	Record(sensorKey string, r models.Reading)
}

const alertQueueSize = 64

type sensorMessage struct {
	sensor models.SensorInfo
	value  float64
	at     time.Time
}

// BackgroundService keeps the broker connection alive independently of any
// dashboard client and raises alerts for readings above their threshold.
type BackgroundService struct {
	broker    Broker
	store     AlertStore
	prefs     PreferenceSource
	notifier  Notifier
	recorders []Recorder
	evaluator *AlertEvaluator
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	subs    []Subscription
	queue   chan sensorMessage
	wg      sync.WaitGroup
}

// NewBackgroundService wires the session. notifier may be nil.
func NewBackgroundService(broker Broker, store AlertStore, prefs PreferenceSource, notifier Notifier, logger *zap.Logger) *BackgroundService {
	if notifier == nil {
		notifier = MultiNotifier{}
	}
	return &BackgroundService{
		broker:    broker,
		store:     store,
		prefs:     prefs,
		notifier:  notifier,
		evaluator: NewAlertEvaluator(),
		logger:    logger.With(zap.String("component", "background")),
		now:       time.Now,
	}
}

// AddRecorder registers r to receive every parsed reading. It must be
// called before Start.
func (b *BackgroundService) AddRecorder(r Recorder) {
	b.recorders = append(b.recorders, r)
}

// Start subscribes to every catalogued sensor topic and connects the broker
// in the background. Calling Start on a running service is a no-op.
func (b *BackgroundService) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.queue = make(chan sensorMessage, alertQueueSize)

	// Subscriptions registered before the connection are replayed by the
	// broker client once it is up.
	for _, sensor := range models.Sensors {
		sensor := sensor
		sub, err := b.broker.Subscribe(sensor.Topic, func(_ string, payload []byte) {
			b.onMessage(sensor, payload)
		})
		if err != nil {
			cancel()
			b.unsubscribeAll()
			return err
		}
		b.subs = append(b.subs, sub)
	}

	b.ctx = runCtx
	b.cancel = cancel
	b.running = true

	b.wg.Add(2)
	go b.connect(runCtx)
	go b.process(runCtx, b.queue)

	b.logger.Info("Background session started", zap.Int("topics", len(b.subs)))
	return nil
}

// Stop unsubscribes, stops the alert worker and disconnects the broker.
// Readings still queued are discarded.
func (b *BackgroundService) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	subs := b.subs
	b.subs = nil
	b.cancel()
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	b.wg.Wait()
	b.broker.Disconnect()
	b.logger.Info("Background session stopped")
}

func (b *BackgroundService) unsubscribeAll() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
}

func (b *BackgroundService) connect(ctx context.Context) {
	defer b.wg.Done()

	if err := b.broker.Connect(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			b.logger.Error("Failed to connect to broker", zap.Error(err))
		}
		return
	}
	b.logger.Info("Broker connected")
}

// onMessage runs on the broker callback path: it only parses and queues.
func (b *BackgroundService) onMessage(sensor models.SensorInfo, payload []byte) {
	value, err := ParseReading(payload)
	if err != nil {
		metrics.PayloadsDropped.WithLabelValues(sensor.Topic).Inc()
		b.logger.Debug("Dropping unparsable payload", zap.String("topic", sensor.Topic), zap.ByteString("payload", payload))
		return
	}

	at := b.now()
	for _, r := range b.recorders {
		r.Record(sensor.Key, models.Reading{Timestamp: at.UnixMilli(), Value: value})
	}

	b.mu.Lock()
	queue, running, ctx := b.queue, b.running, b.ctx
	b.mu.Unlock()
	if !running {
		return
	}

	// Every breach must be evaluated, so a full queue applies backpressure
	// to the broker callback until the worker catches up or Stop is called.
	msg := sensorMessage{sensor: sensor, value: value, at: at}
	select {
	case queue <- msg:
		return
	default:
	}

	b.logger.Warn("Alert queue full, waiting for the worker", zap.String("sensor", sensor.Key))
	select {
	case queue <- msg:
	case <-ctx.Done():
	}
}

func (b *BackgroundService) process(ctx context.Context, queue <-chan sensorMessage) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			b.evaluate(ctx, msg)
		}
	}
}

// evaluate re-reads the preferences for every reading so the latest user
// setting always applies.
func (b *BackgroundService) evaluate(ctx context.Context, msg sensorMessage) {
	prefs, err := b.prefs.Load(ctx)
	if err != nil {
		b.logger.Error("Failed to load preferences", zap.Error(err))
		return
	}

	breach := b.evaluator.Evaluate(msg.sensor.Key, msg.value, prefs, msg.at)
	if breach == nil {
		return
	}

	metrics.AlertsRaised.WithLabelValues(breach.SensorKey).Inc()
	title, message := AlertTitle(breach), AlertMessage(breach)

	saved, err := b.store.SaveNotification(ctx, title, message)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("save_notification").Inc()
		b.logger.Error("Failed to save notification",
			zap.String("sensor", breach.SensorKey),
			zap.Error(err))
	}

	b.logger.Info("Threshold exceeded",
		zap.String("sensor", breach.SensorKey),
		zap.Float64("value", breach.Value),
		zap.Float64("threshold", breach.Threshold))

	n := Notification{
		ID:      saved.ID,
		Title:   title,
		Message: message,
		Breach:  breach,
		Audible: prefs.AlarmSoundEnabled,
	}
	if err := b.notifier.Notify(ctx, n); err != nil {
		b.logger.Warn("Failed to deliver notification", zap.Error(err))
	}
}

var errNotFinite = errors.New("reading is not a finite number")

// ParseReading parses a plain-text numeric payload.
func ParseReading(payload []byte) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}
