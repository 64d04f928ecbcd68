package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/config"
	"github.com/IDGS-904-22002349/Eathereye/metrics"
	"github.com/IDGS-904-22002349/Eathereye/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	notificationsPath = "notifications"
	historyPath       = "historical_data"
)

// Listener is a registered tail-follow history listener. Close stops
// delivery; no callback runs after Close returns.
type Listener interface {
	Close()
}

type FirebaseService struct {
	client       *db.Client
	logger       *zap.Logger
	pollInterval time.Duration
}

// historyRecord is the stored shape of historical_data/<sensor>/<millis>.
type historyRecord struct {
	Value     interface{} `json:"value"`
	Timestamp int64       `json:"timestamp"`
}

func NewFirebaseService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FirebaseService, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	// An emulator URL (host:port?ns=name) authenticates with a static token.
	var opts []option.ClientOption
	if cfg.FirebaseServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON)))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	// Get database client
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseService{
		client:       client,
		logger:       logger.With(zap.String("component", "firebase")),
		pollInterval: cfg.HistoryPollInterval,
	}
	if fs.pollInterval <= 0 {
		fs.pollInterval = 3 * time.Second
	}

	if err := fs.testConnection(ctx); err != nil {
		fs.logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseService) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		// A shallow read of the notifications node is enough to prove auth and reachability.
		var head interface{}
		err := fs.client.NewRef(notificationsPath).OrderByKey().LimitToFirst(1).Get(ctx, &head)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// SaveNotification appends an alert notification and returns the stored record.
func (fs *FirebaseService) SaveNotification(ctx context.Context, title, message string) (models.AlertNotification, error) {
	n := models.AlertNotification{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}

	if err := fs.client.NewRef(notificationsPath).Child(n.ID).Set(ctx, n); err != nil {
		metrics.StoreErrors.WithLabelValues("save_notification").Inc()
		return models.AlertNotification{}, fmt.Errorf("error saving notification: %w", err)
	}

	fs.logger.Info("Notification saved", zap.String("id", n.ID), zap.String("title", title))
	return n, nil
}

// SaveReading appends one historical reading for sensorKey.
func (fs *FirebaseService) SaveReading(ctx context.Context, sensorKey string, r models.Reading) error {
	ref := fs.client.NewRef(historyPath).Child(sensorKey).Child(strconv.FormatInt(r.Timestamp, 10))
	if err := ref.Set(ctx, historyRecord{Value: r.Value, Timestamp: r.Timestamp}); err != nil {
		metrics.StoreErrors.WithLabelValues("save_reading").Inc()
		return fmt.Errorf("error saving reading for %s: %w", sensorKey, err)
	}
	return nil
}

// SaveReadings writes a batch of readings grouped by sensor in a single
// multi-path update.
func (fs *FirebaseService) SaveReadings(ctx context.Context, batch map[string][]models.Reading) error {
	updates := make(map[string]interface{})
	for sensorKey, readings := range batch {
		for _, r := range readings {
			path := sensorKey + "/" + strconv.FormatInt(r.Timestamp, 10)
			updates[path] = historyRecord{Value: r.Value, Timestamp: r.Timestamp}
		}
	}
	if len(updates) == 0 {
		return nil
	}

	if err := fs.client.NewRef(historyPath).Update(ctx, updates); err != nil {
		metrics.StoreErrors.WithLabelValues("save_readings").Inc()
		return fmt.Errorf("error writing history batch: %w", err)
	}
	return nil
}

// LastReadings returns up to n of the newest readings for sensorKey in
// ascending timestamp order.
func (fs *FirebaseService) LastReadings(ctx context.Context, sensorKey string, n int) ([]models.Reading, error) {
	query := fs.client.NewRef(historyPath).Child(sensorKey).OrderByKey().LimitToLast(n)
	readings, err := fs.fetch(ctx, query)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("last_readings").Inc()
		return nil, fmt.Errorf("error reading history for %s: %w", sensorKey, err)
	}
	return readings, nil
}

// ReadingsInRange returns readings with start <= timestamp <= end, ascending.
func (fs *FirebaseService) ReadingsInRange(ctx context.Context, sensorKey string, start, end int64) ([]models.Reading, error) {
	if start > end {
		return nil, errors.New("start must not be after end")
	}

	query := fs.client.NewRef(historyPath).Child(sensorKey).OrderByKey().
		StartAt(strconv.FormatInt(start, 10)).
		EndAt(strconv.FormatInt(end, 10))

	readings, err := fs.fetch(ctx, query)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("readings_in_range").Inc()
		return nil, fmt.Errorf("error reading report data for %s: %w", sensorKey, err)
	}
	return filterRange(readings, start, end), nil
}

// DatesWithData returns the distinct calendar days, in loc, on which
// sensorKey has readings. Each day is reported as midnight UTC of that date.
func (fs *FirebaseService) DatesWithData(ctx context.Context, sensorKey string, loc *time.Location) ([]time.Time, error) {
	var data map[string]interface{}
	if err := fs.client.NewRef(historyPath).Child(sensorKey).Get(ctx, &data); err != nil {
		metrics.StoreErrors.WithLabelValues("dates_with_data").Inc()
		return nil, fmt.Errorf("error reading dates for %s: %w", sensorKey, err)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	return distinctDays(keys, loc), nil
}

// FollowReadings polls for readings newer than after and hands each one to
// onReading in ascending order. Query failures go to onError and polling
// continues.
func (fs *FirebaseService) FollowReadings(ctx context.Context, sensorKey string, after int64, onReading func(models.Reading), onError func(error)) (Listener, error) {
	if onReading == nil {
		return nil, errors.New("onReading is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &pollListener{cancel: cancel, done: make(chan struct{})}
	ref := fs.client.NewRef(historyPath).Child(sensorKey)

	metrics.HistoryListeners.Inc()
	go func() {
		defer close(l.done)
		defer metrics.HistoryListeners.Dec()

		ticker := time.NewTicker(fs.pollInterval)
		defer ticker.Stop()

		last := after
		fs.logger.Info("History listener attached", zap.String("sensor", sensorKey), zap.Int64("after", after))

		for {
			select {
			case <-ctx.Done():
				fs.logger.Info("History listener stopped", zap.String("sensor", sensorKey))
				return
			case <-ticker.C:
				query := ref.OrderByKey().StartAt(strconv.FormatInt(last+1, 10))
				readings, err := fs.fetch(ctx, query)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					metrics.StoreErrors.WithLabelValues("follow_readings").Inc()
					fs.logger.Error("Error polling history", zap.String("sensor", sensorKey), zap.Error(err))
					if onError != nil {
						onError(err)
					}
					continue
				}

				for _, r := range readings {
					if r.Timestamp <= last {
						continue
					}
					if ctx.Err() != nil {
						return
					}
					onReading(r)
					last = r.Timestamp
				}
			}
		}
	}()

	return l, nil
}

// WatchNotifications polls the full notification list and hands it to fn,
// newest first, whenever its content changes. It blocks until ctx is done.
func (fs *FirebaseService) WatchNotifications(ctx context.Context, interval time.Duration, fn func([]models.AlertNotification)) {
	if interval <= 0 {
		interval = fs.pollInterval
	}
	ref := fs.client.NewRef(notificationsPath)

	var lastSig string
	poll := func() {
		var data map[string]models.AlertNotification
		if err := ref.Get(ctx, &data); err != nil {
			if ctx.Err() == nil {
				metrics.StoreErrors.WithLabelValues("read_notifications").Inc()
				fs.logger.Error("Error reading notifications", zap.Error(err))
			}
			return
		}

		list := notificationList(data)
		if sig := notificationSignature(list); sig != lastSig {
			lastSig = sig
			fn(list)
		}
	}

	poll()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

func (fs *FirebaseService) fetch(ctx context.Context, query *db.Query) ([]models.Reading, error) {
	nodes, err := query.GetOrdered(ctx)
	if err != nil {
		return nil, err
	}

	readings := make([]models.Reading, 0, len(nodes))
	for _, node := range nodes {
		var rec historyRecord
		if err := node.Unmarshal(&rec); err != nil {
			fs.logger.Warn("Invalid history record", zap.String("key", node.Key()), zap.Error(err))
			continue
		}
		if r, ok := decodeReading(node.Key(), rec); ok {
			readings = append(readings, r)
		}
	}
	models.SortReadings(readings)
	return readings, nil
}

// Close closes the Firebase connection
func (fs *FirebaseService) Close() error {
	fs.logger.Info("Closing Firebase service")
	// Firebase client doesn't require explicit closing but we log it
	return nil
}

type pollListener struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close must not be called from the listener's own callbacks.
func (l *pollListener) Close() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
}

// decodeReading builds a Reading from a history node. The node key is the
// authoritative timestamp; records with non-numeric values are skipped.
func decodeReading(key string, rec historyRecord) (models.Reading, bool) {
	ts, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		if rec.Timestamp == 0 {
			return models.Reading{}, false
		}
		ts = rec.Timestamp
	}

	var value float64
	switch v := rec.Value.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int64:
		value = float64(v)
	case int:
		value = float64(v)
	default:
		return models.Reading{}, false
	}

	return models.Reading{Timestamp: ts, Value: value}, true
}

func filterRange(readings []models.Reading, start, end int64) []models.Reading {
	out := readings[:0]
	for _, r := range readings {
		if r.Timestamp >= start && r.Timestamp <= end {
			out = append(out, r)
		}
	}
	return out
}

func distinctDays(keys []string, loc *time.Location) []time.Time {
	seen := make(map[time.Time]struct{})
	var days []time.Time
	for _, k := range keys {
		ms, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		local := time.UnixMilli(ms).In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func notificationList(data map[string]models.AlertNotification) []models.AlertNotification {
	list := make([]models.AlertNotification, 0, len(data))
	for id, n := range data {
		if n.ID == "" {
			n.ID = id
		}
		list = append(list, n)
	}
	models.SortNewestFirst(list)
	return list
}

func notificationSignature(list []models.AlertNotification) string {
	if len(list) == 0 {
		return "0"
	}
	return strconv.Itoa(len(list)) + ":" + list[0].ID + ":" + strconv.FormatInt(list[0].Timestamp, 10)
}
