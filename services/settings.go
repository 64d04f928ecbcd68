package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/IDGS-904-22002349/Eathereye/models"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	keyNotificationsEnabled = "notifications_enabled"
	keyAlarmSoundEnabled    = "alarm_sound_enabled"
	thresholdPrefix         = "threshold."
)

// ErrUnknownSensor is returned when a threshold is set for a sensor that is
// not in the catalogue.
var ErrUnknownSensor = errors.New("unknown sensor")

// ErrInvalidThreshold is returned for a negative or non-finite threshold.
var ErrInvalidThreshold = errors.New("invalid threshold")

// SettingsStore persists user preferences in a SQLite key/value table and
// streams every committed change to watchers.
type SettingsStore struct {
	db       *sql.DB
	logger   *zap.Logger
	defaults models.UserPreferences

	writeMu sync.Mutex
	watch   *Watchers[models.UserPreferences]
}

// DefaultPreferences returns the preferences used for keys never written:
// notifications on, alarm sound off, every catalogued sensor at threshold.
func DefaultPreferences(threshold float64) models.UserPreferences {
	prefs := models.UserPreferences{
		NotificationsEnabled: true,
		AlarmSoundEnabled:    false,
		Thresholds:           make(map[string]float64, len(models.Sensors)),
	}
	for _, s := range models.Sensors {
		prefs.Thresholds[s.Key] = threshold
	}
	return prefs
}

// NewSettingsStore opens (creating if needed) the database at path.
func NewSettingsStore(ctx context.Context, path string, defaultThreshold float64, logger *zap.Logger) (*SettingsStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	s := &SettingsStore{
		db:       db,
		logger:   logger.With(zap.String("component", "settings")),
		defaults: DefaultPreferences(defaultThreshold),
	}

	prefs, err := s.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.watch = NewWatchers(prefs)

	s.logger.Info("Settings store opened",
		zap.String("path", path),
		zap.Bool("notifications_enabled", prefs.NotificationsEnabled),
		zap.Bool("alarm_sound_enabled", prefs.AlarmSoundEnabled))

	return s, nil
}

// Load reads the current preferences.
func (s *SettingsStore) Load(ctx context.Context) (models.UserPreferences, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return models.UserPreferences{}, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	prefs := s.defaults.Clone()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return models.UserPreferences{}, fmt.Errorf("failed to scan setting: %w", err)
		}
		s.apply(&prefs, key, value)
	}
	if err := rows.Err(); err != nil {
		return models.UserPreferences{}, fmt.Errorf("failed to read settings: %w", err)
	}

	return prefs, nil
}

func (s *SettingsStore) apply(prefs *models.UserPreferences, key, value string) {
	switch {
	case key == keyNotificationsEnabled:
		if b, err := strconv.ParseBool(value); err == nil {
			prefs.NotificationsEnabled = b
		}
	case key == keyAlarmSoundEnabled:
		if b, err := strconv.ParseBool(value); err == nil {
			prefs.AlarmSoundEnabled = b
		}
	case strings.HasPrefix(key, thresholdPrefix):
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			prefs.Thresholds[strings.TrimPrefix(key, thresholdPrefix)] = f
		}
	default:
		s.logger.Debug("Ignoring unknown setting", zap.String("key", key))
	}
}

// Watch streams preferences, starting with the current value.
func (s *SettingsStore) Watch() (<-chan models.UserPreferences, func()) {
	return s.watch.Watch()
}

func (s *SettingsStore) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	return s.put(ctx, keyNotificationsEnabled, strconv.FormatBool(enabled))
}

func (s *SettingsStore) SetAlarmSoundEnabled(ctx context.Context, enabled bool) error {
	return s.put(ctx, keyAlarmSoundEnabled, strconv.FormatBool(enabled))
}

// SetThreshold stores the alert threshold for a catalogued sensor.
func (s *SettingsStore) SetThreshold(ctx context.Context, sensorKey string, value float64) error {
	if _, ok := models.LookupSensor(sensorKey); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, sensorKey)
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w for %s: %v", ErrInvalidThreshold, sensorKey, value)
	}
	return s.put(ctx, thresholdPrefix+sensorKey, strconv.FormatFloat(value, 'f', -1, 64))
}

// put commits one key and then publishes the reloaded preferences, so a
// watcher never sees a value that is not yet durable.
func (s *SettingsStore) put(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}

	prefs, err := s.Load(ctx)
	if err != nil {
		return err
	}
	s.watch.Publish(prefs)

	s.logger.Info("Setting updated", zap.String("key", key), zap.String("value", value))
	return nil
}

// Close releases watchers and the database handle.
func (s *SettingsStore) Close() error {
	s.watch.CloseAll()
	return s.db.Close()
}
