package services

import (
	"fmt"
	"strconv"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"
)

// AlertEvaluator compares sensor readings with the user's thresholds.
// It holds no state: preferences are supplied on every call.
type AlertEvaluator struct{}

func NewAlertEvaluator() *AlertEvaluator {
	return &AlertEvaluator{}
}

// Evaluate returns the breach for value on sensorKey, or nil when
// notifications are disabled, no threshold is configured, or the value does
// not exceed it.
func (ae *AlertEvaluator) Evaluate(sensorKey string, value float64, prefs models.UserPreferences, at time.Time) *models.Breach {
	if !prefs.NotificationsEnabled {
		return nil
	}

	threshold, ok := prefs.Threshold(sensorKey)
	if !ok || value <= threshold {
		return nil
	}

	return &models.Breach{
		SensorKey:  sensorKey,
		SensorName: models.SensorName(sensorKey),
		Value:      value,
		Threshold:  threshold,
		Timestamp:  at,
	}
}

// AlertTitle is the notification title for a breach.
func AlertTitle(b *models.Breach) string {
	return fmt.Sprintf("%s alert!", b.SensorName)
}

// AlertMessage is the notification body for a breach.
func AlertMessage(b *models.Breach) string {
	return fmt.Sprintf("Detected level: %s ppm. Threshold: %s ppm.", formatPPM(b.Value), formatPPM(b.Threshold))
}

func formatPPM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
