package models

import "time"

// SensorStatus is the liveness of a sensor feed.
type SensorStatus string

const (
	SensorHealthy SensorStatus = "healthy"
	SensorSilent  SensorStatus = "silent"
)

// SensorHealth tracks when a sensor last published a reading.
type SensorHealth struct {
	SensorKey   string       `json:"sensorKey"`
	Status      SensorStatus `json:"status"`
	LastSeen    time.Time    `json:"lastSeen"`
	LastValue   float64      `json:"lastValue"`
	SilentSince time.Time    `json:"silentSince,omitempty"`
}
