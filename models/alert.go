package models

import (
	"sort"
	"time"
)

// AlertNotification is a recorded threshold breach.
type AlertNotification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Time returns the notification timestamp as a time.Time.
func (a AlertNotification) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// SortNewestFirst orders notifications by descending timestamp in place.
func SortNewestFirst(alerts []AlertNotification) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp > alerts[j].Timestamp
	})
}

// Breach is a reading that exceeded the configured threshold for its sensor.
type Breach struct {
	SensorKey  string
	SensorName string
	Value      float64
	Threshold  float64
	Timestamp  time.Time
}
