package models

import (
	"sort"
	"strings"
	"time"
)

// HistoryWindow is the number of readings kept per series.
const HistoryWindow = 100

// Reading is one sampled value. Timestamp is milliseconds since epoch.
type Reading struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Time returns the reading timestamp as a time.Time.
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// SensorSeries is a monitored substance with its live level and recent history.
type SensorSeries struct {
	Key      string    `json:"key"`
	Name     string    `json:"name"`
	Topic    string    `json:"topic"`
	Level    float64   `json:"level"`
	Readings []Reading `json:"readings"`
}

// SensorInfo describes a catalogued VOC sensor.
type SensorInfo struct {
	Key   string
	Name  string
	Topic string
}

// Sensors is the catalogue of monitored VOC sensors, in display order.
var Sensors = []SensorInfo{
	{Key: "benzene", Name: "Benzene", Topic: "sensor/voc/benzene"},
	{Key: "toluene", Name: "Toluene", Topic: "sensor/voc/toluene"},
}

// Environmental topics
const (
	TopicPressure    = "sensor/pressure"
	TopicTemperature = "sensor/temperature"
	TopicHumidity    = "sensor/humidity"

	TopicActiveSelection   = "ui/selection/active_voc"
	TopicExtractionCommand = "actuator/extraction/command"
)

// LookupSensor returns the catalogue entry for key.
func LookupSensor(key string) (SensorInfo, bool) {
	for _, s := range Sensors {
		if s.Key == key {
			return s, true
		}
	}
	return SensorInfo{}, false
}

// SensorName returns the display name for key, or the key capitalised when
// it is not catalogued.
func SensorName(key string) string {
	if s, ok := LookupSensor(key); ok {
		return s.Name
	}
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

// SortReadings orders readings by ascending timestamp in place.
func SortReadings(readings []Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp < readings[j].Timestamp
	})
}

// TrimWindow keeps the newest limit readings. The input is not modified.
func TrimWindow(readings []Reading, limit int) []Reading {
	if len(readings) <= limit {
		return readings
	}
	out := make([]Reading, limit)
	copy(out, readings[len(readings)-limit:])
	return out
}
