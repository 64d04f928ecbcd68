package services

import (
	"strconv"
	"testing"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"github.com/stretchr/testify/assert"
)

func TestDecodeReading(t *testing.T) {
	tests := []struct {
		name string
		key  string
		rec  historyRecord
		want models.Reading
		ok   bool
	}{
		{name: "key is the timestamp", key: "1700000000000", rec: historyRecord{Value: 3.5, Timestamp: 1}, want: models.Reading{Timestamp: 1700000000000, Value: 3.5}, ok: true},
		{name: "push id falls back to field", key: "-Nabc", rec: historyRecord{Value: 2.0, Timestamp: 1700000000001}, want: models.Reading{Timestamp: 1700000000001, Value: 2}, ok: true},
		{name: "no timestamp at all", key: "-Nabc", rec: historyRecord{Value: 2.0}},
		{name: "string value", key: "1700000000000", rec: historyRecord{Value: "high"}},
		{name: "missing value", key: "1700000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeReading(tt.key, tt.rec)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFilterRange(t *testing.T) {
	readings := []models.Reading{{Timestamp: 1}, {Timestamp: 5}, {Timestamp: 10}, {Timestamp: 11}}
	got := filterRange(readings, 5, 10)
	assert.Equal(t, []models.Reading{{Timestamp: 5}, {Timestamp: 10}}, got)
}

func TestDistinctDays(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Skip("timezone data not available")
	}

	// 2026-03-02 03:00 UTC is still March 1st in Mexico City.
	late := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC).UnixMilli()
	noon := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC).UnixMilli()
	next := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC).UnixMilli()

	days := distinctDays([]string{
		strconv.FormatInt(next, 10), strconv.FormatInt(late, 10), "not-a-key", strconv.FormatInt(noon, 10),
	}, loc)

	assert.Equal(t, []time.Time{
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}, days)
}

func TestNotificationList(t *testing.T) {
	list := notificationList(map[string]models.AlertNotification{
		"a": {Title: "old", Timestamp: 100},
		"b": {ID: "b-id", Title: "new", Timestamp: 300},
		"c": {Title: "mid", Timestamp: 200},
	})

	assert.Equal(t, []string{"new", "mid", "old"}, []string{list[0].Title, list[1].Title, list[2].Title})
	assert.Equal(t, "b-id", list[0].ID)
	assert.Equal(t, "c", list[1].ID)

	assert.Equal(t, "0", notificationSignature(nil))
	assert.Equal(t, "3:b-id:300", notificationSignature(list))
}
