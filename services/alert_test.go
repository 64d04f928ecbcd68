package services

import (
	"testing"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertEvaluator(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prefs := DefaultPreferences(10)

	tests := []struct {
		name   string
		sensor string
		value  float64
		prefs  func() models.UserPreferences
		breach bool
	}{
		{name: "above threshold", sensor: "benzene", value: 12.5, prefs: prefs.Clone, breach: true},
		{name: "equal to threshold", sensor: "benzene", value: 10, prefs: prefs.Clone},
		{name: "below threshold", sensor: "toluene", value: 3, prefs: prefs.Clone},
		{
			name: "notifications disabled", sensor: "benzene", value: 99,
			prefs: func() models.UserPreferences {
				p := prefs.Clone()
				p.NotificationsEnabled = false
				return p
			},
		},
		{name: "no threshold configured", sensor: "xylene", value: 99, prefs: prefs.Clone},
		{
			name: "custom threshold", sensor: "toluene", value: 2.5,
			prefs: func() models.UserPreferences {
				p := prefs.Clone()
				p.Thresholds["toluene"] = 2
				return p
			},
			breach: true,
		},
	}

	ae := NewAlertEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ae.Evaluate(tt.sensor, tt.value, tt.prefs(), at)
			if !tt.breach {
				assert.Nil(t, b)
				return
			}
			require.NotNil(t, b)
			assert.Equal(t, tt.sensor, b.SensorKey)
			assert.Equal(t, tt.value, b.Value)
			assert.Equal(t, at, b.Timestamp)
		})
	}
}

func TestAlertText(t *testing.T) {
	b := NewAlertEvaluator().Evaluate("benzene", 12.5, DefaultPreferences(10), time.Now())
	require.NotNil(t, b)

	assert.Equal(t, "Benzene alert!", AlertTitle(b))
	assert.Equal(t, "Detected level: 12.5 ppm. Threshold: 10 ppm.", AlertMessage(b))
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		payload string
		want    float64
		wantErr bool
	}{
		{payload: "12.5", want: 12.5},
		{payload: " 7 \n", want: 7},
		{payload: "-1.25", want: -1.25},
		{payload: "abc", wantErr: true},
		{payload: "", wantErr: true},
		{payload: "NaN", wantErr: true},
		{payload: "+Inf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseReading([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
