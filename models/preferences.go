package models

// UserPreferences holds the persisted user settings.
type UserPreferences struct {
	NotificationsEnabled bool               `json:"notificationsEnabled"`
	AlarmSoundEnabled    bool               `json:"alarmSoundEnabled"`
	Thresholds           map[string]float64 `json:"thresholds"`
}

// Threshold returns the threshold for key and whether one is configured.
func (p UserPreferences) Threshold(key string) (float64, bool) {
	v, ok := p.Thresholds[key]
	return v, ok
}

// Clone returns a deep copy of p.
func (p UserPreferences) Clone() UserPreferences {
	out := p
	out.Thresholds = make(map[string]float64, len(p.Thresholds))
	for k, v := range p.Thresholds {
		out.Thresholds[k] = v
	}
	return out
}
