package models

// Screen identifies a top-level screen of the client.
type Screen int

const (
	ScreenHome Screen = iota
	ScreenExtraction
	ScreenAlerts
	ScreenSettings
)

// ScreenTitles are indexed by Screen.
var ScreenTitles = []string{"Home", "Manual Extraction", "Alerts", "Settings"}

// HistoryPhase is the lifecycle of the history subscription for the selected series.
type HistoryPhase string

const (
	HistoryIdle      HistoryPhase = "idle"
	HistoryLoading   HistoryPhase = "loading"
	HistoryFollowing HistoryPhase = "following"
)

// AppState is the observable state of the dashboard. Values are treated as
// immutable once published; updates produce a new AppState.
type AppState struct {
	Connected        bool           `json:"connected"`
	Pressure         float64        `json:"pressure"`
	Temperature      float64        `json:"temperature"`
	Humidity         float64        `json:"humidity"`
	Series           []SensorSeries `json:"series"`
	SelectedIndex    int            `json:"selectedIndex"`
	ScreenIndex      int            `json:"screenIndex"`
	ExtractionActive bool           `json:"extractionActive"`
	HistoryPhase     HistoryPhase   `json:"historyPhase"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	UserMessage      string         `json:"userMessage,omitempty"`
}

// NewAppState returns the initial state for the catalogued sensors.
func NewAppState() AppState {
	series := make([]SensorSeries, 0, len(Sensors))
	for _, s := range Sensors {
		series = append(series, SensorSeries{Key: s.Key, Name: s.Name, Topic: s.Topic})
	}
	return AppState{
		Pressure:     1013,
		Temperature:  22.0,
		Humidity:     60.0,
		Series:       series,
		HistoryPhase: HistoryIdle,
	}
}

// Selected returns the selected series, falling back to the first one.
func (s AppState) Selected() SensorSeries {
	if s.SelectedIndex >= 0 && s.SelectedIndex < len(s.Series) {
		return s.Series[s.SelectedIndex]
	}
	if len(s.Series) == 0 {
		return SensorSeries{}
	}
	return s.Series[0]
}

// ScreenTitle returns the title of the current screen.
func (s AppState) ScreenTitle() string {
	if s.ScreenIndex >= 0 && s.ScreenIndex < len(ScreenTitles) {
		return ScreenTitles[s.ScreenIndex]
	}
	return ScreenTitles[ScreenHome]
}

// Clone copies the series slice so the result can be modified without
// touching s. Reading slices are shared and must be replaced, not mutated.
func (s AppState) Clone() AppState {
	out := s
	out.Series = make([]SensorSeries, len(s.Series))
	copy(out.Series, s.Series)
	return out
}

// SeriesIndex returns the index of the series with key, or -1.
func (s AppState) SeriesIndex(key string) int {
	for i := range s.Series {
		if s.Series[i].Key == key {
			return i
		}
	}
	return -1
}
