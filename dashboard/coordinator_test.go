package dashboard

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"
	"github.com/IDGS-904-22002349/Eathereye/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func startCoordinator(t *testing.T, broker *fakeBroker, history *fakeHistory) *Coordinator {
	t.Helper()
	c := New(broker, history, Options{SettleDelay: time.Millisecond, Logger: zap.NewNop()})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func phaseIs(c *Coordinator, phase models.HistoryPhase) func() bool {
	return func() bool { return c.HistoryPhase() == phase }
}

func readingsAt(start int64, n int) []models.Reading {
	out := make([]models.Reading, n)
	for i := range out {
		out[i] = models.Reading{Timestamp: start + int64(i)*1000, Value: float64(i)}
	}
	return out
}

func TestLiveMessagesKeepLastParsedValue(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	c := startCoordinator(t, broker, history)

	broker.setConnected(true)
	require.Eventually(t, func() bool { return broker.handlerCount() == 5 }, waitFor, tick)

	broker.deliver("sensor/voc/benzene", "1.5")
	broker.deliver("sensor/voc/benzene", "not-a-number")
	broker.deliver("sensor/voc/benzene", " 2.25 ")
	broker.deliver("sensor/voc/benzene", "")
	broker.deliver(models.TopicPressure, "1009.4")
	broker.deliver(models.TopicHumidity, "NaN")

	state := c.State()
	assert.True(t, state.Connected)
	assert.Equal(t, 2.25, state.Series[0].Level)
	assert.Equal(t, 0.0, state.Series[1].Level)
	assert.Equal(t, 1009.4, state.Pressure)
	assert.Equal(t, 22.0, state.Temperature)
	assert.Equal(t, 60.0, state.Humidity)
}

func TestInitialLoadThenFollow(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	history.data["benzene"] = readingsAt(1_000, 3)
	c := startCoordinator(t, broker, history)

	assert.Equal(t, models.HistoryIdle, c.HistoryPhase())
	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	active := history.active()
	require.Len(t, active, 1)
	assert.Equal(t, "benzene", active[0].key)
	assert.Equal(t, int64(3_000), active[0].after)
	assert.Len(t, c.State().Series[0].Readings, 3)

	history.push("benzene", models.Reading{Timestamp: 4_000, Value: 9})
	readings := c.State().Series[0].Readings
	require.Len(t, readings, 4)
	assert.Equal(t, 9.0, readings[3].Value)
}

func TestEmptyHistoryFollowsFromNow(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	c := startCoordinator(t, broker, history)
	fixed := time.UnixMilli(1_700_000_000_000)
	c.now = func() time.Time { return fixed }

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	active := history.active()
	require.Len(t, active, 1)
	assert.Equal(t, fixed.UnixMilli(), active[0].after)
}

func TestSelectionBackAndForthLeavesSingleListener(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	releaseBenzene := history.hold("benzene")
	releaseToluene := history.hold("toluene")
	c := startCoordinator(t, broker, history)

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryLoading), waitFor, tick)

	require.NoError(t, c.SelectSeries(1))
	require.NoError(t, c.SelectSeries(0))

	releaseToluene()
	releaseBenzene()

	require.Eventually(t, func() bool { return history.fetchCount("benzene") == 2 && history.fetchCount("toluene") == 1 }, waitFor, tick)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	// Let any stale result drain through the loop before counting.
	require.NoError(t, c.SelectSeries(0))

	active := history.active()
	require.Len(t, active, 1)
	assert.Equal(t, "benzene", active[0].key)
	assert.Equal(t, 1, history.created("benzene"))
	assert.Equal(t, 0, history.created("toluene"))
	assert.Equal(t, []string{"benzene", "toluene", "benzene"}, broker.publishedOn(models.TopicActiveSelection))
}

func TestStaleFetchDoesNotTouchState(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	history.data["benzene"] = readingsAt(1_000, 5)
	history.data["toluene"] = readingsAt(50_000, 2)
	releaseBenzene := history.hold("benzene")
	c := startCoordinator(t, broker, history)

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryLoading), waitFor, tick)

	require.NoError(t, c.SelectSeries(1))
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	releaseBenzene()
	require.Eventually(t, func() bool { return history.fetchCount("benzene") == 1 }, waitFor, tick)
	require.Never(t, func() bool { return len(c.State().Series[0].Readings) > 0 }, 100*time.Millisecond, tick)

	state := c.State()
	assert.Equal(t, "toluene", state.Selected().Key)
	assert.Len(t, state.Series[1].Readings, 2)
	assert.Equal(t, models.HistoryFollowing, state.HistoryPhase)
	require.Len(t, history.active(), 1)
	assert.Equal(t, "toluene", history.active()[0].key)
}

func TestHistoryWindowStaysBoundedAndSorted(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	history.data["benzene"] = readingsAt(1_000, 95)
	c := startCoordinator(t, broker, history)

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	last := int64(1_000 + 94*1000)
	for i := 1; i <= 20; i++ {
		history.push("benzene", models.Reading{Timestamp: last + int64(i)*1000, Value: float64(100 + i)})
	}
	// An older reading is ignored.
	history.push("benzene", models.Reading{Timestamp: last + 500, Value: -1})

	readings := c.State().Series[0].Readings
	require.Len(t, readings, models.HistoryWindow)
	assert.True(t, sort.SliceIsSorted(readings, func(i, j int) bool { return readings[i].Timestamp < readings[j].Timestamp }))
	assert.Equal(t, last+20*1000, readings[len(readings)-1].Timestamp)
	assert.Equal(t, 120.0, readings[len(readings)-1].Value)
}

func TestRemoteErrorsKeepData(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	history.data["benzene"] = readingsAt(1_000, 4)
	history.errs["toluene"] = errors.New("permission denied")
	c := startCoordinator(t, broker, history)

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	history.fail("benzene", errors.New("poll failed"))
	state := c.State()
	assert.Contains(t, state.ErrorMessage, "poll failed")
	assert.Len(t, state.Series[0].Readings, 4)

	c.ClearError()
	assert.Empty(t, c.State().ErrorMessage)

	require.NoError(t, c.SelectSeries(1))
	require.Eventually(t, func() bool { return c.State().ErrorMessage != "" }, waitFor, tick)
	state = c.State()
	assert.Contains(t, state.ErrorMessage, "permission denied")
	assert.Equal(t, models.HistoryIdle, state.HistoryPhase)
	assert.Len(t, state.Series[0].Readings, 4)
	assert.Empty(t, history.active())
}

func TestReselectingSameSeriesIsNoop(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	c := startCoordinator(t, broker, history)

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	require.NoError(t, c.SelectSeries(0))
	require.NoError(t, c.SelectSeries(0))

	assert.Equal(t, 1, history.fetchCount("benzene"))
	assert.Len(t, history.active(), 1)
	assert.Equal(t, []string{"benzene"}, broker.publishedOn(models.TopicActiveSelection))
}

func TestInitialSelectionPublishedOnConnect(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	c := startCoordinator(t, broker, history)

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)
	assert.Equal(t, []string{"benzene"}, broker.publishedOn(models.TopicActiveSelection))

	// Reconnects reuse the replayed subscriptions and do not republish.
	broker.setConnected(false)
	broker.setConnected(true)
	require.Eventually(t, func() bool { return c.State().Connected }, waitFor, tick)
	require.NoError(t, c.SelectSeries(0))
	assert.Equal(t, []string{"benzene"}, broker.publishedOn(models.TopicActiveSelection))
}

func TestSwitchingSeriesClearsPreviousError(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	c := startCoordinator(t, broker, history)

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	history.fail("benzene", errors.New("boom"))
	require.Contains(t, c.State().ErrorMessage, "boom")

	require.NoError(t, c.SelectSeries(1))
	state := c.State()
	assert.Equal(t, "toluene", state.Selected().Key)
	assert.Empty(t, state.ErrorMessage)
}

func TestSelectSeriesOutOfRange(t *testing.T) {
	c := startCoordinator(t, newFakeBroker(), newFakeHistory())

	require.ErrorIs(t, c.SelectSeries(7), ErrOutOfRange)
	require.ErrorIs(t, c.SelectScreen(-1), ErrOutOfRange)

	require.NoError(t, c.SelectScreen(int(models.ScreenAlerts)))
	assert.Equal(t, "Alerts", c.State().ScreenTitle())
}

func TestExtractionCommand(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	c := startCoordinator(t, broker, history)

	err := c.SetExtraction(true)
	require.ErrorIs(t, err, services.ErrNotConnected)
	state := c.State()
	assert.False(t, state.ExtractionActive)
	assert.NotEmpty(t, state.UserMessage)

	c.ClearUserMessage()
	broker.setConnected(true)
	require.NoError(t, c.SetExtraction(true))
	require.NoError(t, c.SetExtraction(false))

	assert.Equal(t, []string{"ON", "OFF"}, broker.publishedOn(models.TopicExtractionCommand))
	assert.False(t, c.State().ExtractionActive)
	assert.Empty(t, c.State().UserMessage)
}

func TestCloseReleasesListenerAndSubscriptions(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	c := New(broker, history, Options{SettleDelay: time.Millisecond})
	require.NoError(t, c.Start(context.Background()))

	broker.setConnected(true)
	require.Eventually(t, phaseIs(c, models.HistoryFollowing), waitFor, tick)

	c.Close()
	c.Close()

	assert.Empty(t, history.active())
	assert.Equal(t, 0, broker.handlerCount())
	assert.Equal(t, models.HistoryIdle, c.HistoryPhase())
	require.ErrorIs(t, c.SelectSeries(1), ErrClosed)
}

func TestWatchDeliversLatestState(t *testing.T) {
	broker, history := newFakeBroker(), newFakeHistory()
	c := startCoordinator(t, broker, history)

	states, cancel := c.Watch()
	defer cancel()

	first := <-states
	assert.False(t, first.Connected)

	broker.setConnected(true)
	require.Eventually(t, func() bool {
		select {
		case s := <-states:
			return s.Connected
		default:
			return false
		}
	}, waitFor, tick)
}

func TestAppendReading(t *testing.T) {
	tests := []struct {
		name    string
		held    []models.Reading
		in      models.Reading
		changed bool
		want    int
	}{
		{name: "empty window", held: nil, in: models.Reading{Timestamp: 1}, changed: true, want: 1},
		{name: "newer", held: readingsAt(0, 3), in: models.Reading{Timestamp: 10_000}, changed: true, want: 4},
		{name: "duplicate", held: readingsAt(0, 3), in: models.Reading{Timestamp: 2_000}, changed: false, want: 3},
		{name: "full window", held: readingsAt(0, models.HistoryWindow), in: models.Reading{Timestamp: 1_000_000}, changed: true, want: models.HistoryWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := models.NewAppState()
			s.Series[0].Readings = tt.held

			changed := appendReading(&s, "benzene", tt.in)
			assert.Equal(t, tt.changed, changed)
			assert.Len(t, s.Series[0].Readings, tt.want)
			if tt.changed {
				assert.Equal(t, tt.in, s.Series[0].Readings[len(s.Series[0].Readings)-1])
			}
		})
	}

	s := models.NewAppState()
	assert.False(t, appendReading(&s, "xylene", models.Reading{Timestamp: 1}))
}
