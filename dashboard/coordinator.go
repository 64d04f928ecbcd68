package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/metrics"
	"github.com/IDGS-904-22002349/Eathereye/models"
	"github.com/IDGS-904-22002349/Eathereye/services"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by operations on a closed coordinator.
	ErrClosed = errors.New("coordinator closed")
	// ErrOutOfRange is returned for a series or screen index that does not exist.
	ErrOutOfRange = errors.New("index out of range")
)

// Broker is the part of the messaging client the coordinator uses. The
// connection itself is owned by the background session.
type Broker interface {
	Subscribe(topic string, handler services.MessageHandler) (services.Subscription, error)
	Publish(topic string, payload []byte) error
	WatchConnection() (<-chan bool, func())
}

// HistoryStore serves the bulk fetch and the tail-follow listener.
type HistoryStore interface {
	LastReadings(ctx context.Context, sensorKey string, n int) ([]models.Reading, error)
	FollowReadings(ctx context.Context, sensorKey string, after int64, onReading func(models.Reading), onError func(error)) (services.Listener, error)
}

// Options tunes a Coordinator.
type Options struct {
	// SettleDelay is waited after the first connection before the initial
	// history load.
	SettleDelay time.Duration
	Logger      *zap.Logger
}

// Coordinator owns the dashboard state. Live messages and history
// callbacks merge into it with compare-and-swap; listener lifecycle is
// serialised on a single loop goroutine.
type Coordinator struct {
	broker      Broker
	history     HistoryStore
	logger      *zap.Logger
	settleDelay time.Duration
	now         func() time.Time

	state   atomic.Pointer[models.AppState]
	pubMu   sync.Mutex
	watch   *services.Watchers[models.AppState]
	events  chan event
	done    chan struct{}
	started atomic.Bool
	closing sync.Once
	wg      sync.WaitGroup

	// Owned by the loop goroutine.
	ctx        context.Context
	cancel     context.CancelFunc
	subs       []services.Subscription
	listener   services.Listener
	generation uint64
	settled    bool
	settleT    *time.Timer
}

type event interface{}

type connEvent struct{ connected bool }

type settleEvent struct{}

type selectEvent struct {
	index int
	reply chan error
}

type fetchResult struct {
	generation uint64
	key        string
	readings   []models.Reading
	err        error
}

// New creates a coordinator with the initial state for the sensor catalogue.
func New(broker Broker, history HistoryStore, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		broker:      broker,
		history:     history,
		logger:      logger.With(zap.String("component", "coordinator")),
		settleDelay: opts.SettleDelay,
		now:         time.Now,
		events:      make(chan event, 16),
		done:        make(chan struct{}),
	}

	initial := models.NewAppState()
	c.state.Store(&initial)
	c.watch = services.NewWatchers(initial)
	return c
}

// Start begins observing the broker connection. It returns immediately.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator already started")
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	connCh, stopConn := c.broker.WatchConnection()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer stopConn()
		for {
			select {
			case <-c.done:
				return
			case connected, ok := <-connCh:
				if !ok {
					return
				}
				c.send(connEvent{connected: connected})
			}
		}
	}()
	go c.loop()

	return nil
}

// Close tears down the tail-follow listener and every topic subscription.
// It is safe to call more than once.
func (c *Coordinator) Close() {
	c.closing.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.watch.CloseAll()
	})
}

// State returns a snapshot of the current state.
func (c *Coordinator) State() models.AppState {
	return c.state.Load().Clone()
}

// Watch streams state snapshots, starting with the current one.
func (c *Coordinator) Watch() (<-chan models.AppState, func()) {
	return c.watch.Watch()
}

// HistoryPhase returns the phase of the history subscription.
func (c *Coordinator) HistoryPhase() models.HistoryPhase {
	return c.state.Load().HistoryPhase
}

// SelectSeries makes the series at index the selected one and rebinds the
// history subscription to it. It returns once the rebinding has started.
func (c *Coordinator) SelectSeries(index int) error {
	if index < 0 || index >= len(c.state.Load().Series) {
		return fmt.Errorf("series %d: %w", index, ErrOutOfRange)
	}
	if !c.started.Load() {
		return errors.New("coordinator not started")
	}

	reply := make(chan error, 1)
	select {
	case c.events <- selectEvent{index: index, reply: reply}:
	case <-c.done:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// SelectScreen switches the active screen.
func (c *Coordinator) SelectScreen(index int) error {
	if index < 0 || index >= len(models.ScreenTitles) {
		return fmt.Errorf("screen %d: %w", index, ErrOutOfRange)
	}
	c.update(func(s *models.AppState) bool {
		if s.ScreenIndex == index {
			return false
		}
		s.ScreenIndex = index
		return true
	})
	return nil
}

// SetExtraction sends the manual extraction command. While disconnected the
// command is not sent and the user is told so.
func (c *Coordinator) SetExtraction(on bool) error {
	command := "OFF"
	if on {
		command = "ON"
	}

	if err := c.broker.Publish(models.TopicExtractionCommand, []byte(command)); err != nil {
		c.logger.Warn("Failed to send extraction command", zap.String("command", command), zap.Error(err))
		c.SetUserMessage("Extraction command not sent: not connected to the broker")
		return err
	}

	c.update(func(s *models.AppState) bool {
		s.ExtractionActive = on
		return true
	})
	return nil
}

// ClearError dismisses the error message.
func (c *Coordinator) ClearError() {
	c.update(func(s *models.AppState) bool {
		if s.ErrorMessage == "" {
			return false
		}
		s.ErrorMessage = ""
		return true
	})
}

// SetUserMessage shows a transient message distinct from the error field.
func (c *Coordinator) SetUserMessage(msg string) {
	c.update(func(s *models.AppState) bool {
		s.UserMessage = msg
		return true
	})
}

// ClearUserMessage dismisses the user message.
func (c *Coordinator) ClearUserMessage() {
	c.update(func(s *models.AppState) bool {
		if s.UserMessage == "" {
			return false
		}
		s.UserMessage = ""
		return true
	})
}

// update applies fn to a copy of the state and swaps it in. fn may run more
// than once and returns false to leave the state untouched.
func (c *Coordinator) update(fn func(s *models.AppState) bool) {
	for {
		old := c.state.Load()
		next := old.Clone()
		if !fn(&next) {
			return
		}
		if c.state.CompareAndSwap(old, &next) {
			break
		}
	}

	c.pubMu.Lock()
	c.watch.Publish(*c.state.Load())
	c.pubMu.Unlock()
}

func (c *Coordinator) send(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			c.teardown()
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev := ev.(type) {
	case connEvent:
		c.onConnection(ev.connected)
	case settleEvent:
		c.settled = true
		c.loadHistory(c.state.Load().Selected().Key)
	case selectEvent:
		ev.reply <- c.onSelect(ev.index)
	case fetchResult:
		c.onFetched(ev)
	}
}

func (c *Coordinator) onConnection(connected bool) {
	c.update(func(s *models.AppState) bool {
		if s.Connected == connected {
			return false
		}
		s.Connected = connected
		return true
	})

	if !connected || c.subs != nil {
		return
	}

	c.subscribe()

	// Observers learn the default selection before the user changes it.
	key := c.state.Load().Selected().Key
	if err := c.broker.Publish(models.TopicActiveSelection, []byte(key)); err != nil {
		c.logger.Warn("Failed to publish selection", zap.String("sensor", key), zap.Error(err))
	}

	if c.settleT == nil {
		c.settleT = time.AfterFunc(c.settleDelay, func() {
			c.send(settleEvent{})
		})
	}
}

// subscribe registers the environmental and series topics. The broker
// client replays them after a reconnect, so this runs once.
func (c *Coordinator) subscribe() {
	scalars := map[string]func(*models.AppState, float64){
		models.TopicPressure:    func(s *models.AppState, v float64) { s.Pressure = v },
		models.TopicTemperature: func(s *models.AppState, v float64) { s.Temperature = v },
		models.TopicHumidity:    func(s *models.AppState, v float64) { s.Humidity = v },
	}
	for topic, set := range scalars {
		set := set
		c.subscribeTopic(topic, func(v float64) {
			c.update(func(s *models.AppState) bool {
				set(s, v)
				return true
			})
		})
	}

	for _, series := range c.state.Load().Series {
		topic := series.Topic
		c.subscribeTopic(topic, func(v float64) {
			c.update(func(s *models.AppState) bool {
				return mergeLevel(s, topic, v)
			})
		})
	}
}

func (c *Coordinator) subscribeTopic(topic string, apply func(float64)) {
	sub, err := c.broker.Subscribe(topic, func(topic string, payload []byte) {
		v, err := services.ParseReading(payload)
		if err != nil {
			metrics.PayloadsDropped.WithLabelValues(topic).Inc()
			return
		}
		apply(v)
	})
	if err != nil {
		c.logger.Error("Failed to subscribe", zap.String("topic", topic), zap.Error(err))
		return
	}
	c.subs = append(c.subs, sub)
}

func (c *Coordinator) onSelect(index int) error {
	prevKey := c.state.Load().Selected().Key

	c.update(func(s *models.AppState) bool {
		if s.SelectedIndex == index {
			return false
		}
		s.SelectedIndex = index
		s.ErrorMessage = ""
		return true
	})

	newKey := c.state.Load().Selected().Key
	if newKey == prevKey {
		return nil
	}

	if err := c.broker.Publish(models.TopicActiveSelection, []byte(newKey)); err != nil {
		c.logger.Warn("Failed to publish selection", zap.String("sensor", newKey), zap.Error(err))
	}

	if c.settled {
		c.loadHistory(newKey)
	} else {
		c.detach()
	}
	return nil
}

// loadHistory moves the previous series back to idle and starts the bulk
// fetch for key. Results of older fetches are discarded on arrival.
func (c *Coordinator) loadHistory(key string) {
	c.detach()
	c.generation++
	generation := c.generation

	c.setPhase(models.HistoryLoading)

	ctx := c.ctx
	go func() {
		readings, err := c.history.LastReadings(ctx, key, models.HistoryWindow)
		if err == nil {
			models.SortReadings(readings)
			readings = models.TrimWindow(readings, models.HistoryWindow)
		}
		c.send(fetchResult{generation: generation, key: key, readings: readings, err: err})
	}()
}

func (c *Coordinator) onFetched(res fetchResult) {
	if res.generation != c.generation || res.key != c.state.Load().Selected().Key {
		c.logger.Debug("Discarding stale history fetch", zap.String("sensor", res.key))
		return
	}

	if res.err != nil {
		metrics.StoreErrors.WithLabelValues("last_readings").Inc()
		c.logger.Error("Failed to load history", zap.String("sensor", res.key), zap.Error(res.err))
		c.update(func(s *models.AppState) bool {
			s.ErrorMessage = fmt.Sprintf("Could not load history for %s: %v", models.SensorName(res.key), res.err)
			s.HistoryPhase = models.HistoryIdle
			return true
		})
		return
	}

	c.update(func(s *models.AppState) bool {
		return replaceReadings(s, res.key, res.readings)
	})

	after := c.now().UnixMilli()
	if n := len(res.readings); n > 0 {
		after = res.readings[n-1].Timestamp
	}

	key := res.key
	listener, err := c.history.FollowReadings(c.ctx, key, after,
		func(r models.Reading) {
			c.update(func(s *models.AppState) bool {
				return appendReading(s, key, r)
			})
		},
		func(err error) {
			metrics.StoreErrors.WithLabelValues("follow_readings").Inc()
			c.update(func(s *models.AppState) bool {
				s.ErrorMessage = fmt.Sprintf("History updates for %s failed: %v", models.SensorName(key), err)
				return true
			})
		})
	if err != nil {
		c.logger.Error("Failed to follow history", zap.String("sensor", key), zap.Error(err))
		c.update(func(s *models.AppState) bool {
			s.ErrorMessage = fmt.Sprintf("Could not follow history for %s: %v", models.SensorName(key), err)
			s.HistoryPhase = models.HistoryIdle
			return true
		})
		return
	}

	c.listener = listener
	c.setPhase(models.HistoryFollowing)
	c.logger.Debug("Following history", zap.String("sensor", key), zap.Int64("after", after))
}

// detach closes the active tail-follow listener. Close is synchronous, so
// no reading of the old series arrives after it returns.
func (c *Coordinator) detach() {
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
	c.setPhase(models.HistoryIdle)
}

func (c *Coordinator) setPhase(phase models.HistoryPhase) {
	c.update(func(s *models.AppState) bool {
		if s.HistoryPhase == phase {
			return false
		}
		s.HistoryPhase = phase
		return true
	})
}

func (c *Coordinator) teardown() {
	if c.settleT != nil {
		c.settleT.Stop()
	}
	c.detach()
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("Coordinator closed")
}

// mergeLevel sets the live level of the series on topic.
func mergeLevel(s *models.AppState, topic string, v float64) bool {
	for i := range s.Series {
		if s.Series[i].Topic == topic {
			s.Series[i].Level = v
			return true
		}
	}
	return false
}

// replaceReadings swaps the whole reading window of key.
func replaceReadings(s *models.AppState, key string, readings []models.Reading) bool {
	i := s.SeriesIndex(key)
	if i < 0 {
		return false
	}
	s.Series[i].Readings = readings
	return true
}

// appendReading adds r to the window of key, keeping it sorted and bounded.
// Readings not newer than the last one held are ignored.
func appendReading(s *models.AppState, key string, r models.Reading) bool {
	i := s.SeriesIndex(key)
	if i < 0 {
		return false
	}

	current := s.Series[i].Readings
	if n := len(current); n > 0 && r.Timestamp <= current[n-1].Timestamp {
		return false
	}

	next := make([]models.Reading, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, r)
	s.Series[i].Readings = models.TrimWindow(next, models.HistoryWindow)
	return true
}
