package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"
	"github.com/IDGS-904-22002349/Eathereye/services"
)

type published struct {
	topic   string
	payload string
}

type fakeBroker struct {
	mu        sync.Mutex
	nextID    int
	handlers  map[string]map[int]services.MessageHandler
	published []published
	connected bool
	conn      *services.Watchers[bool]
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers: make(map[string]map[int]services.MessageHandler),
		conn:     services.NewWatchers(false),
	}
}

type fakeSubscription struct {
	b     *fakeBroker
	topic string
	id    int
}

func (s *fakeSubscription) Topic() string { return s.topic }

func (s *fakeSubscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.handlers[s.topic], s.id)
}

func (b *fakeBroker) Subscribe(topic string, handler services.MessageHandler) (services.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]services.MessageHandler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[topic][id] = handler
	return &fakeSubscription{b: b, topic: topic, id: id}, nil
}

func (b *fakeBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return services.ErrNotConnected
	}
	b.published = append(b.published, published{topic: topic, payload: string(payload)})
	return nil
}

func (b *fakeBroker) WatchConnection() (<-chan bool, func()) {
	return b.conn.Watch()
}

func (b *fakeBroker) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
	b.conn.Publish(v)
}

func (b *fakeBroker) deliver(topic, payload string) {
	b.mu.Lock()
	var hs []services.MessageHandler
	for _, h := range b.handlers[topic] {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(topic, []byte(payload))
	}
}

func (b *fakeBroker) handlerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, hs := range b.handlers {
		n += len(hs)
	}
	return n
}

func (b *fakeBroker) publishedOn(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

type fakeListener struct {
	h         *fakeHistory
	key       string
	after     int64
	onReading func(models.Reading)
	onError   func(error)
	closed    bool
}

func (l *fakeListener) Close() {
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	l.closed = true
}

type fakeHistory struct {
	mu        sync.Mutex
	data      map[string][]models.Reading
	gates     map[string]chan struct{}
	errs      map[string]error
	fetched   map[string]int
	listeners []*fakeListener
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		data:    make(map[string][]models.Reading),
		gates:   make(map[string]chan struct{}),
		errs:    make(map[string]error),
		fetched: make(map[string]int),
	}
}

// hold blocks fetches of key until the returned func is called.
func (h *fakeHistory) hold(key string) func() {
	gate := make(chan struct{})
	h.mu.Lock()
	h.gates[key] = gate
	h.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (h *fakeHistory) LastReadings(ctx context.Context, key string, n int) ([]models.Reading, error) {
	h.mu.Lock()
	gate := h.gates[key]
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetched[key]++
	if err := h.errs[key]; err != nil {
		return nil, err
	}
	readings := h.data[key]
	if len(readings) > n {
		readings = readings[len(readings)-n:]
	}
	out := make([]models.Reading, len(readings))
	copy(out, readings)
	return out, nil
}

func (h *fakeHistory) FollowReadings(_ context.Context, key string, after int64, onReading func(models.Reading), onError func(error)) (services.Listener, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := &fakeListener{h: h, key: key, after: after, onReading: onReading, onError: onError}
	h.listeners = append(h.listeners, l)
	return l, nil
}

// active returns the open listeners.
func (h *fakeHistory) active() []*fakeListener {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*fakeListener
	for _, l := range h.listeners {
		if !l.closed {
			out = append(out, l)
		}
	}
	return out
}

func (h *fakeHistory) created(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range h.listeners {
		if l.key == key {
			n++
		}
	}
	return n
}

func (h *fakeHistory) fetchCount(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetched[key]
}

// push delivers r to every open listener of key with a timestamp after theirs.
func (h *fakeHistory) push(key string, r models.Reading) {
	for _, l := range h.active() {
		if l.key == key && r.Timestamp > l.after {
			l.onReading(r)
		}
	}
}

func (h *fakeHistory) fail(key string, err error) {
	for _, l := range h.active() {
		if l.key == key {
			l.onError(err)
		}
	}
}

type fakeNotifications struct {
	lists chan []models.AlertNotification
}

func (f *fakeNotifications) WatchNotifications(ctx context.Context, _ time.Duration, fn func([]models.AlertNotification)) {
	for {
		select {
		case <-ctx.Done():
			return
		case list := <-f.lists:
			fn(list)
		}
	}
}
