package services

import "sync"

// Watchers fans a value out to subscribers with latest-value semantics: a
// slow reader only ever sees the newest value, never a backlog.
type Watchers[T any] struct {
	mu      sync.Mutex
	nextID  int
	current T
	closed  bool
	subs    map[int]chan T
}

func NewWatchers[T any](initial T) *Watchers[T] {
	return &Watchers[T]{current: initial, subs: make(map[int]chan T)}
}

// Watch returns a channel primed with the current value and a cancel func
// that closes it. After CloseAll the channel is returned already closed.
func (w *Watchers[T]) Watch() (<-chan T, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan T, 1)
	if w.closed {
		close(ch)
		return ch, func() {}
	}

	id := w.nextID
	w.nextID++
	ch <- w.current
	w.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if c, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(c)
			}
		})
	}
}

// Publish replaces the current value and hands it to every subscriber,
// displacing any value they have not read yet.
func (w *Watchers[T]) Publish(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.current = v
	for _, ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (w *Watchers[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// CloseAll closes every subscriber channel.
func (w *Watchers[T]) CloseAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}
