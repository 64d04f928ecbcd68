package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWatchers(t *testing.T) {
	w := NewWatchers(1)

	ch, cancel := w.Watch()
	assert.Equal(t, 1, <-ch)

	// Unread values are displaced by newer ones.
	w.Publish(2)
	w.Publish(3)
	assert.Equal(t, 3, <-ch)
	assert.Equal(t, 3, w.Get())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	w.Publish(4)
	other, _ := w.Watch()
	assert.Equal(t, 4, <-other)

	w.CloseAll()
	_, ok = <-other
	assert.False(t, ok)

	late, _ := w.Watch()
	_, ok = <-late
	assert.False(t, ok)
}
