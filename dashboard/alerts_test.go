package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAlertFeedNewestFirst(t *testing.T) {
	source := &fakeNotifications{lists: make(chan []models.AlertNotification)}
	feed := NewAlertFeed(source, time.Second, zap.NewNop())
	feed.Start(context.Background())
	defer feed.Close()

	assert.Empty(t, feed.Alerts())

	source.lists <- []models.AlertNotification{
		{ID: "a", Title: "Benzene alert!", Timestamp: 100},
		{ID: "c", Title: "Toluene alert!", Timestamp: 300},
		{ID: "b", Title: "Benzene alert!", Timestamp: 200},
	}

	require.Eventually(t, func() bool { return len(feed.Alerts()) == 3 }, waitFor, tick)
	alerts := feed.Alerts()
	assert.Equal(t, []string{"c", "b", "a"}, []string{alerts[0].ID, alerts[1].ID, alerts[2].ID})
}

func TestAlertFeedCloseEndsWatchers(t *testing.T) {
	source := &fakeNotifications{lists: make(chan []models.AlertNotification)}
	feed := NewAlertFeed(source, time.Second, zap.NewNop())
	feed.Start(context.Background())

	updates, cancel := feed.Watch()
	defer cancel()
	<-updates

	feed.Close()

	_, ok := <-updates
	assert.False(t, ok)
}
