package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"
	"github.com/IDGS-904-22002349/Eathereye/services"

	"go.uber.org/zap"
)

// NotificationSource streams the full notification list until ctx is done.
type NotificationSource interface {
	WatchNotifications(ctx context.Context, interval time.Duration, fn func([]models.AlertNotification))
}

// AlertFeed mirrors the stored notifications, newest first, for the alerts
// screen.
type AlertFeed struct {
	source   NotificationSource
	interval time.Duration
	logger   *zap.Logger
	watch    *services.Watchers[[]models.AlertNotification]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAlertFeed(source NotificationSource, interval time.Duration, logger *zap.Logger) *AlertFeed {
	return &AlertFeed{
		source:   source,
		interval: interval,
		logger:   logger.With(zap.String("component", "alert_feed")),
		watch:    services.NewWatchers[[]models.AlertNotification](nil),
	}
}

// Start follows the notification list in the background.
func (f *AlertFeed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.source.WatchNotifications(ctx, f.interval, func(list []models.AlertNotification) {
			sorted := make([]models.AlertNotification, len(list))
			copy(sorted, list)
			models.SortNewestFirst(sorted)
			f.logger.Debug("Notifications updated", zap.Int("count", len(sorted)))
			f.watch.Publish(sorted)
		})
	}()
}

// Alerts returns the latest list.
func (f *AlertFeed) Alerts() []models.AlertNotification {
	return f.watch.Get()
}

// Watch streams the list, starting with the current one.
func (f *AlertFeed) Watch() (<-chan []models.AlertNotification, func()) {
	return f.watch.Watch()
}

// Close stops following and closes every watcher.
func (f *AlertFeed) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	f.watch.CloseAll()
}
