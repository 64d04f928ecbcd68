package services

import (
	"context"
	"errors"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"go.uber.org/zap"
)

// Notification is a user-visible alert raised for a breach.
type Notification struct {
	ID      string
	Title   string
	Message string
	Breach  *models.Breach
	// Audible selects the alarm-sound variant.
	Audible bool
}

// Notifier delivers a Notification to the user through some channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(zap.String("component", "notifier"))}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("id", n.ID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.Bool("audible", n.Audible),
	}
	if n.Breach != nil {
		fields = append(fields,
			zap.String("sensor", n.Breach.SensorKey),
			zap.Float64("value", n.Breach.Value),
			zap.Float64("threshold", n.Breach.Threshold))
	}
	l.logger.Warn("Air quality alert", fields...)
	return nil
}
