package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/metrics"
	"github.com/IDGS-904-22002349/Eathereye/models"
	"github.com/IDGS-904-22002349/Eathereye/services"

	"go.uber.org/zap"
)

// HistorySource serves the range query and the date picker.
type HistorySource interface {
	ReadingsInRange(ctx context.Context, sensorKey string, start, end int64) ([]models.Reading, error)
	DatesWithData(ctx context.Context, sensorKey string, loc *time.Location) ([]time.Time, error)
}

// Request selects the readings of one sensor between two calendar days,
// both inclusive.
type Request struct {
	SensorKey string
	From      time.Time
	To        time.Time
	Format    Format
}

// Report is a rendered document.
type Report struct {
	FileName    string
	ContentType string
	Rows        int
	Data        []byte
}

// Service fetches readings and renders reports in the app time zone.
type Service struct {
	source HistorySource
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

func NewService(source HistorySource, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		source: source,
		loc:    loc,
		logger: logger.With(zap.String("component", "report")),
		now:    time.Now,
	}
}

// Location returns the time zone reports are rendered in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// DayRange expands two calendar days to the inclusive millisecond range
// from the start of from to the last millisecond of to, in loc.
func DayRange(from, to time.Time, loc *time.Location) (int64, int64, error) {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	endDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
	if endDay.Before(start) {
		return 0, 0, ErrInvalidRange
	}
	end := endDay.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start.UnixMilli(), end.UnixMilli(), nil
}

// Generate fetches the requested range and renders it.
func (s *Service) Generate(ctx context.Context, req Request) (*Report, error) {
	sensor, ok := models.LookupSensor(req.SensorKey)
	if !ok {
		return nil, fmt.Errorf("%q: %w", req.SensorKey, services.ErrUnknownSensor)
	}
	if req.Format != FormatCSV && req.Format != FormatPDF {
		return nil, fmt.Errorf("%q: %w", req.Format, ErrUnknownFormat)
	}

	start, end, err := DayRange(req.From, req.To, s.loc)
	if err != nil {
		return nil, err
	}

	readings, err := s.source.ReadingsInRange(ctx, sensor.Key, start, end)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("readings_in_range").Inc()
		return nil, fmt.Errorf("fetch readings: %w", err)
	}
	if len(readings) == 0 {
		return nil, ErrNoData
	}

	doc := Document{
		SensorName: sensor.Name,
		From:       req.From,
		To:         req.To,
		Readings:   readings,
		Location:   s.loc,
	}

	var buf bytes.Buffer
	if err := Write(&buf, req.Format, doc); err != nil {
		return nil, err
	}

	metrics.ReportsGenerated.WithLabelValues(string(req.Format)).Inc()
	s.logger.Info("Report generated",
		zap.String("sensor", sensor.Key),
		zap.String("format", string(req.Format)),
		zap.Int("rows", len(readings)))

	return &Report{
		FileName:    FileName(sensor.Name, req.Format, s.now()),
		ContentType: req.Format.ContentType(),
		Rows:        len(readings),
		Data:        buf.Bytes(),
	}, nil
}

// DatesWithData returns the calendar days that have readings for sensorKey.
func (s *Service) DatesWithData(ctx context.Context, sensorKey string) ([]time.Time, error) {
	if _, ok := models.LookupSensor(sensorKey); !ok {
		return nil, fmt.Errorf("%q: %w", sensorKey, services.ErrUnknownSensor)
	}
	return s.source.DatesWithData(ctx, sensorKey, s.loc)
}

// Save writes r into dir and returns the file path.
func Save(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, r.FileName)
	if err := os.WriteFile(path, r.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
