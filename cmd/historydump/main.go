package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/config"
	"github.com/IDGS-904-22002349/Eathereye/log"
	"github.com/IDGS-904-22002349/Eathereye/report"
	"github.com/IDGS-904-22002349/Eathereye/services"

	"go.uber.org/zap"
)

var (
	sensor    = flag.String("sensor", "benzene", "Sensor key to export")
	from      = flag.String("from", "", "First day (YYYY-MM-DD), defaults to today")
	to        = flag.String("to", "", "Last day (YYYY-MM-DD), defaults to -from")
	format    = flag.String("format", "csv", "Output format: csv or pdf")
	outDir    = flag.String("out", "downloads", "Directory the report is written to")
	listDates = flag.Bool("dates", false, "List the days that have readings and exit")
	importCSV = flag.String("import", "", "Load a CSV report back into the sensor history and exit")
)

func main() {
	flag.Parse()

	logger := log.GetInstance()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	firebaseService, err := services.NewFirebaseService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Firebase service", zap.Error(err))
	}
	defer firebaseService.Close()

	if *importCSV != "" {
		n, err := importReadings(ctx, firebaseService, *importCSV, *sensor, cfg.Timezone)
		if err != nil {
			logger.Fatal("Failed to import readings", zap.String("file", *importCSV), zap.Int("saved", n), zap.Error(err))
		}
		logger.Info("Readings imported", zap.String("sensor", *sensor), zap.Int("rows", n))
		return
	}

	reports := report.NewService(firebaseService, cfg.Timezone, logger)

	if *listDates {
		days, err := reports.DatesWithData(ctx, *sensor)
		if err != nil {
			logger.Fatal("Failed to read dates", zap.Error(err))
		}
		for _, d := range days {
			fmt.Println(d.Format(time.DateOnly))
		}
		return
	}

	f, err := report.ParseFormat(*format)
	if err != nil {
		logger.Fatal("Invalid format", zap.String("format", *format), zap.Error(err))
	}

	fromDay, err := parseDay(*from, time.Now().In(cfg.Timezone), cfg.Timezone)
	if err != nil {
		logger.Fatal("Invalid -from date", zap.Error(err))
	}
	toDay, err := parseDay(*to, fromDay, cfg.Timezone)
	if err != nil {
		logger.Fatal("Invalid -to date", zap.Error(err))
	}

	r, err := reports.Generate(ctx, report.Request{
		SensorKey: *sensor,
		From:      fromDay,
		To:        toDay,
		Format:    f,
	})
	if errors.Is(err, report.ErrNoData) {
		logger.Warn("No records found in that range",
			zap.String("sensor", *sensor),
			zap.Time("from", fromDay),
			zap.Time("to", toDay))
		os.Exit(1)
	}
	if err != nil {
		logger.Fatal("Failed to generate report", zap.Error(err))
	}

	path, err := report.Save(*outDir, r)
	if err != nil {
		logger.Fatal("Failed to save report", zap.Error(err))
	}

	logger.Info("Report written",
		zap.String("path", path),
		zap.Int("rows", r.Rows))
}

// importReadings stores every row of a CSV report under sensorKey and returns
// how many were saved.
func importReadings(ctx context.Context, fs *services.FirebaseService, path, sensorKey string, loc *time.Location) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	readings, err := report.ReadCSV(f, loc)
	if err != nil {
		return 0, err
	}

	for i, r := range readings {
		if err := fs.SaveReading(ctx, sensorKey, r); err != nil {
			return i, err
		}
	}
	return len(readings), nil
}

func parseDay(value string, fallback time.Time, loc *time.Location) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseInLocation(time.DateOnly, value, loc)
}
