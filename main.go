package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/api"
	"github.com/IDGS-904-22002349/Eathereye/config"
	"github.com/IDGS-904-22002349/Eathereye/dashboard"
	"github.com/IDGS-904-22002349/Eathereye/log"
	"github.com/IDGS-904-22002349/Eathereye/report"
	"github.com/IDGS-904-22002349/Eathereye/services"

	"go.uber.org/zap"
)

func main() {
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger = log.SetLevel(cfg.LogLevel)
	time.Local = cfg.Timezone

	fields := make([]zap.Field, 0, len(cfg.Fields()))
	for k, v := range cfg.Fields() {
		fields = append(fields, zap.String(k, v))
	}
	logger.Info("Configuration loaded", fields...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	firebaseService, err := services.NewFirebaseService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Firebase service", zap.Error(err))
	}
	defer firebaseService.Close()

	settings, err := services.NewSettingsStore(ctx, cfg.SettingsDBPath, cfg.DefaultThreshold, logger)
	if err != nil {
		logger.Fatal("Failed to open settings store", zap.Error(err))
	}
	defer settings.Close()

	mqttService, err := services.NewMQTTService(services.MQTTOptions{
		BrokerURL: cfg.MQTTBroker,
		ClientID:  cfg.MQTTClientID,
		Username:  cfg.MQTTUsername,
		Password:  cfg.MQTTPassword,
		QoS:       1,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create MQTT client", zap.Error(err))
	}

	notifiers := services.MultiNotifier{services.NewLogNotifier(logger)}

	if cfg.TelegramBotToken != "" {
		telegram, err := services.NewTelegramNotifier(cfg, logger)
		if err != nil {
			logger.Error("Telegram notifications disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, telegram)
			if err := telegram.SendStartupMessage(); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	}

	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, services.NewWebhookNotifier(cfg.AlertWebhookURL, logger))
		logger.Info("Webhook alerts enabled", zap.String("url", cfg.AlertWebhookURL))
	}

	var amqpNotifier *services.AMQPNotifier
	if cfg.RabbitMQURL != "" {
		amqpNotifier, err = services.NewAMQPNotifier(cfg, logger)
		if err != nil {
			logger.Error("RabbitMQ alert events disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, amqpNotifier)
		}
	}

	background := services.NewBackgroundService(mqttService, firebaseService, settings, notifiers, logger)

	sensorHealth := services.NewSensorHealthService(notifiers, cfg.SensorSilenceTimeout, logger)
	background.AddRecorder(sensorHealth)
	go sensorHealth.Start(ctx)

	var batchWriter *services.BatchWriterService
	batchCtx, stopBatch := context.WithCancel(context.Background())
	defer stopBatch()
	if cfg.RecordHistory {
		batchWriter = services.NewBatchWriterService(firebaseService, cfg.HistoryBatchSize, cfg.HistoryBatchTimeout, logger)
		background.AddRecorder(batchWriter)
		go batchWriter.Start(batchCtx)
	}

	if err := background.Start(ctx); err != nil {
		logger.Fatal("Failed to start background session", zap.Error(err))
	}

	coordinator := dashboard.New(mqttService, firebaseService, dashboard.Options{
		SettleDelay: cfg.HistorySettleDelay,
		Logger:      logger,
	})
	if err := coordinator.Start(ctx); err != nil {
		logger.Fatal("Failed to start dashboard", zap.Error(err))
	}

	alertFeed := dashboard.NewAlertFeed(firebaseService, cfg.NotificationPollRate, logger)
	alertFeed.Start(ctx)

	reports := report.NewService(firebaseService, cfg.Timezone, logger)

	handler := api.NewHandler(api.Deps{
		State:        coordinator,
		Alerts:       alertFeed,
		Settings:     settings,
		Reports:      reports,
		SensorHealth: sensorHealth,
		Login: api.Credentials{
			Username: cfg.LoginUsername,
			Password: cfg.LoginPassword,
		},
	}, logger)

	httpServer := api.NewHTTPServer(cfg.HTTPAddr, handler.Router(), logger)
	httpServer.StartOnBackground(cancel)

	logger.Info("AetherEye monitoring service started",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Float64("default_threshold", cfg.DefaultThreshold),
		zap.Int("notifiers", len(notifiers)))

	// Wait for a shutdown signal or a fatal server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping services")
	case <-ctx.Done():
		logger.Warn("Service context cancelled, stopping services")
	}

	if err := httpServer.Shutdown(); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	coordinator.Close()
	alertFeed.Close()
	background.Stop()
	cancel()

	if batchWriter != nil {
		stopBatch()
		if !batchWriter.WaitForShutdown(15 * time.Second) {
			logger.Warn("Batch writer shutdown timeout")
		}
	}

	if amqpNotifier != nil {
		if err := amqpNotifier.Close(); err != nil {
			logger.Error("Error closing RabbitMQ connection", zap.Error(err))
		}
	}

	logger.Info("AetherEye monitoring service stopped")
}
