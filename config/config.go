package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string

	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	SettingsDBPath string
	HTTPAddr       string
	LogLevel       string
	Timezone       *time.Location

	// Alerting
	DefaultThreshold float64
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
	RabbitMQURL      string
	RabbitMQExchange string

	// History
	HistorySettleDelay   time.Duration
	HistoryPollInterval  time.Duration
	RecordHistory        bool
	HistoryBatchSize     int
	HistoryBatchTimeout  time.Duration
	NotificationPollRate time.Duration
	SensorSilenceTimeout time.Duration

	// Placeholder credentials for the login screen
	LoginUsername string
	LoginPassword string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	tzName := getEnv("APP_TIMEZONE", "America/Mexico_City")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", tzName, err)
	}

	config := &Config{
		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		MQTTBroker:                 getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:               getEnv("MQTT_CLIENT_ID", ""),
		MQTTUsername:               getEnv("MQTT_USERNAME", ""),
		MQTTPassword:               getEnv("MQTT_PASSWORD", ""),
		SettingsDBPath:             getEnv("SETTINGS_DB_PATH", "data/settings.sqlite"),
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8080"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		Timezone:                   loc,
		DefaultThreshold:           getEnvFloat("DEFAULT_VOC_THRESHOLD", 10.0),
		TelegramBotToken:           getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:             getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:            getEnv("ALERT_WEBHOOK_URL", ""),
		RabbitMQURL:                getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:           getEnv("RABBITMQ_EXCHANGE", "aethereye.alerts"),
		HistorySettleDelay:         getEnvDuration("HISTORY_SETTLE_DELAY", 1500*time.Millisecond),
		HistoryPollInterval:        getEnvDuration("HISTORY_POLL_INTERVAL", 3*time.Second),
		RecordHistory:              getEnvBool("RECORD_HISTORY", false),
		HistoryBatchSize:           getEnvInt("HISTORY_BATCH_SIZE", 20),
		HistoryBatchTimeout:        getEnvDuration("HISTORY_BATCH_TIMEOUT", 10*time.Second),
		NotificationPollRate:       getEnvDuration("NOTIFICATION_POLL_INTERVAL", 5*time.Second),
		SensorSilenceTimeout:       getEnvDuration("SENSOR_SILENCE_TIMEOUT", 2*time.Minute),
		LoginUsername:              getEnv("LOGIN_USERNAME", "admin"),
		LoginPassword:              getEnv("LOGIN_PASSWORD", "password"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.FirebaseDbUrl == "" || c.FirebaseServiceAccountJSON == "" {
		return fmt.Errorf("firebase configuration is required (FIREBASE_DB_URL, FIREBASE_SERVICE_ACCOUNT_JSON)")
	}
	if !strings.Contains(c.MQTTBroker, "://") {
		return fmt.Errorf("MQTT_BROKER must include a scheme, got %q", c.MQTTBroker)
	}
	if c.DefaultThreshold < 0 {
		return fmt.Errorf("DEFAULT_VOC_THRESHOLD must not be negative")
	}
	if c.SensorSilenceTimeout <= 0 {
		return fmt.Errorf("SENSOR_SILENCE_TIMEOUT must be positive")
	}
	if c.HistoryBatchSize <= 0 {
		return fmt.Errorf("HISTORY_BATCH_SIZE must be positive")
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// Fields returns the configuration as loggable key/values with secrets masked.
func (c *Config) Fields() map[string]string {
	return map[string]string{
		"firebase_db_url":  c.FirebaseDbUrl,
		"mqtt_broker":      c.MQTTBroker,
		"mqtt_username":    c.MQTTUsername,
		"mqtt_password":    mask(c.MQTTPassword),
		"settings_db_path": c.SettingsDBPath,
		"http_addr":        c.HTTPAddr,
		"timezone":         c.Timezone.String(),
		"default_voc":      strconv.FormatFloat(c.DefaultThreshold, 'f', -1, 64),
		"telegram_token":   mask(c.TelegramBotToken),
		"alert_webhook":    c.AlertWebhookURL,
		"rabbitmq_url":     mask(c.RabbitMQURL),
		"record_history":   strconv.FormatBool(c.RecordHistory),
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
