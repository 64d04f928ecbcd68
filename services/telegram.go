package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// alertThrottle is the minimum gap between chat alerts for the same sensor.
const alertThrottle = 15 * time.Second

// TelegramNotifier pushes alerts to a Telegram chat. Audible alerts ring;
// the rest are delivered silently.
type TelegramNotifier struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	loc            *time.Location
	logger         *zap.Logger
	mu             sync.Mutex
	lastAlertTimes map[string]time.Time // last alert per sensor
}

func NewTelegramNotifier(cfg *config.Config, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	ts := &TelegramNotifier{
		bot:            bot,
		chatID:         chatID,
		loc:            cfg.Timezone,
		logger:         logger.With(zap.String("component", "telegram")),
		lastAlertTimes: make(map[string]time.Time),
	}

	// Test Telegram connection with retry
	if err := ts.testConnection(); err != nil {
		ts.logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	ts.logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return ts, nil
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramNotifier) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := ts.bot.GetMe()
		if err == nil {
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (ts *TelegramNotifier) Notify(_ context.Context, n Notification) error {
	sensor := ""
	if n.Breach != nil {
		sensor = n.Breach.SensorKey
	}
	if ts.shouldThrottle(sensor, time.Now()) {
		ts.logger.Debug("Throttling alert", zap.String("sensor", sensor))
		return nil
	}

	msg := tgbotapi.NewMessage(ts.chatID, formatTelegramAlert(n, ts.loc))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true
	msg.DisableNotification = !n.Audible

	if _, err := ts.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}

	ts.logger.Info("Sent alert", zap.String("sensor", sensor), zap.Bool("audible", n.Audible))
	return nil
}

// shouldThrottle reports whether an alert for sensor was sent within the
// throttle window and records now otherwise.
func (ts *TelegramNotifier) shouldThrottle(sensor string, now time.Time) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if last, ok := ts.lastAlertTimes[sensor]; ok && now.Sub(last) < alertThrottle {
		return true
	}
	ts.lastAlertTimes[sensor] = now
	return false
}

// SendStartupMessage announces the monitoring service.
func (ts *TelegramNotifier) SendStartupMessage() error {
	msg := tgbotapi.NewMessage(ts.chatID,
		"<b>AetherEye monitoring started</b>\n\nReal-time air quality protection is active.")
	msg.ParseMode = "HTML"
	msg.DisableNotification = true

	_, err := ts.bot.Send(msg)
	return err
}

func formatTelegramAlert(n Notification, loc *time.Location) string {
	var sb strings.Builder

	sb.WriteString("🚨 <b>")
	sb.WriteString(html.EscapeString(n.Title))
	sb.WriteString("</b>\n\n")
	sb.WriteString(html.EscapeString(n.Message))
	sb.WriteString("\n")

	if n.Breach != nil {
		if loc == nil {
			loc = time.UTC
		}
		sb.WriteString(fmt.Sprintf("\n🕐 <b>Time:</b> %s\n", n.Breach.Timestamp.In(loc).Format("2006-01-02 15:04:05")))
	}

	sb.WriteString("\n💡 Ventilate the area or start the extraction system.")
	return sb.String()
}
