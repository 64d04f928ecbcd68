package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPNotifier publishes alerts to a RabbitMQ topic exchange with routing
// key alerts.<sensor>.
type AMQPNotifier struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	isClosing bool
}

// AlertEvent is the message body published for every alert.
type AlertEvent struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Sensor    string  `json:"sensor,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Audible   bool    `json:"audible"`
}

func NewAMQPNotifier(cfg *config.Config, logger *zap.Logger) (*AMQPNotifier, error) {
	n := &AMQPNotifier{
		url:      cfg.RabbitMQURL,
		exchange: cfg.RabbitMQExchange,
		logger:   logger.With(zap.String("component", "amqp")),
	}

	if err := n.connect(); err != nil {
		return nil, err
	}

	return n, nil
}

// connect dials RabbitMQ and declares the alert exchange.
func (n *AMQPNotifier) connect() error {
	n.logger.Info("Connecting to RabbitMQ", zap.String("exchange", n.exchange))

	var conn *amqp.Connection
	var err error

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(n.url)
		if err == nil {
			break
		}

		n.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		n.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	n.mu.Lock()
	n.conn = conn
	n.channel = channel
	n.mu.Unlock()

	n.logger.Info("Exchange declared", zap.String("exchange", n.exchange))

	go n.handleReconnect(conn)

	return nil
}

// handleReconnect redials when the connection drops.
func (n *AMQPNotifier) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	n.mu.Lock()
	closing := n.isClosing
	n.mu.Unlock()
	if closing {
		n.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	n.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for {
		n.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := n.connect()
		if err == nil {
			n.logger.Info("Successfully reconnected to RabbitMQ")
			return
		}
		n.logger.Error("Failed to reconnect", zap.Error(err))

		time.Sleep(5 * time.Second)

		n.mu.Lock()
		closing = n.isClosing
		n.mu.Unlock()
		if closing {
			return
		}
	}
}

func (n *AMQPNotifier) Notify(ctx context.Context, note Notification) error {
	event := AlertEvent{
		ID:      note.ID,
		Title:   note.Title,
		Message: note.Message,
		Audible: note.Audible,
	}
	routingKey := "alerts.unknown"
	if note.Breach != nil {
		event.Sensor = note.Breach.SensorKey
		event.Value = note.Breach.Value
		event.Threshold = note.Breach.Threshold
		routingKey = "alerts." + note.Breach.SensorKey
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	n.mu.Lock()
	channel := n.channel
	n.mu.Unlock()
	if channel == nil || channel.IsClosed() {
		return fmt.Errorf("rabbitmq channel unavailable")
	}

	err = channel.PublishWithContext(ctx,
		n.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    note.ID,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	n.logger.Debug("Published alert", zap.String("routing_key", routingKey))
	return nil
}

// Close gracefully closes the RabbitMQ connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	n.isClosing = true
	conn, channel := n.conn, n.channel
	n.mu.Unlock()

	n.logger.Info("Closing RabbitMQ connection")

	if channel != nil {
		if err := channel.Close(); err != nil {
			n.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			n.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	return nil
}
