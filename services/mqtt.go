package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/metrics"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// MessageHandler receives the payload of a message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// MQTTService owns the single broker connection of the process. Several
// handlers may subscribe to the same topic; they share one broker
// subscription which is replayed on every reconnect.
type MQTTService struct {
	client mqtt.Client
	logger *zap.Logger
	broker string
	qos    byte

	mu     sync.Mutex
	nextID int
	routes map[string]map[int]MessageHandler

	state *Watchers[bool]
}

// Subscription is a handle for one handler registered with Subscribe.
type Subscription interface {
	Topic() string
	Unsubscribe()
}

type topicSubscription struct {
	svc   *MQTTService
	topic string
	id    int
	once  sync.Once
}

// NewMQTTService creates the client. It does not connect.
func NewMQTTService(opts MQTTOptions, logger *zap.Logger) (*MQTTService, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("broker URL is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = "aethereye-" + uuid.NewString()
	}

	s := &MQTTService{
		logger: logger.With(zap.String("component", "mqtt")),
		broker: opts.BrokerURL,
		qos:    opts.QoS,
		routes: make(map[string]map[int]MessageHandler),
		state:  NewWatchers(false),
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetKeepAlive(30 * time.Second)
	clientOpts.SetPingTimeout(10 * time.Second)
	clientOpts.SetConnectTimeout(5 * time.Second)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetMaxReconnectInterval(15 * time.Second)
	clientOpts.SetOnConnectHandler(s.onConnect)
	clientOpts.SetConnectionLostHandler(s.onConnectionLost)
	clientOpts.SetReconnectingHandler(s.onReconnecting)

	s.client = mqtt.NewClient(clientOpts)

	s.logger.Info("MQTT client created",
		zap.String("broker", opts.BrokerURL),
		zap.String("client_id", opts.ClientID))

	return s, nil
}

// Connect establishes the first connection, retrying with exponential
// backoff until it succeeds or ctx is done. Later drops are handled by the
// client's auto-reconnect.
func (s *MQTTService) Connect(ctx context.Context) error {
	if s.client.IsConnected() {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		token := s.client.Connect()
		select {
		case <-token.Done():
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
		if err := token.Error(); err != nil {
			s.logger.Warn("Failed to connect to MQTT broker",
				zap.Int("attempt", attempt),
				zap.String("broker", s.broker),
				zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", s.broker, err)
	}

	return nil
}

// Disconnect closes the connection with a short quiesce period.
func (s *MQTTService) Disconnect() {
	if s.client.IsConnected() {
		s.logger.Info("Disconnecting from MQTT broker")
		s.client.Disconnect(250)
	}
	s.setConnected(false)
}

// IsConnected reports whether the broker link is currently up.
func (s *MQTTService) IsConnected() bool {
	return s.state.Get()
}

// WatchConnection streams the connection state, starting with the current
// value. Call cancel to release the stream.
func (s *MQTTService) WatchConnection() (<-chan bool, func()) {
	return s.state.Watch()
}

// Subscribe registers handler for topic.
func (s *MQTTService) Subscribe(topic string, handler MessageHandler) (Subscription, error) {
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	handlers, exists := s.routes[topic]
	if !exists {
		handlers = make(map[int]MessageHandler)
		s.routes[topic] = handlers
	}
	handlers[id] = handler
	s.mu.Unlock()

	sub := &topicSubscription{svc: s, topic: topic, id: id}

	// While offline the subscription is made by onConnect.
	if !exists && s.client.IsConnectionOpen() {
		if err := s.subscribeBroker(topic); err != nil {
			sub.Unsubscribe()
			return nil, err
		}
	}

	return sub, nil
}

// Topic returns the subscribed topic.
func (sub *topicSubscription) Topic() string {
	return sub.topic
}

// Unsubscribe removes the handler. The broker subscription is dropped with
// the last handler for the topic. Safe to call more than once.
func (sub *topicSubscription) Unsubscribe() {
	sub.once.Do(func() {
		s := sub.svc
		s.mu.Lock()
		handlers := s.routes[sub.topic]
		delete(handlers, sub.id)
		last := len(handlers) == 0
		if last {
			delete(s.routes, sub.topic)
		}
		s.mu.Unlock()

		if last && s.client.IsConnectionOpen() {
			token := s.client.Unsubscribe(sub.topic)
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				s.logger.Warn("Failed to unsubscribe", zap.String("topic", sub.topic), zap.Error(token.Error()))
			}
		}
	})
}

// Publish sends payload to topic. It returns ErrNotConnected while offline.
func (s *MQTTService) Publish(topic string, payload []byte) error {
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	s.logger.Debug("Published message", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

func (s *MQTTService) subscribeBroker(topic string) error {
	token := s.client.Subscribe(topic, s.qos, s.dispatch)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	s.logger.Info("Subscribed", zap.String("topic", topic))
	return nil
}

func (s *MQTTService) dispatch(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	metrics.MessagesReceived.WithLabelValues(topic).Inc()

	s.mu.Lock()
	handlers := make([]MessageHandler, 0, len(s.routes[topic]))
	for _, h := range s.routes[topic] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	payload := msg.Payload()
	for _, h := range handlers {
		h(topic, payload)
	}
}

func (s *MQTTService) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.routes))
	for t := range s.routes {
		topics = append(topics, t)
	}
	return topics
}

// onConnect runs on every connect and reconnect.
func (s *MQTTService) onConnect(_ mqtt.Client) {
	topics := s.topics()
	s.logger.Info("Connected to MQTT broker, subscribing to topics", zap.Int("topic_count", len(topics)))

	for _, topic := range topics {
		if err := s.subscribeBroker(topic); err != nil {
			s.logger.Error("Failed to subscribe", zap.String("topic", topic), zap.Error(err))
		}
	}

	s.setConnected(true)
}

func (s *MQTTService) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Warn("Connection to MQTT broker lost", zap.Error(err))
	s.setConnected(false)
}

func (s *MQTTService) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	s.logger.Info("Reconnecting to MQTT broker", zap.String("broker", s.broker))
}

func (s *MQTTService) setConnected(connected bool) {
	if connected {
		metrics.MQTTConnected.Set(1)
	} else {
		metrics.MQTTConnected.Set(0)
	}
	s.state.Publish(connected)
}
