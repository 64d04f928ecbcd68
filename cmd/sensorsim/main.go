package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"
)

var (
	rps        = flag.Int("rps", 1, "Readings per second for each sensor")
	anomaly    = flag.Float64("anomaly", 0.05, "Probability of a VOC spike (0.0-1.0)")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("user", "", "MQTT username")
	mqttPass   = flag.String("pass", "", "MQTT password")
	embedded   = flag.Bool("embedded", false, "Run an in-process broker on -broker instead of connecting to one")
)

// walk is a bounded random walk around a base level.
type walk struct {
	value    float64
	base     float64
	step     float64
	min, max float64
}

func (w *walk) next(pull float64) float64 {
	w.value += (rand.Float64()*2-1)*w.step + (w.base-w.value)*pull
	w.value = math.Max(w.min, math.Min(w.max, w.value))
	return w.value
}

type Simulator struct {
	anomalyProbability float64
	extracting         atomic.Bool
	vocs               map[string]*walk
	ambient            map[string]*walk
	logger             *zap.Logger
}

func NewSimulator(anomalyProb float64, logger *zap.Logger) *Simulator {
	s := &Simulator{
		anomalyProbability: anomalyProb,
		vocs:               make(map[string]*walk),
		logger:             logger,
		ambient: map[string]*walk{
			models.TopicPressure:    {value: 1013, base: 1013, step: 0.4, min: 980, max: 1040},
			models.TopicTemperature: {value: 24, base: 24, step: 0.1, min: 10, max: 40},
			models.TopicHumidity:    {value: 45, base: 45, step: 0.5, min: 10, max: 95},
		},
	}
	for _, sensor := range models.Sensors {
		s.vocs[sensor.Topic] = &walk{value: 3, base: 3, step: 0.3, min: 0, max: 60}
	}
	return s
}

// Tick returns one reading per topic.
func (s *Simulator) Tick() map[string]float64 {
	out := make(map[string]float64, len(s.vocs)+len(s.ambient))

	pull := 0.05
	if s.extracting.Load() {
		pull = 0.3
	}
	for topic, w := range s.vocs {
		if rand.Float64() < s.anomalyProbability {
			w.value += 8 + rand.Float64()*12
		}
		out[topic] = math.Round(w.next(pull)*100) / 100
	}
	for topic, w := range s.ambient {
		out[topic] = math.Round(w.next(0.02)*10) / 10
	}
	return out
}

func (s *Simulator) onExtraction(_ mqtt.Client, msg mqtt.Message) {
	on := string(msg.Payload()) == "ON"
	s.extracting.Store(on)
	s.logger.Info("Extraction command received", zap.Bool("on", on))
}

func (s *Simulator) onSelection(_ mqtt.Client, msg mqtt.Message) {
	s.logger.Info("Dashboard selection changed", zap.String("sensor", string(msg.Payload())))
}

func startEmbeddedBroker(addr string) (*mochi.Server, error) {
	server := mochi.New(nil)
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})); err != nil {
		return nil, err
	}
	if err := server.Serve(); err != nil {
		return nil, err
	}
	return server, nil
}

func main() {
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *rps <= 0 {
		logger.Fatal("rps must be positive", zap.Int("rps", *rps))
	}

	if *embedded {
		broker, err := startEmbeddedBroker(*mqttBroker)
		if err != nil {
			logger.Fatal("Failed to start embedded broker", zap.Error(err))
		}
		defer broker.Close()
		logger.Info("Embedded MQTT broker listening", zap.String("address", *mqttBroker))
	}

	logger.Info("Sensor simulator started",
		zap.Int("rps", *rps),
		zap.Float64("anomaly_probability", *anomaly),
		zap.String("mqtt_broker", *mqttBroker))
	logger.Info("Press Ctrl+C to stop gracefully")

	sim := NewSimulator(*anomaly, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("aethereye-sim-%d", os.Getpid()))
	if *mqttUser != "" {
		opts.SetUsername(*mqttUser)
		opts.SetPassword(*mqttPass)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
		client.Subscribe(models.TopicExtractionCommand, 1, sim.onExtraction)
		client.Subscribe(models.TopicActiveSelection, 1, sim.onSelection)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
	}()

	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()

	published := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down",
				zap.Int("total_messages", published),
				zap.Duration("uptime", time.Since(startTime)))
			client.Disconnect(250)
			return

		case <-ticker.C:
			for topic, value := range sim.Tick() {
				payload := strconv.FormatFloat(value, 'f', -1, 64)
				token := client.Publish(topic, 0, false, payload)
				if token.Wait() && token.Error() != nil {
					logger.Error("Failed to publish", zap.String("topic", topic), zap.Error(token.Error()))
					continue
				}
				published++
				logger.Debug("Published", zap.String("topic", topic), zap.String("value", payload))
			}

			if published%500 == 0 && published > 0 {
				logger.Info("Messages published",
					zap.Int("count", published),
					zap.Float64("rate", float64(published)/time.Since(startTime).Seconds()))
			}
		}
	}
}
