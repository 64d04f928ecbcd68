package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aethereye"

// Registry holds every collector exported by the daemon.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	MessagesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_messages_received_total",
		Help:      "MQTT messages delivered to local handlers.",
	}, []string{"topic"})

	PayloadsDropped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "telemetry_payloads_dropped_total",
		Help:      "Sensor payloads discarded because they were not numeric.",
	}, []string{"topic"})

	MQTTConnected = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mqtt_connected",
		Help:      "1 while the broker connection is up.",
	})

	AlertsRaised = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_raised_total",
		Help:      "Threshold breaches recorded as notifications.",
	}, []string{"sensor"})

	StoreErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_store_errors_total",
		Help:      "Failed remote store operations.",
	}, []string{"operation"})

	HistoryListeners = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "history_listeners_active",
		Help:      "Active tail-follow history listeners.",
	})

	ReadingsRecorded = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "history_readings_recorded_total",
		Help:      "Readings flushed to the remote history.",
	})

	ReportsGenerated = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_generated_total",
		Help:      "Reports rendered, by format.",
	}, []string{"format"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
