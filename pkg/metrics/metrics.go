package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediaflow"

// Metrics holds the Prometheus collectors shared by the processor and the hub.
type Metrics struct {
	EventsProcessed      *prometheus.CounterVec
	EventDuration        *prometheus.HistogramVec
	GrantRequests        *prometheus.CounterVec
	NotificationsEmitted *prometheus.CounterVec
	DeadLetters          *prometheus.CounterVec
	Redeliveries         prometheus.Counter

	HubConnections prometheus.Gauge
	HubBroadcasts  *prometheus.CounterVec
	HubDropped     prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Media pipeline events processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		EventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one media pipeline event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		GrantRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streaming_grant_requests_total",
			Help:      "Streaming locator creation calls, by outcome.",
		}, []string{"outcome"}),
		NotificationsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_emitted_total",
			Help:      "Notifications handed to the fan-out channel, by target.",
		}, []string{"target"}),
		DeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Events given up on, by reason.",
		}, []string{"reason"}),
		Redeliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_redeliveries_total",
			Help:      "In-place redelivery attempts of queued events.",
		}),
		HubConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_connections_active",
			Help:      "Connected hub clients.",
		}),
		HubBroadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_broadcasts_total",
			Help:      "Invocations broadcast to hub clients, by target.",
		}, []string{"target"}),
		HubDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_clients_dropped_total",
			Help:      "Hub clients disconnected because their send buffer was full.",
		}),
	}
}

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
