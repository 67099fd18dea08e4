package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for TicketFlow
type Metrics struct {
	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Registry metrics
	ChannelsActive      prometheus.Gauge
	ChannelsTotal       prometheus.Counter
	SubscriptionsActive prometheus.Gauge

	// Dispatcher metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsDeliveredTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	DispatchDuration     prometheus.Histogram

	// Store metrics
	StoreOperations        *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	TicketsTotal           prometheus.Counter

	// Webhook metrics
	WebhookDeliveriesTotal *prometheus.CounterVec
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketflow_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketflow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
		[]string{"method", "path"},
	)

	m.APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketflow_api_errors_total",
			Help: "Total number of API errors",
		},
		[]string{"method", "path", "error_type"},
	)

	// Registry metrics
	m.ChannelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketflow_channels_active",
			Help: "Number of live WebSocket channels",
		},
	)

	m.ChannelsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketflow_channels_total",
			Help: "Total number of channels ever registered",
		},
	)

	m.SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketflow_subscriptions_active",
			Help: "Number of live resource subscriptions",
		},
	)

	// Dispatcher metrics
	m.EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketflow_events_published_total",
			Help: "Total number of events handed to the dispatcher",
		},
		[]string{"event_type"},
	)

	m.EventsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketflow_events_delivered_total",
			Help: "Total number of per-channel event deliveries",
		},
		[]string{"event_type"},
	)

	m.EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketflow_events_dropped_total",
			Help: "Total number of deliveries dropped (full buffer or dead channel)",
		},
		[]string{"event_type", "reason"},
	)

	m.DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketflow_dispatch_duration_seconds",
			Help:    "Duration of a single fan-out in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10), // from 0.1ms to ~51ms
		},
	)

	// Store metrics
	m.StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketflow_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "success"},
	)

	m.StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketflow_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // from 0.1ms to ~1.6s
		},
		[]string{"operation"},
	)

	m.TicketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketflow_tickets_total",
			Help: "Total number of tickets created",
		},
	)

	// Webhook metrics
	m.WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketflow_webhook_deliveries_total",
			Help: "Total number of chat webhook delivery attempts",
		},
		[]string{"outcome"},
	)

	return m
}
