package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Poll loop metrics
	pollTotal        *prometheus.CounterVec
	pollDuration     *prometheus.HistogramVec
	messagesReceived *prometheus.CounterVec

	// Processing metrics
	messagesProcessed *prometheus.CounterVec
	inFlight          *prometheus.GaugeVec

	// Acknowledgement metrics
	deleteTotal     *prometheus.CounterVec
	deleteBatchSize *prometheus.HistogramVec
	ackBufferSize   *prometheus.GaugeVec

	// Template metrics
	sendTotal     *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	sendBatchSize *prometheus.HistogramVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		// Poll loop metrics
		pollTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqskit_listener_poll_total",
				Help: "Total number of receive calls",
			},
			[]string{"listener", "queue", "status"}, // status: success, error, empty
		),

		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqskit_listener_poll_duration_seconds",
				Help:    "Time spent in receive calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"listener", "queue"},
		),

		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqskit_listener_messages_received_total",
				Help: "Total number of messages received",
			},
			[]string{"listener", "queue"},
		),

		// Processing metrics
		messagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqskit_listener_messages_processed_total",
				Help: "Total number of messages processed",
			},
			[]string{"listener", "queue", "status"}, // status: success, error
		),

		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqskit_listener_in_flight_messages",
				Help: "Current number of messages being processed",
			},
			[]string{"listener"},
		),

		// Acknowledgement metrics
		deleteTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqskit_ack_delete_total",
				Help: "Total number of batched delete calls",
			},
			[]string{"queue", "status"}, // status: success, partial, error
		),

		deleteBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqskit_ack_delete_batch_size",
				Help:    "Number of receipt handles per delete batch",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			},
			[]string{"queue"},
		),

		ackBufferSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqskit_ack_buffer_size",
				Help: "Receipt handles currently buffered for deletion",
			},
			[]string{"listener"},
		),

		// Template metrics
		sendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqskit_template_send_total",
				Help: "Total number of send operations",
			},
			[]string{"queue", "status"}, // status: success, partial, error
		),

		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqskit_template_send_duration_seconds",
				Help:    "Time spent sending messages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),

		sendBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqskit_template_send_batch_size",
				Help:    "Number of messages in sent batches",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			},
			[]string{"queue"},
		),

		// System health metrics
		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqskit_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sqskit_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register application metrics
	registry.MustRegister(
		r.pollTotal,
		r.pollDuration,
		r.messagesReceived,
		r.messagesProcessed,
		r.inFlight,
		r.deleteTotal,
		r.deleteBatchSize,
		r.ackBufferSize,
		r.sendTotal,
		r.sendDuration,
		r.sendBatchSize,
		r.systemInfo,
		r.startTime,
	)

	// Set start time
	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// RecordPoll records one receive call of a listener's poll loop
func (r *Registry) RecordPoll(listener, queue string, received int, duration time.Duration, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case received == 0:
		status = "empty"
	}

	r.pollTotal.WithLabelValues(listener, queue, status).Inc()
	r.pollDuration.WithLabelValues(listener, queue).Observe(duration.Seconds())
	if received > 0 {
		r.messagesReceived.WithLabelValues(listener, queue).Add(float64(received))
	}
}

// RecordProcessed records the outcome of one processed message
func (r *Registry) RecordProcessed(listener, queue string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.messagesProcessed.WithLabelValues(listener, queue, status).Inc()
}

// AddInFlight adjusts the in-flight gauge for a listener
func (r *Registry) AddInFlight(listener string, delta int) {
	r.inFlight.WithLabelValues(listener).Add(float64(delta))
}

// SetAckBuffer updates the buffered-acknowledgements gauge for a listener
func (r *Registry) SetAckBuffer(listener string, size int) {
	r.ackBufferSize.WithLabelValues(listener).Set(float64(size))
}

// RecordDeleteBatch records one batched delete call
func (r *Registry) RecordDeleteBatch(queue string, size, failed int, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case failed > 0:
		status = "partial"
	}

	r.deleteTotal.WithLabelValues(queue, status).Inc()
	if err == nil {
		r.deleteBatchSize.WithLabelValues(queue).Observe(float64(size))
	}
}

// RecordSend records a template send operation
func (r *Registry) RecordSend(queue string, batchSize, failed int, duration time.Duration, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case failed > 0:
		status = "partial"
	}

	r.sendTotal.WithLabelValues(queue, status).Inc()
	r.sendDuration.WithLabelValues(queue).Observe(duration.Seconds())
	if err == nil {
		r.sendBatchSize.WithLabelValues(queue).Observe(float64(batchSize))
	}
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
