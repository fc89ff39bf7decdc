package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bqbridge_gateway_calls_total",
			Help: "Total number of gateway calls by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	gatewayCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bqbridge_gateway_call_duration_seconds",
			Help:    "Remote query call latency by mode.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)
	bytesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bqbridge_bytes_processed_total",
			Help: "Bytes processed as reported by the remote service, by mode.",
		},
		[]string{"mode"},
	)
	authorizationDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bqbridge_authorization_denied_total",
			Help: "Total number of statements rejected by the authorization policy.",
		},
	)
	columnarEncodedBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bqbridge_columnar_encoded_bytes",
			Help:    "Size of encoded columnar buffers in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
	apiErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bqbridge_api_errors_total",
			Help: "Total number of translated API errors by code.",
		},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(
		gatewayCallsTotal,
		gatewayCallDurationSeconds,
		bytesProcessedTotal,
		authorizationDeniedTotal,
		columnarEncodedBytes,
		apiErrorsTotal,
	)
}

func ObserveGatewayCall(mode, outcome string, elapsed time.Duration) {
	gatewayCallsTotal.WithLabelValues(mode, outcome).Inc()
	gatewayCallDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func AddBytesProcessed(mode string, bytes int64) {
	if bytes <= 0 {
		return
	}
	bytesProcessedTotal.WithLabelValues(mode).Add(float64(bytes))
}

func IncrementAuthorizationDenied() {
	authorizationDeniedTotal.Inc()
}

func ObserveColumnarEncoded(size int) {
	columnarEncodedBytes.Observe(float64(size))
}

func IncrementAPIError(code string) {
	apiErrorsTotal.WithLabelValues(code).Inc()
}
