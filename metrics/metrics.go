// Package metrics defines prometheus metric types and provides convenience
// handles for the connection controller, dispatcher, and model store to
// record against.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or going out of the system: frames, requests, reconnects.
//  - the success or error status of any of the above.
//  - the distribution of processing latency or retry delay.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames read off the wire, labeled by request id
	// kind ("reply" for unprefixed ids, "push" for "_"-prefixed ids).
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclient_frames_total",
			Help: "Number of frames read from the relay connection.",
		}, []string{"kind"})

	// DecodeErrorsTotal counts protocol-decode errors (short read, unknown
	// type tag, unsupported hashtable types), labeled by the module they
	// surfaced from.
	//
	// Provides metrics:
	//    relayclient_decode_errors_total
	// Example usage:
	//    metrics.DecodeErrorsTotal.With(prometheus.Labels{"source": "wire"}).Inc()
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclient_decode_errors_total",
			Help: "The total number of protocol-decode errors encountered.",
		}, []string{"source"})

	// ReconnectsTotal counts every connection attempt that ended (other
	// than by shutdown) and is followed by a redial, labeled by the reason
	// (network, timeout, settings_change).
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclient_reconnects_total",
			Help: "Number of times the connection controller has reconnected.",
		}, []string{"reason"})

	// BackoffSecondsHistogram tracks the reconnect backoff delay actually
	// applied before each redial attempt.
	BackoffSecondsHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayclient_backoff_seconds_histogram",
			Help:    "Reconnect backoff delay distribution, in seconds.",
			Buckets: []float64{1, 2, 4, 5},
		},
	)

	// BuffersGauge tracks the current number of buffers in the model store.
	BuffersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayclient_buffers",
			Help: "Current number of buffers held in the model store.",
		},
	)

	// LinesGauge tracks the current total number of lines across all
	// buffers in the model store.
	LinesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayclient_lines",
			Help: "Current total number of lines held in the model store.",
		},
	)

	// NicksGauge tracks the current total number of nicks across all
	// buffers in the model store.
	NicksGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayclient_nicks",
			Help: "Current total number of nicks held in the model store.",
		},
	)
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in relay-client.metrics are registered.")
}
