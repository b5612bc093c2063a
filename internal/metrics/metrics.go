// Package metrics exports bridge statistics to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiobridge",
			Subsystem: "frames",
			Name:      "total",
			Help:      "Frames by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiobridge",
			Subsystem: "frames",
			Name:      "bytes_total",
			Help:      "Payload bytes by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	discards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiobridge",
			Subsystem: "frames",
			Name:      "discarded_total",
			Help:      "Discarded frames and fragments by reason.",
		},
		[]string{"direction", "reason"},
	)
	transmitTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "radiobridge",
			Subsystem: "channel",
			Name:      "transmit_timeouts_total",
			Help:      "Transmissions that outlived their expected airtime.",
		},
	)
	schedulerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "radiobridge",
			Subsystem: "scheduler",
			Name:      "state",
			Help:      "1 for the current half-duplex scheduler state, 0 otherwise.",
		},
		[]string{"state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, frameBytes, discards, transmitTimeouts, schedulerState)
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// Stats implements radiobridge.Stats on the package collectors.
type Stats struct{}

var _ radiobridge.Stats = Stats{}

func (Stats) FrameQueued(dir radiobridge.Direction, size int) {
	record(dir, "queued", size)
}

func (Stats) FrameDelivered(dir radiobridge.Direction, size int) {
	record(dir, "delivered", size)
}

func (Stats) FrameDiscarded(dir radiobridge.Direction, size int, reason string) {
	record(dir, "discarded", size)
	discards.WithLabelValues(string(dir), reason).Inc()
}

func (Stats) TransmitTimedOut(size int) {
	RegisterMetrics()
	transmitTimeouts.Inc()
	record(radiobridge.Outbound, "timed_out", size)
}

func (Stats) StateChanged(state radiobridge.State) {
	RegisterMetrics()
	for _, s := range []radiobridge.State{radiobridge.StateIdle, radiobridge.StateSending, radiobridge.StateReceiving} {
		v := 0.0
		if s == state {
			v = 1
		}
		schedulerState.WithLabelValues(s.String()).Set(v)
	}
}

func record(dir radiobridge.Direction, outcome string, size int) {
	RegisterMetrics()
	frames.WithLabelValues(string(dir), outcome).Inc()
	frameBytes.WithLabelValues(string(dir), outcome).Add(float64(size))
}
