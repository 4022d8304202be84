package minicap

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every transport and sink in the process.
type Metrics struct {
	FramesReceived  prometheus.Counter
	FramesDecoded   prometheus.Counter
	FramesDropped   prometheus.Counter
	BytesReceived   prometheus.Counter
	SessionsStarted prometheus.Counter
	SessionFailures *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "droidcap",
			Subsystem: "minicap",
			Name:      "frames_received_total",
			Help:      "Frames read from the minicap socket",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "droidcap",
			Subsystem: "minicap",
			Name:      "frames_decoded_total",
			Help:      "Frames decoded and published",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "droidcap",
			Subsystem: "minicap",
			Name:      "frames_dropped_total",
			Help:      "Frames that failed to decode",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "droidcap",
			Subsystem: "minicap",
			Name:      "bytes_received_total",
			Help:      "Frame payload bytes read from the minicap socket",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "droidcap",
			Subsystem: "minicap",
			Name:      "sessions_started_total",
			Help:      "Capture sessions that completed the banner handshake",
		}),
		SessionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "droidcap",
			Subsystem: "minicap",
			Name:      "session_failures_total",
			Help:      "Capture sessions that ended with an error",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "droidcap",
			Subsystem: "minicap",
			Name:      "queue_depth",
			Help:      "Frames waiting to be decoded",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesReceived,
		m.FramesDecoded,
		m.FramesDropped,
		m.BytesReceived,
		m.SessionsStarted,
		m.SessionFailures,
		m.QueueDepth,
	}
}

var (
	metrics      = newMetrics()
	registerOnce sync.Once
	registerErr  error
)

// DefaultMetrics returns the process wide collectors.
func DefaultMetrics() *Metrics {
	return metrics
}

// RegisterMetrics registers the collectors with reg. Only the first call has
// any effect.
func RegisterMetrics(reg prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, c := range metrics.collectors() {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}
