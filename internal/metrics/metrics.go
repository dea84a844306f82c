// Package metrics exposes pipeline counters to Prometheus and keeps plain
// totals for the session status view.
package metrics

import (
	"sync/atomic"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pulsectl"

// Counts is a point-in-time copy of the collector's totals.
type Counts struct {
	Frames               uint64 `json:"frames"`
	FramesDropped        uint64 `json:"frames_dropped"`
	Samples              uint64 `json:"samples"`
	ProtocolErrors       uint64 `json:"protocol_errors"`
	ClassificationErrors uint64 `json:"classification_errors"`
	BufferOverflows      uint64 `json:"buffer_overflows"`
	HRVInsufficient      uint64 `json:"hrv_insufficient"`
	Fallbacks            uint64 `json:"fallbacks"`
	StopTimeouts         uint64 `json:"stop_timeouts"`
	Ticks                uint64 `json:"ticks"`
	TickPanics           uint64 `json:"tick_panics"`
}

type totals struct {
	frames, framesDropped, samples                   atomic.Uint64
	protocol, classification, overflows, insufficient atomic.Uint64
	fallbacks, stopTimeouts, ticks, tickPanics        atomic.Uint64
}

// Collector records pipeline events for one session.
type Collector struct {
	frames          *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	samples         *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	classification  prometheus.Counter
	overflows       *prometheus.CounterVec
	hrvInsufficient prometheus.Counter
	connectAttempts *prometheus.CounterVec
	fallbacks       prometheus.Counter
	stopTimeouts    *prometheus.CounterVec
	tickPanics      prometheus.Counter
	tickDuration    prometheus.Histogram
	state           prometheus.Gauge

	totals totals
}

// New creates a collector and registers it with reg. A nil reg keeps the
// collector working without exposing it.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "frames_total",
			Help:      "Frames consumed from the acquisition backend",
		}, []string{"backend"}),

		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded because the backend queue was full",
		}, []string{"backend"}),

		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "samples_total",
			Help:      "Classified samples pushed into sensor buffers",
		}, []string{"sensor"}),

		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "protocol_errors_total",
			Help:      "Malformed lines, packets or frames skipped",
		}, []string{"backend"}),

		classification: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "classification_errors_total",
			Help:      "Frame channels that could not be assigned a sensor type",
		}),

		overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "buffer_overflows_total",
			Help:      "Samples evicted from full sensor buffers",
		}, []string{"sensor"}),

		hrvInsufficient: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hrv",
			Name:      "insufficient_data_total",
			Help:      "Ticks where too few RR intervals were available",
		}),

		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Backend connect attempts by outcome",
		}, []string{"backend", "result"}),

		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "fallbacks_total",
			Help:      "Connections established on a fallback backend",
		}),

		stopTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "stop_timeouts_total",
			Help:      "Acquisition workers that did not exit within the stop timeout",
		}, []string{"backend"}),

		tickPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tick_panics_total",
			Help:      "Ticks aborted by a recovered panic",
		}),

		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tick_duration_seconds",
			Help:      "Time spent processing one tick",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state as its numeric value",
		}),
	}

	if reg != nil {
		for _, collector := range []prometheus.Collector{
			c.frames, c.framesDropped, c.samples, c.protocolErrors,
			c.classification, c.overflows, c.hrvInsufficient,
			c.connectAttempts, c.fallbacks, c.stopTimeouts,
			c.tickPanics, c.tickDuration, c.state,
		} {
			if err := reg.Register(collector); err != nil {
				return nil, errors.New().Wrap(ErrRegister, err)
			}
		}
	}

	return c, nil
}

func (c *Collector) FramesReceived(backend string, n int) {
	c.frames.WithLabelValues(backend).Add(float64(n))
	c.totals.frames.Add(uint64(n))
}

func (c *Collector) FramesDropped(backend string, n uint64) {
	if n == 0 {
		return
	}
	c.framesDropped.WithLabelValues(backend).Add(float64(n))
	c.totals.framesDropped.Add(n)
}

func (c *Collector) SamplesPushed(sensor string, n int) {
	c.samples.WithLabelValues(sensor).Add(float64(n))
	c.totals.samples.Add(uint64(n))
}

func (c *Collector) ProtocolErrors(backend string, n uint64) {
	if n == 0 {
		return
	}
	c.protocolErrors.WithLabelValues(backend).Add(float64(n))
	c.totals.protocol.Add(n)
}

func (c *Collector) ClassificationErrors(n int) {
	if n <= 0 {
		return
	}
	c.classification.Add(float64(n))
	c.totals.classification.Add(uint64(n))
}

func (c *Collector) BufferOverflow(sensor string) {
	c.overflows.WithLabelValues(sensor).Inc()
	c.totals.overflows.Add(1)
}

func (c *Collector) HRVInsufficient() {
	c.hrvInsufficient.Inc()
	c.totals.insufficient.Add(1)
}

func (c *Collector) ConnectAttempt(backend string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.connectAttempts.WithLabelValues(backend, result).Inc()
}

func (c *Collector) Fallback() {
	c.fallbacks.Inc()
	c.totals.fallbacks.Add(1)
}

func (c *Collector) StopTimeout(backend string) {
	c.stopTimeouts.WithLabelValues(backend).Inc()
	c.totals.stopTimeouts.Add(1)
}

func (c *Collector) TickPanic() {
	c.tickPanics.Inc()
	c.totals.tickPanics.Add(1)
}

func (c *Collector) Tick(d time.Duration) {
	c.tickDuration.Observe(d.Seconds())
	c.totals.ticks.Add(1)
}

func (c *Collector) SetState(state int) {
	c.state.Set(float64(state))
}

// Vectors exposes the underlying series for inspection.
type Vectors struct {
	Overflows       *prometheus.CounterVec
	ConnectAttempts *prometheus.CounterVec
	State           prometheus.Gauge
}

func (c *Collector) Prometheus() Vectors {
	return Vectors{
		Overflows:       c.overflows,
		ConnectAttempts: c.connectAttempts,
		State:           c.state,
	}
}

// Counts returns the running totals.
func (c *Collector) Counts() Counts {
	return Counts{
		Frames:               c.totals.frames.Load(),
		FramesDropped:        c.totals.framesDropped.Load(),
		Samples:              c.totals.samples.Load(),
		ProtocolErrors:       c.totals.protocol.Load(),
		ClassificationErrors: c.totals.classification.Load(),
		BufferOverflows:      c.totals.overflows.Load(),
		HRVInsufficient:      c.totals.insufficient.Load(),
		Fallbacks:            c.totals.fallbacks.Load(),
		StopTimeouts:         c.totals.stopTimeouts.Load(),
		Ticks:                c.totals.ticks.Load(),
		TickPanics:           c.totals.tickPanics.Load(),
	}
}
