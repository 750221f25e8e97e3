package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kucoin"

// Collector holds every metric the gatherer exports.
type Collector struct {
	sessionState    prometheus.Gauge
	subscriptions   prometheus.Gauge
	pendingAcks     prometheus.Gauge
	framesTotal     *prometheus.CounterVec
	unroutableTotal prometheus.Counter
	framesDropped   prometheus.Counter
	callbackErrors  prometheus.Counter
	reconnectsTotal prometheus.Counter
	eventsTotal     *prometheus.CounterVec
	ackDuration     *prometheus.HistogramVec
	recorderRows    prometheus.Counter
	recorderFlushes *prometheus.CounterVec
	recorderDropped prometheus.Counter
	relayPublished  prometheus.Counter
	relayErrors     prometheus.Counter
	queueDepth      *prometheus.GaugeVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "session_state",
			Help:      "Current session state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=closed)",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "subscriptions",
			Help:      "Subscriptions held in the registry",
		}),
		pendingAcks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "pending_acks",
			Help:      "Subscribe and unsubscribe requests awaiting an ack",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type",
		}, []string{"type"}),
		unroutableTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_unroutable_total",
			Help:      "Data frames whose topic matched no subscription",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_dropped_total",
			Help:      "Data frames dropped because the inbound queue was full",
		}),
		callbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "callback_errors_total",
			Help:      "Handler invocations that returned an error or panicked",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "reconnects_total",
			Help:      "Successful reconnects",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "events_total",
			Help:      "Session events by type",
		}, []string{"type"}),
		ackDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "ack_duration_seconds",
			Help:      "Time from request to ack resolution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op", "result"}),
		recorderRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "rows_written_total",
			Help:      "Frames written to the database",
		}),
		recorderFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "flushes_total",
			Help:      "Batch flushes by result",
		}, []string{"result"}),
		recorderDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "dropped_total",
			Help:      "Frames dropped because the recorder queue was full",
		}),
		relayPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Frames published to Redis",
		}),
		relayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "errors_total",
			Help:      "Failed Redis publishes",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in an internal queue",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		c.sessionState,
		c.subscriptions,
		c.pendingAcks,
		c.framesTotal,
		c.unroutableTotal,
		c.framesDropped,
		c.callbackErrors,
		c.reconnectsTotal,
		c.eventsTotal,
		c.ackDuration,
		c.recorderRows,
		c.recorderFlushes,
		c.recorderDropped,
		c.relayPublished,
		c.relayErrors,
		c.queueDepth,
	)

	return c
}

// SetSessionState records the numeric session state.
func (c *Collector) SetSessionState(state int) {
	if c == nil {
		return
	}
	c.sessionState.Set(float64(state))
}

// SetSessionGauges records registry and pending ack sizes.
func (c *Collector) SetSessionGauges(subscriptions, pendingAcks int) {
	if c == nil {
		return
	}
	c.subscriptions.Set(float64(subscriptions))
	c.pendingAcks.Set(float64(pendingAcks))
}

// frameTypes bounds the type label; the venue chooses the wire value.
var frameTypes = map[string]bool{
	"welcome":     true,
	"ping":        true,
	"pong":        true,
	"subscribe":   true,
	"unsubscribe": true,
	"ack":         true,
	"message":     true,
	"error":       true,
	"notice":      true,
	"command":     true,
}

// FrameReceived counts one inbound frame. Unknown types count as "other".
func (c *Collector) FrameReceived(frameType string) {
	if c == nil {
		return
	}
	if !frameTypes[frameType] {
		frameType = "other"
	}
	c.framesTotal.WithLabelValues(frameType).Inc()
}

// FramesDropped counts data frames the transport shed.
func (c *Collector) FramesDropped(n int) {
	if c == nil {
		return
	}
	c.framesDropped.Add(float64(n))
}

// FrameUnroutable counts a data frame that matched no subscription.
func (c *Collector) FrameUnroutable() {
	if c == nil {
		return
	}
	c.unroutableTotal.Inc()
}

// CallbackError counts a failed handler invocation.
func (c *Collector) CallbackError() {
	if c == nil {
		return
	}
	c.callbackErrors.Inc()
}

// Reconnected counts a successful reconnect.
func (c *Collector) Reconnected() {
	if c == nil {
		return
	}
	c.reconnectsTotal.Inc()
}

// Event counts a session event.
func (c *Collector) Event(eventType string) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveAck records how long an ack took to resolve.
func (c *Collector) ObserveAck(op, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.ackDuration.WithLabelValues(op, result).Observe(d.Seconds())
}

// RecorderFlushed records one batch flush.
func (c *Collector) RecorderFlushed(rows int, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.recorderFlushes.WithLabelValues("error").Inc()
		return
	}
	c.recorderFlushes.WithLabelValues("ok").Inc()
	c.recorderRows.Add(float64(rows))
}

// RecorderDropped counts a frame the recorder could not queue.
func (c *Collector) RecorderDropped() {
	if c == nil {
		return
	}
	c.recorderDropped.Inc()
}

// RelayPublished records one publish attempt.
func (c *Collector) RelayPublished(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.relayErrors.Inc()
		return
	}
	c.relayPublished.Inc()
}

// SetQueueDepth records the depth of a named queue.
func (c *Collector) SetQueueDepth(queue string, depth int) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
