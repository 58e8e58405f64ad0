package obs

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quoter/internal/order"
)

const namespace = "quoter"

// Metrics collects counters and latency stats for one unit. All methods are safe on a nil
// receiver and from any goroutine.
type Metrics struct {
	reg *prometheus.Registry

	triggers     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	acks         *prometheus.CounterVec
	riskDenials  *prometheus.CounterVec
	staleOrders  prometheus.Counter
	queueDrops   prometheus.Counter
	processState prometheus.Gauge
	basePrice    prometheus.Gauge
	ackLatency   prometheus.Histogram

	staleCount uint64
	queueDrop  uint64
	ackStats   LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the values exposed by the status endpoint.
type Snapshot struct {
	StaleOrders uint64          `json:"stale_orders"`
	QueueDrops  uint64          `json:"queue_drops"`
	AckLatency  LatencySnapshot `json:"ack_latency"`
}

// NewMetrics registers every collector on a private registry, together with the Go and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "triggers_total", Help: "Quote instrument updates by trigger outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_transitions_total", Help: "Order state transitions by cause",
		}, []string{"cause"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "acks_total", Help: "Venue acknowledgements by kind",
		}, []string{"kind"}),
		riskDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_denials_total", Help: "Pre-trade risk denials by reason",
		}, []string{"reason"}),
		staleOrders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_requests_total", Help: "Requests outstanding past the stale threshold",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_drops_total", Help: "Messages dropped on full queues",
		}),
		processState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_state", Help: "Current process state code",
		}),
		basePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "base_price", Help: "Last base price from the reference instrument",
		}),
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ack_latency_ms", Help: "Request to acknowledgement latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
		}),
	}

	toRegister := []prometheus.Collector{
		m.triggers, m.transitions, m.acks, m.riskDenials,
		m.staleOrders, m.queueDrops, m.processState, m.basePrice, m.ackLatency,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		m.reg.MustRegister(c)
	}
	return m
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// IncTrigger counts one trigger evaluation.
func (m *Metrics) IncTrigger(outcome string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(outcome).Inc()
}

// IncAck counts one acknowledgement.
func (m *Metrics) IncAck(kind string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(kind).Inc()
}

// IncRiskDenial counts one denied request.
func (m *Metrics) IncRiskDenial(reason string) {
	if m == nil {
		return
	}
	m.riskDenials.WithLabelValues(reason).Inc()
}

// IncStale counts one request found outstanding past its threshold.
func (m *Metrics) IncStale() {
	if m == nil {
		return
	}
	m.staleOrders.Inc()
	atomic.AddUint64(&m.staleCount, 1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
	atomic.AddUint64(&m.queueDrop, 1)
}

// SetProcessState publishes the supervisor state code.
func (m *Metrics) SetProcessState(code uint8) {
	if m == nil {
		return
	}
	m.processState.Set(float64(code))
}

// SetBasePrice publishes the current base price.
func (m *Metrics) SetBasePrice(price float64) {
	if m == nil {
		return
	}
	m.basePrice.Set(price)
}

// ObserveAckLatency measures request to acknowledgement latency.
func (m *Metrics) ObserveAckLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ackStats.Observe(d)
	m.ackLatency.Observe(float64(d) / float64(time.Millisecond))
}

// Record implements order.Recorder.
func (m *Metrics) Record(e order.Event) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(e.Cause).Inc()
	if e.Elapsed > 0 {
		m.ObserveAckLatency(e.Elapsed)
	}
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		StaleOrders: atomic.LoadUint64(&m.staleCount),
		QueueDrops:  atomic.LoadUint64(&m.queueDrop),
		AckLatency:  m.ackStats.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
