package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the relay collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	readingsIngested   *prometheus.CounterVec
	framesMalformed    *prometheus.CounterVec
	protocolViolations *prometheus.CounterVec
	ingestConnections  prometheus.Gauge
	subscribers        prometheus.Gauge
	evictions          prometheus.Counter
	sessions           prometheus.Gauge
	historyWrites      *prometheus.CounterVec
	alerts             *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_readings_ingested_total",
			Help: "Readings decoded from ingest streams and published on the bus.",
		}, []string{"transport", "type"}),
		framesMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_malformed_total",
			Help: "Frames discarded because they were neither a valid JSON reading nor a known binary frame.",
		}, []string{"transport"}),
		protocolViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_protocol_violations_total",
			Help: "Ingest streams closed because the reassembly buffer overflowed.",
		}, []string{"transport"}),
		ingestConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_ingest_connections",
			Help: "Open TCP ingest connections.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_bus_subscribers",
			Help: "Live event bus subscriptions.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_bus_evictions_total",
			Help: "Subscribers evicted because their queue was full.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_stream_sessions",
			Help: "Dashboard clients currently streaming.",
		}),
		historyWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_history_writes_total",
			Help: "InfluxDB point writes by result.",
		}, []string{"result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_alerts_total",
			Help: "Alerts raised by the detector.",
		}, []string{"alert_type"}),
	}
	reg.MustRegister(
		m.readingsIngested, m.framesMalformed, m.protocolViolations, m.ingestConnections,
		m.subscribers, m.evictions, m.sessions, m.historyWrites, m.alerts,
	)
	return m
}

func (m *Metrics) ReadingIngested(transport, kind string) {
	if m == nil {
		return
	}
	m.readingsIngested.WithLabelValues(transport, kind).Inc()
}

func (m *Metrics) FrameMalformed(transport string) {
	if m == nil {
		return
	}
	m.framesMalformed.WithLabelValues(transport).Inc()
}

func (m *Metrics) ProtocolViolation(transport string) {
	if m == nil {
		return
	}
	m.protocolViolations.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ingestConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ingestConnections.Dec()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberRemoved is called once per subscription, on unsubscribe or eviction.
func (m *Metrics) SubscriberRemoved(evicted bool) {
	if m == nil {
		return
	}
	m.subscribers.Dec()
	if evicted {
		m.evictions.Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func (m *Metrics) HistoryWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.historyWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) AlertRaised(alertType string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType).Inc()
}
