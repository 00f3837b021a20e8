package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はAgda接続のPrometheusコレクタをまとめる
// nil の *Metrics に対する記録は何もしない
type Metrics struct {
	registry        *prometheus.Registry
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Responses       *prometheus.CounterVec
	TransportErrs   *prometheus.CounterVec
	Connections     *prometheus.GaugeVec
}

// NewMetrics は専用のレジストリにコレクタを登録して返す
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agdaconn_requests_total",
		Help: "Requests sent to the backend by protocol and outcome",
	}, []string{"protocol", "outcome"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agdaconn_request_duration_seconds",
		Help:    "Time from sending a request until its responses settle",
		Buckets: prometheus.DefBuckets,
	}, []string{"protocol", "outcome"})

	resps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agdaconn_responses_total",
		Help: "Responses received by protocol and delivery kind",
	}, []string{"protocol", "kind"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agdaconn_transport_errors_total",
		Help: "Transport and handshake errors by protocol and reason",
	}, []string{"protocol", "reason"})

	conns := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agdaconn_active_connections",
		Help: "Open connections by protocol",
	}, []string{"protocol"})

	reg.MustRegister(reqs, durs, resps, trErrors, conns)

	return &Metrics{
		registry:        reg,
		Requests:        reqs,
		RequestDuration: durs,
		Responses:       resps,
		TransportErrs:   trErrors,
		Connections:     conns,
	}
}

// Registry は内部のレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest はリクエストの件数と所要時間を記録する
func (m *Metrics) RecordRequest(protocol, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.Requests.WithLabelValues(protocol, outcome).Inc()
	m.RequestDuration.WithLabelValues(protocol, outcome).Observe(duration.Seconds())
}

// RecordResponse は受信したレスポンスを数える
func (m *Metrics) RecordResponse(protocol, kind string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(protocol, kind).Inc()
}

// RecordTransportError はトランスポートのエラーを数える
func (m *Metrics) RecordTransportError(protocol, reason string) {
	if m == nil {
		return
	}
	if protocol == "" {
		protocol = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.TransportErrs.WithLabelValues(protocol, reason).Inc()
}

// IncConnections は接続数を増やす
func (m *Metrics) IncConnections(protocol string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(protocol).Inc()
}

// DecConnections は接続数を減らす
func (m *Metrics) DecConnections(protocol string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(protocol).Dec()
}
