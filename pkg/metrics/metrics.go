// Package metrics は生成キューとトークンゲートの Prometheus 指標を提供します。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "manga_studio"

// Metrics は生成パイプラインの指標群です。nil のまま呼び出しても何もしないのだ。
type Metrics struct {
	QueueDepth         *prometheus.GaugeVec
	Generating         *prometheus.GaugeVec
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	BackendCallsTotal  *prometheus.CounterVec
	RetriesTotal       *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec
	AssetsCreatedTotal *prometheus.CounterVec
	GateGrantsTotal    prometheus.Counter
}

// New は reg に指標を登録して Metrics を返します。
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of sub-panels waiting in the generation queue",
		}, []string{"user"}),
		Generating: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "generating",
			Help:      "Number of sub-panels currently generating",
		}, []string{"user"}),
		GenerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "total",
			Help:      "Total number of finished sub-panel generations",
		}, []string{"outcome"}),
		GenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Sub-panel generation duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		BackendCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Total number of calls to the generation service",
		}, []string{"op", "kind"}),
		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "retries_total",
			Help:      "Total number of retried attempts",
		}, []string{"op", "kind"}),
		FallbacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "fallbacks_total",
			Help:      "Total number of operations rerun against the fallback tier",
		}, []string{"op"}),
		AssetsCreatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "assets_created_total",
			Help:      "Total number of assets materialized by discovery",
		}, []string{"type"}),
		GateGrantsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "grants_total",
			Help:      "Total number of token gate grants",
		}),
	}
}

// RegisterGate はトークンゲートの払い出し数をゲージとして登録します。
func RegisterGate(reg prometheus.Registerer, active func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "active",
		Help:      "Number of granted token gate slots",
	}, func() float64 { return float64(active()) })
}

func (m *Metrics) SetQueue(user string, queued, generating int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(user).Set(float64(queued))
	m.Generating.WithLabelValues(user).Set(float64(generating))
}

func (m *Metrics) ObserveGeneration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(outcome).Inc()
	m.GenerationDuration.Observe(d.Seconds())
}

func (m *Metrics) BackendCall(op, kind string) {
	if m == nil {
		return
	}
	m.BackendCallsTotal.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) Retry(op, kind string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) Fallback(op string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) AssetCreated(assetType string) {
	if m == nil {
		return
	}
	m.AssetsCreatedTotal.WithLabelValues(assetType).Inc()
}

// GateGrant はトークンゲートの払い出しを数えます。gate.WithGrantHook に渡す形なのだ。
func (m *Metrics) GateGrant(time.Time) {
	if m == nil {
		return
	}
	m.GateGrantsTotal.Inc()
}
