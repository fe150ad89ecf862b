package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — операционные метрики самого экспортера (не путать с ConformanceGauges).
type Metrics struct {
	// Latency: длительность полного цикла по всем системам
	CycleDuration prometheus.Histogram

	// Traffic: завершенные циклы и пропущенные (лок у другой реплики)
	CyclesTotal   prometheus.Counter
	CyclesSkipped prometheus.Counter

	// Errors: отказы цикла системы по типу
	SystemFailures *prometheus.CounterVec

	// Сессии по итогам: success / other
	SessionsTotal *prometheus.CounterVec

	// Запросы к ITB по методу и коду ответа
	TestBedRequests *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker по системе (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "conformance_exporter_cycle_duration_seconds",
			Help:    "Duration of a full monitoring cycle over all systems.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),

		CyclesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "conformance_exporter_cycles_total",
			Help: "Total number of completed monitoring cycles.",
		}),

		CyclesSkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "conformance_exporter_cycles_skipped_total",
			Help: "Cycles skipped because another replica holds the cycle lock.",
		}),

		SystemFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "conformance_exporter_system_failures_total",
			Help: "Failed system cycles by error kind.",
		}, []string{"system", "kind"}), // kind: transport, division_undefined, timeout, unexpected

		SessionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "conformance_exporter_sessions_total",
			Help: "Test sessions polled to a terminal outcome.",
		}, []string{"system", "result"}),

		TestBedRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "conformance_exporter_testbed_requests_total",
			Help: "Requests sent to the test bed by method and status code.",
		}, []string{"method", "code"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "conformance_exporter_circuit_breaker_state",
			Help: "Current state of the per-system test bed circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"system"}),
	}
}
