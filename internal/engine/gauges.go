package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xela07ax/conformance-exporter/internal/domain"
)

type systemGauge struct {
	gauge      prometheus.Gauge
	registered bool
}

// ConformanceGauges — явная мапа "имя системы -> gauge", принадлежит Scheduler.
// Gauge регистрируется в реестре при первой публикации: до первого цикла метрики нет.
// Пишет только горутина цикла, скрейпер читает через атомарный Set/Write.
type ConformanceGauges struct {
	reg    prometheus.Registerer
	byName map[string]*systemGauge
}

func NewConformanceGauges(reg prometheus.Registerer, systems []domain.MonitoredSystem) *ConformanceGauges {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	g := &ConformanceGauges{
		reg:    reg,
		byName: make(map[string]*systemGauge, len(systems)),
	}
	for _, s := range systems {
		g.byName[s.Name] = &systemGauge{
			gauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: s.MetricName(),
				Help: fmt.Sprintf("Conformance %% of %s", s.TestBedID),
			}),
		}
	}
	return g
}

// Set публикует значение для системы.
func (g *ConformanceGauges) Set(name string, value float64) error {
	sg, ok := g.byName[name]
	if !ok {
		return fmt.Errorf("no gauge for system %q", name)
	}
	if !sg.registered {
		if err := g.reg.Register(sg.gauge); err != nil {
			return fmt.Errorf("register gauge for %q: %w", name, err)
		}
		sg.registered = true
	}
	sg.gauge.Set(value)
	return nil
}

// Gauge отдает коллектор системы (для тестов и диагностики).
func (g *ConformanceGauges) Gauge(name string) (prometheus.Gauge, bool) {
	sg, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return sg.gauge, true
}
