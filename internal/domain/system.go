package domain

import (
	"strings"
	"time"
)

// Outcome — классификация результата тестовой сессии, как ее вернул ITB.
type Outcome string

const (
	OutcomeUndefined Outcome = "UNDEFINED" // Сессия еще не завершена, нужно опрашивать дальше
	OutcomeSuccess   Outcome = "SUCCESS"   // Эталон успешного прохождения
)

// IsDeterminate — любое значение, кроме UNDEFINED, терминально (включая FAILURE).
func (o Outcome) IsDeterminate() bool {
	return o != OutcomeUndefined
}

// MonitoredSystem — система под мониторингом. Собирается позиционно из списков конфига.
type MonitoredSystem struct {
	Name      string   `json:"name"`       // Человекочитаемое имя (идентичность метрики)
	TestBedID string   `json:"testbed_id"` // Идентификатор системы в ITB
	TestCases []string `json:"test_cases"` // Упорядоченный список тест-кейсов
}

// ExporterMetricPrefix занят операционными метриками самого экспортера.
// Имя системы не должно давать gauge с этим префиксом.
const ExporterMetricPrefix = "conformance_exporter_"

// MetricName — детерминированное имя gauge из отображаемого имени.
// Все, что не входит в [a-zA-Z0-9_], заменяется на '_'.
func (s MonitoredSystem) MetricName() string {
	return "conformance_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s.Name)
}

// CycleResult — session id -> терминальный результат. Живет ровно один цикл.
type CycleResult map[string]Outcome

// SystemStatus — снимок последнего цикла по системе (история не хранится).
type SystemStatus struct {
	Name        string    `json:"name"`
	TestBedID   string    `json:"testbed_id"`
	CycleID     string    `json:"cycle_id"`
	Conformance float64   `json:"conformance"`
	Sessions    int       `json:"sessions"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
