package engine

import (
	"errors"

	"github.com/xela07ax/conformance-exporter/internal/domain"
)

// ErrDivisionUndefined — старт не породил ни одной сессии, процент не определен.
// Это не 0% и не 100%: такой цикл системы считается упавшим.
var ErrDivisionUndefined = errors.New("conformance undefined: no sessions in cycle result")

// ConformancePercentage = 100 * (сессий с результатом success) / (всего сессий).
func ConformancePercentage(result domain.CycleResult, success domain.Outcome) (float64, error) {
	if len(result) == 0 {
		return 0, ErrDivisionUndefined
	}
	matched := 0
	for _, outcome := range result {
		if outcome == success {
			matched++
		}
	}
	return float64(matched) / float64(len(result)) * 100, nil
}

// PercentageNotEqual — доля сессий с результатом, отличным от target, в процентах.
// Дополнение ConformancePercentage до 100.
func PercentageNotEqual(result domain.CycleResult, target domain.Outcome) (float64, error) {
	pct, err := ConformancePercentage(result, target)
	if err != nil {
		return 0, err
	}
	return 100 - pct, nil
}
