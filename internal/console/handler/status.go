package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/conformance-exporter/internal/domain"
)

// StatusSource Описываем, что нам нужно от ядра
type StatusSource interface {
	Snapshot() []domain.SystemStatus
}

type StatusHandler struct {
	source StatusSource
}

func NewStatusHandler(s StatusSource) *StatusHandler {
	return &StatusHandler{source: s}
}

// List отдает результат последнего цикла по каждой системе.
func (h *StatusHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.source.Snapshot()); err != nil {
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}
