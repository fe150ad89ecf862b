package engine

import (
	"sync"

	"github.com/xela07ax/conformance-exporter/internal/domain"
)

// StatusBoard — снимок последнего цикла по каждой системе. Истории нет.
type StatusBoard struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]domain.SystemStatus
}

func NewStatusBoard(systems []domain.MonitoredSystem) *StatusBoard {
	b := &StatusBoard{byName: make(map[string]domain.SystemStatus, len(systems))}
	for _, s := range systems {
		b.order = append(b.order, s.Name)
	}
	return b
}

// Record перезаписывает снимок системы.
func (b *StatusBoard) Record(st domain.SystemStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, known := b.byName[st.Name]; !known && !b.contains(st.Name) {
		b.order = append(b.order, st.Name)
	}
	b.byName[st.Name] = st
}

// Snapshot — системы в порядке конфига; еще не отработавшие пропускаются.
func (b *StatusBoard) Snapshot() []domain.SystemStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.SystemStatus, 0, len(b.byName))
	for _, name := range b.order {
		if st, ok := b.byName[name]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (b *StatusBoard) contains(name string) bool {
	for _, n := range b.order {
		if n == name {
			return true
		}
	}
	return false
}
