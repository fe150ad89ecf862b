package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/conformance-exporter/internal/testbed"
)

// ReliabilitySettings — параметры защиты ITB от перегрузки.
type ReliabilitySettings struct {
	RateLimit     float64       // запросов в секунду
	Burst         int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBFailures    uint32 // подряд, после чего предохранитель размыкается
}

// upstreamError — 5xx от ITB: для предохранителя это отказ, для клиента — обычный ответ.
type upstreamError struct {
	resp *http.Response
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("testbed responded %d", e.resp.StatusCode)
}

// ReliabilityWrapper — транспорт к ITB с лимитером и Circuit Breaker.
// Предохранитель свой у каждой системы (метка из контекста запроса):
// отказы одной системы не должны размыкать цепь для остальных.
type ReliabilityWrapper struct {
	next     testbed.Doer
	settings ReliabilitySettings
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewReliabilityWrapper(next testbed.Doer, s ReliabilitySettings, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if s.CBFailures == 0 {
		s.CBFailures = 5
	}

	limit := rate.Inf
	if s.RateLimit > 0 {
		limit = rate.Limit(s.RateLimit)
	}
	burst := s.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ReliabilityWrapper{
		next:     next,
		settings: s,
		limiter:  rate.NewLimiter(limit, burst),
		metrics:  metrics,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breaker возвращает предохранитель системы, создавая его при первом запросе.
func (w *ReliabilityWrapper) breaker(systemID string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cb, ok := w.breakers[systemID]; ok {
		return cb
	}

	failures := w.settings.CBFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "itb:" + systemID,
		MaxRequests: w.settings.CBMaxRequests,
		Interval:    w.settings.CBInterval,
		Timeout:     w.settings.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("system", systemID),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			w.metrics.CircuitBreakerState.WithLabelValues(systemID).Set(float64(to))
		},
	})
	w.breakers[systemID] = cb
	w.metrics.CircuitBreakerState.WithLabelValues(systemID).Set(float64(gobreaker.StateClosed))
	return cb
}

// Do реализует testbed.Doer.
func (w *ReliabilityWrapper) Do(req *http.Request) (*http.Response, error) {
	// 1. Rate Limiter (общий: ITB один на всех)
	if err := w.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	// 2. Circuit Breaker системы
	cb := w.breaker(testbed.SystemIDFromContext(req.Context()))
	res, err := cb.Execute(func() (interface{}, error) {
		resp, err := w.next.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &upstreamError{resp: resp}
		}
		return resp, nil
	})

	var uErr *upstreamError
	switch {
	case errors.As(err, &uErr):
		w.metrics.TestBedRequests.WithLabelValues(req.Method, strconv.Itoa(uErr.resp.StatusCode)).Inc()
		return uErr.resp, nil
	case err != nil:
		w.metrics.TestBedRequests.WithLabelValues(req.Method, "error").Inc()
		return nil, err
	}

	resp := res.(*http.Response)
	w.metrics.TestBedRequests.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}
