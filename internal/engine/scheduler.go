package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/conformance-exporter/internal/domain"
	"github.com/xela07ax/conformance-exporter/internal/testbed"
)

// ErrUnexpected — паника или иной непредвиденный сбой внутри цикла системы.
var ErrUnexpected = errors.New("unexpected failure")

const releaseTimeout = 5 * time.Second

// SessionStarter — запуск прогона в ITB.
type SessionStarter interface {
	StartSession(ctx context.Context, systemID string, testCases []string) ([]string, error)
}

// SessionAwaiter — ожидание терминального результата одной сессии.
type SessionAwaiter interface {
	Await(ctx context.Context, sessionID string) (domain.Outcome, error)
}

// SchedulerConfig — тайминги цикла.
type SchedulerConfig struct {
	Interval    time.Duration // Сон между циклами
	SettleDelay time.Duration // ITB нужно время, чтобы поднять сессии после старта
	LockRenew   time.Duration // Период продления лока цикла (0 — не продлевать)
}

// Scheduler — ядро экспортера: бесконечный цикл по всем системам.
// Системы и сессии обрабатываются строго последовательно в одной горутине.
type Scheduler struct {
	systems     []domain.MonitoredSystem
	starter     SessionStarter
	poller      SessionAwaiter
	gauges      *ConformanceGauges
	status      *StatusBoard
	coordinator Coordinator
	metrics     *Metrics
	cfg         SchedulerConfig
	logger      *zap.Logger
}

func NewScheduler(
	systems []domain.MonitoredSystem,
	starter SessionStarter,
	poller SessionAwaiter,
	gauges *ConformanceGauges,
	status *StatusBoard,
	coordinator Coordinator,
	metrics *Metrics,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	if coordinator == nil {
		coordinator = LocalCoordinator{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if status == nil {
		status = NewStatusBoard(systems)
	}
	return &Scheduler{
		systems:     systems,
		starter:     starter,
		poller:      poller,
		gauges:      gauges,
		status:      status,
		coordinator: coordinator,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger.Named("scheduler"),
	}
}

// Run крутит циклы до отмены контекста. Сбой отдельной системы цикл не прерывает.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("monitoring started",
		zap.Int("systems", len(s.systems)),
		zap.Duration("interval", s.cfg.Interval))

	// Остановка: отдаем лок сразу, не заставляя другие реплики ждать TTL
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		s.coordinator.Release(releaseCtx)
	}()

	for {
		s.RunCycle(ctx)

		s.logger.Info("sleeping until next cycle", zap.Duration("interval", s.cfg.Interval))
		if err := sleepCtx(ctx, s.cfg.Interval); err != nil {
			s.logger.Info("monitoring stopped", zap.Error(err))
			return err
		}
	}
}

// RunCycle — один проход по всем системам.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.coordinator.Acquire(ctx) {
		s.metrics.CyclesSkipped.Inc()
		s.logger.Info("cycle skipped: another replica drives the test bed")
		return
	}

	cycleID := uuid.New().String()
	logger := s.logger.With(zap.String("cycle_id", cycleID))
	start := time.Now()

	// Цикл может идти дольше TTL лока: продлеваем в фоне, пока он идет
	cycleCtx, cancelCycle := context.WithCancel(ctx)
	defer cancelCycle()
	stopRenew := s.holdLock(cycleCtx, cancelCycle, logger)
	defer stopRenew()

	cycleCtx = testbed.WithTraceID(cycleCtx, cycleID)
	for _, sys := range s.systems {
		if cycleCtx.Err() != nil {
			if ctx.Err() == nil {
				logger.Warn("cycle aborted: cycle lock lost")
			}
			return
		}
		s.runSystem(cycleCtx, logger, cycleID, sys)
	}

	s.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	s.metrics.CyclesTotal.Inc()
	logger.Info("cycle finished", zap.Duration("took", time.Since(start)))
}

// holdLock продлевает лок цикла каждые LockRenew. Потеря лока отменяет цикл:
// ITB уже гоняет другая реплика.
func (s *Scheduler) holdLock(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) (stop func()) {
	if s.cfg.LockRenew <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.LockRenew)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.coordinator.Acquire(ctx) {
					logger.Warn("cycle lock taken by another replica")
					cancel()
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) runSystem(ctx context.Context, logger *zap.Logger, cycleID string, sys domain.MonitoredSystem) {
	// Метка системы: у каждой свой предохранитель в транспорте
	ctx = testbed.WithSystemID(ctx, sys.TestBedID)

	value, sessions, err := s.checkSystem(ctx, sys)
	if err != nil && ctx.Err() != nil {
		// Остановка процесса, а не отказ системы: gauge не трогаем
		return
	}

	st := domain.SystemStatus{
		Name:      sys.Name,
		TestBedID: sys.TestBedID,
		CycleID:   cycleID,
		Sessions:  sessions,
	}

	// Failed: логируем с идентичностью системы и сбрасываем gauge в 0
	if err != nil {
		kind := failureKind(err)
		logger.Error("error while running test",
			zap.String("system", sys.Name),
			zap.String("testbed_id", sys.TestBedID),
			zap.String("kind", kind),
			zap.Error(err))
		s.metrics.SystemFailures.WithLabelValues(sys.Name, kind).Inc()
		value = 0
		st.Error = err.Error()
	} else {
		logger.Info("conformance published",
			zap.String("system", sys.Name),
			zap.Int("sessions", sessions),
			zap.Float64("conformance", value))
	}

	if setErr := s.gauges.Set(sys.Name, value); setErr != nil {
		logger.Error("failed to publish gauge", zap.String("system", sys.Name), zap.Error(setErr))
	}

	st.Conformance = value
	st.UpdatedAt = time.Now()
	s.status.Record(st)
	s.coordinator.Announce(ctx, sys.Name, value)
}

// checkSystem: Start -> Settle -> Poll-All -> Aggregate.
func (s *Scheduler) checkSystem(ctx context.Context, sys domain.MonitoredSystem) (value float64, sessions int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnexpected, r)
		}
	}()

	// 1. Start
	ids, err := s.starter.StartSession(ctx, sys.TestBedID, sys.TestCases)
	if err != nil {
		return 0, 0, fmt.Errorf("start session: %w", err)
	}

	// 2. Settle
	if err := sleepCtx(ctx, s.cfg.SettleDelay); err != nil {
		return 0, 0, err
	}

	// 3. Poll-All
	result := make(domain.CycleResult, len(ids))
	for _, id := range ids {
		outcome, err := s.poller.Await(ctx, id)
		if err != nil {
			return 0, len(result), fmt.Errorf("poll: %w", err)
		}
		result[id] = outcome

		label := "other"
		if outcome == domain.OutcomeSuccess {
			label = "success"
		}
		s.metrics.SessionsTotal.WithLabelValues(sys.Name, label).Inc()
	}

	// 4. Aggregate
	value, err = ConformancePercentage(result, domain.OutcomeSuccess)
	if err != nil {
		return 0, 0, err
	}
	return value, len(result), nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrDivisionUndefined):
		return "division_undefined"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, testbed.ErrTransport):
		return "transport"
	default:
		return "unexpected"
	}
}
