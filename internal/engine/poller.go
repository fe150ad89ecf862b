package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/conformance-exporter/internal/domain"
)

// ErrTimeout — сессия не стала детерминированной за отведенное время.
var ErrTimeout = errors.New("session poll deadline exceeded")

// errNotReady — внутренний сигнал для retry: ITB еще не дал терминальный результат.
var errNotReady = errors.New("session outcome is not determinate yet")

// StatusPoller — то, что поллер требует от клиента ITB.
type StatusPoller interface {
	PollSession(ctx context.Context, sessionID string) (domain.Outcome, error)
}

// PollerConfig — тайминги опроса.
type PollerConfig struct {
	Interval time.Duration // Пауза перед каждой попыткой
	Cooldown time.Duration // Пауза после терминального результата
	Timeout  time.Duration // Предел ожидания одной сессии (0 — без предела)
}

// SessionPoller доводит одну сессию от "запущена" до терминального результата.
type SessionPoller struct {
	client StatusPoller
	cfg    PollerConfig
	logger *zap.Logger
}

func NewSessionPoller(client StatusPoller, cfg PollerConfig, logger *zap.Logger) *SessionPoller {
	return &SessionPoller{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("mod", "poller")),
	}
}

// Await опрашивает сессию с фиксированным интервалом, пока результат UNDEFINED.
// Любой другой результат (включая FAILURE) терминален и возвращается как есть.
func (p *SessionPoller) Await(ctx context.Context, sessionID string) (domain.Outcome, error) {
	pollCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var outcome domain.Outcome

	// Первая попытка тоже после паузы: ITB не любит мгновенных запросов
	err := sleepCtx(pollCtx, p.cfg.Interval)
	if err == nil {
		r := retry.New(
			retry.Context(pollCtx),
			retry.Attempts(0), // без лимита попыток, ограничивает только контекст
			retry.Delay(p.cfg.Interval),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				return errors.Is(err, errNotReady)
			}),
			retry.OnRetry(func(n uint, err error) {
				p.logger.Debug("session not ready", zap.String("session", sessionID), zap.Uint("attempt", n+1))
			}),
		)

		err = r.Do(func() error {
			o, pollErr := p.client.PollSession(pollCtx, sessionID)
			if pollErr != nil {
				return pollErr
			}
			if !o.IsDeterminate() {
				return errNotReady
			}
			outcome = o
			return nil
		})
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(pollCtx.Err(), context.DeadlineExceeded):
			return "", fmt.Errorf("session %s: %w after %s", sessionID, ErrTimeout, p.cfg.Timeout)
		default:
			return "", fmt.Errorf("session %s: %w", sessionID, err)
		}
	}

	p.logger.Info("session finished", zap.String("session", sessionID), zap.String("result", string(outcome)))

	// Не долбим ITB сразу после завершения, следующая сессия подождет
	if err := sleepCtx(ctx, p.cfg.Cooldown); err != nil {
		return "", err
	}
	return outcome, nil
}

// sleepCtx — блокирующий сон, прерываемый отменой контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
