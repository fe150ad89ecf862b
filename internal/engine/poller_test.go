package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/conformance-exporter/internal/domain"
	"github.com/xela07ax/conformance-exporter/internal/testbed"
)

type pollStep struct {
	outcome domain.Outcome
	err     error
}

// scriptedPoller отдает шаги по очереди, последний шаг повторяется бесконечно.
type scriptedPoller struct {
	mu    sync.Mutex
	steps []pollStep
	calls int
}

func (p *scriptedPoller) PollSession(ctx context.Context, sessionID string) (domain.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	p.calls++
	return p.steps[i].outcome, p.steps[i].err
}

func (p *scriptedPoller) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastPollerConfig() PollerConfig {
	return PollerConfig{Interval: time.Millisecond, Cooldown: time.Millisecond, Timeout: 5 * time.Second}
}

func TestAwait_RetriesWhileUndefined(t *testing.T) {
	client := &scriptedPoller{steps: []pollStep{
		{outcome: domain.OutcomeUndefined},
		{outcome: domain.OutcomeUndefined},
		{outcome: domain.OutcomeUndefined},
		{outcome: domain.OutcomeSuccess},
	}}
	p := NewSessionPoller(client, fastPollerConfig(), zaptest.NewLogger(t))

	outcome, err := p.Await(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, outcome)
	assert.Equal(t, 4, client.Calls())
}

func TestAwait_FailureOutcomeIsTerminal(t *testing.T) {
	client := &scriptedPoller{steps: []pollStep{
		{outcome: "FAILURE"},
		{outcome: domain.OutcomeSuccess},
	}}
	p := NewSessionPoller(client, fastPollerConfig(), zaptest.NewLogger(t))

	outcome, err := p.Await(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.Outcome("FAILURE"), outcome)
	assert.Equal(t, 1, client.Calls())
}

func TestAwait_TransportErrorPropagates(t *testing.T) {
	tErr := &testbed.TransportError{Op: "status", StatusCode: 200, Cause: errors.New("malformed json")}
	client := &scriptedPoller{steps: []pollStep{
		{outcome: domain.OutcomeUndefined},
		{err: tErr},
	}}
	p := NewSessionPoller(client, fastPollerConfig(), zaptest.NewLogger(t))

	_, err := p.Await(context.Background(), "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, testbed.ErrTransport)
	assert.Equal(t, 2, client.Calls())
}

func TestAwait_Timeout(t *testing.T) {
	client := &scriptedPoller{steps: []pollStep{{outcome: domain.OutcomeUndefined}}}
	cfg := fastPollerConfig()
	cfg.Timeout = 30 * time.Millisecond
	p := NewSessionPoller(client, cfg, zaptest.NewLogger(t))

	_, err := p.Await(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Greater(t, client.Calls(), 1)
}

func TestAwait_ParentCancelled(t *testing.T) {
	client := &scriptedPoller{steps: []pollStep{{outcome: domain.OutcomeUndefined}}}
	p := NewSessionPoller(client, fastPollerConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Await(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestAwait_WaitsIntervalBetweenAttempts(t *testing.T) {
	client := &scriptedPoller{steps: []pollStep{
		{outcome: domain.OutcomeUndefined},
		{outcome: domain.OutcomeSuccess},
	}}
	cfg := PollerConfig{Interval: 20 * time.Millisecond, Timeout: time.Second}
	p := NewSessionPoller(client, cfg, zaptest.NewLogger(t))

	start := time.Now()
	_, err := p.Await(context.Background(), "s1")
	require.NoError(t, err)
	// пауза перед первой попыткой + пауза перед второй
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
