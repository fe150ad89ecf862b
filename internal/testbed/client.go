package testbed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/conformance-exporter/internal/domain"
)

const (
	opStart  = "start"
	opStatus = "status"

	apiKeyHeader  = "ITB_API_KEY"
	traceIDHeader = "X-Trace-ID"

	// Ответ со статусом и логами бывает большим, но не безграничным
	maxBodyBytes = 16 << 20
)

// Doer — транспорт. В проде это ReliabilityWrapper поверх http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config — параметры доступа к ITB.
type Config struct {
	StartEndpoint  string
	StatusEndpoint string
	APIKey         string
	Actor          string
}

type startRequest struct {
	System                   string   `json:"system"`
	Actor                    string   `json:"actor"`
	ForceSequentialExecution bool     `json:"forceSequentialExecution"`
	TestSuite                []string `json:"testSuite"`
}

type statusRequest struct {
	Session  []string `json:"session"`
	WithLogs bool     `json:"withLogs"`
}

// Client — клиент ITB. Владеет форматом запросов start/status.
type Client struct {
	http   Doer
	cfg    Config
	logger *zap.Logger
}

func NewClient(doer Doer, cfg Config, logger *zap.Logger) *Client {
	return &Client{
		http:   doer,
		cfg:    cfg,
		logger: logger.Named("testbed"),
	}
}

// StartSession запускает прогон тест-кейсов для системы и возвращает все session id
// из ответа в порядке обхода документа.
func (c *Client) StartSession(ctx context.Context, systemID string, testCases []string) ([]string, error) {
	suite := make([]string, 0, len(testCases))
	suite = append(suite, testCases...)

	payload, err := json.Marshal(startRequest{
		System:                   systemID,
		Actor:                    c.cfg.Actor,
		ForceSequentialExecution: true,
		TestSuite:                suite,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.StartEndpoint, payload, "text/plain")
	if err != nil {
		return nil, &TransportError{Op: opStart, Cause: err}
	}

	c.logger.Info("sending start request",
		zap.String("url", c.cfg.StartEndpoint),
		zap.ByteString("payload", payload))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: opStart, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Op: opStart, StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Op:         opStart,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("unexpected response: %s", snippet(body)),
		}
	}

	doc, err := Parse(body)
	if err != nil {
		return nil, &TransportError{Op: opStart, StatusCode: resp.StatusCode, Cause: err}
	}
	sessions, coerced, err := extractStrings(doc, "session")
	if err != nil {
		return nil, &TransportError{Op: opStart, StatusCode: resp.StatusCode, Cause: err}
	}
	if coerced > 0 {
		c.logger.Warn("non-string session ids in start response, using their text form",
			zap.String("system", systemID),
			zap.Int("coerced", coerced),
			zap.Strings("sessions", sessions))
	}

	c.logger.Debug("sessions started", zap.String("system", systemID), zap.Strings("sessions", sessions))
	return sessions, nil
}

// PollSession запрашивает статус одной сессии (вместе с логами).
// Не-200 и сетевой сбой — это "еще не готово": возвращаем UNDEFINED без ошибки.
// Ошибка возвращается только для битого тела 200-го ответа и отмены контекста.
func (c *Client) PollSession(ctx context.Context, sessionID string) (domain.Outcome, error) {
	payload, err := json.Marshal(statusRequest{Session: []string{sessionID}, WithLogs: true})
	if err != nil {
		return "", fmt.Errorf("marshal status request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.StatusEndpoint, payload, "application/json")
	if err != nil {
		return "", &TransportError{Op: opStatus, Cause: err}
	}

	c.logger.Debug("getting status", zap.String("url", c.cfg.StatusEndpoint), zap.String("session", sessionID))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Debug("status request failed, will retry", zap.String("session", sessionID), zap.Error(err))
		return domain.OutcomeUndefined, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		c.logger.Debug("status not ready",
			zap.String("session", sessionID),
			zap.Int("status_code", resp.StatusCode))
		return domain.OutcomeUndefined, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Op: opStatus, StatusCode: resp.StatusCode, Cause: err}
	}

	doc, err := Parse(body)
	if err != nil {
		return "", &TransportError{Op: opStatus, StatusCode: resp.StatusCode, Cause: err}
	}
	fragments, coerced, err := extractStrings(doc, "result")
	if err != nil {
		return "", &TransportError{Op: opStatus, StatusCode: resp.StatusCode, Cause: err}
	}
	if coerced > 0 {
		// Число или bool в result — не SUCCESS, сессия будет засчитана как неуспешная
		c.logger.Warn("non-string result in status response, counted as non-success",
			zap.String("session", sessionID),
			zap.Int("coerced", coerced),
			zap.Strings("fragments", fragments))
	}

	// ITB может отдать результат кусками (по шагу теста) — склеиваем через пробел
	return domain.Outcome(strings.Join(fragments, " ")), nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload []byte, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set(traceIDHeader, traceID)
	}
	return req, nil
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
