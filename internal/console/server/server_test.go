package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/conformance-exporter/internal/console/handler"
	"github.com/xela07ax/conformance-exporter/internal/domain"
	"github.com/xela07ax/conformance-exporter/internal/engine"
)

func TestExporterServer(t *testing.T) {
	systems := []domain.MonitoredSystem{
		{Name: "server_a", TestBedID: "sys-a"},
		{Name: "server_b", TestBedID: "sys-b"},
	}
	reg := prometheus.NewRegistry()
	gauges := engine.NewConformanceGauges(reg, systems)
	board := engine.NewStatusBoard(systems)

	require.NoError(t, gauges.Set("server_a", 75))
	board.Record(domain.SystemStatus{Name: "server_a", TestBedID: "sys-a", Conformance: 75, Sessions: 4, UpdatedAt: time.Now()})

	srv := httptest.NewServer(NewExporterServer(reg, zaptest.NewLogger(t), handler.NewStatusHandler(board)))
	defer srv.Close()

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "conformance_server_a 75")
		assert.Contains(t, string(body), "Conformance % of sys-a")
		// до первого цикла метрики системы нет
		assert.NotContains(t, string(body), "conformance_server_b")
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("systems", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/systems")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		var got []domain.SystemStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "server_a", got[0].Name)
		assert.Equal(t, 75.0, got[0].Conformance)
		assert.Equal(t, 4, got[0].Sessions)
	})
}
