package testbed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xela07ax/conformance-exporter/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.Client(), Config{
		StartEndpoint:  srv.URL + "/api/rest/tests/start",
		StatusEndpoint: srv.URL + "/api/rest/tests/status",
		APIKey:         "secret",
		Actor:          "actor-1",
	}, zaptest.NewLogger(t))
}

func TestStartSession_RequestAndSessions(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/rest/tests/start", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("ITB_API_KEY"))
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		assert.Equal(t, "cycle-1", r.Header.Get("X-Trace-ID"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Write([]byte(`{"createdSessions": [{"testSuite": "ts", "session": "A"}, {"session": "B"}]}`))
	})

	ctx := WithTraceID(context.Background(), "cycle-1")
	sessions, err := client.StartSession(ctx, "sys-1", []string{"tc1", "tc2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, sessions)
	assert.Equal(t, "sys-1", got["system"])
	assert.Equal(t, "actor-1", got["actor"])
	assert.Equal(t, true, got["forceSequentialExecution"])
	assert.Equal(t, []interface{}{"tc1", "tc2"}, got["testSuite"])
}

func TestStartSession_NoSessions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"createdSessions": []}`))
	})

	sessions, err := client.StartSession(context.Background(), "sys-1", []string{"tc1"})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStartSession_TransportErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"unauthorized": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>oops</html>`))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)

			_, err := client.StartSession(context.Background(), "sys-1", []string{"tc1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTransport))

			var tErr *TransportError
			require.True(t, errors.As(err, &tErr))
			assert.Equal(t, "start", tErr.Op)
		})
	}
}

func TestStartSession_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(http.DefaultClient, Config{StartEndpoint: url}, zaptest.NewLogger(t))
	_, err := client.StartSession(context.Background(), "sys-1", nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestPollSession_Request(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("ITB_API_KEY"))

		var req statusRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"s-1"}, req.Session)
		assert.True(t, req.WithLogs)

		w.Write([]byte(`{"session": "s-1", "result": "SUCCESS", "logs": ["..."]}`))
	})

	outcome, err := client.PollSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, outcome)
}

func TestPollSession_JoinsFragments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"steps": [{"result": "SU"}, {"result": "CCESS"}]}`))
	})

	outcome, err := client.PollSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Outcome("SU CCESS"), outcome)
	assert.NotEqual(t, domain.OutcomeSuccess, outcome)
}

func TestPollSession_NotReady(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"undefined result": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result": "UNDEFINED"}`))
		},
		"not found": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"server error with garbage": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html>`))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)

			outcome, err := client.PollSession(context.Background(), "s-1")
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeUndefined, outcome)
			assert.False(t, outcome.IsDeterminate())
		})
	}
}

func TestPollSession_FailureIsTerminal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": "FAILURE"}`))
	})

	outcome, err := client.PollSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Outcome("FAILURE"), outcome)
	assert.True(t, outcome.IsDeterminate())
}

func TestPollSession_NonStringResultIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": 1}`))
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	client := NewClient(srv.Client(), Config{StatusEndpoint: srv.URL}, zap.New(core))

	outcome, err := client.PollSession(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Outcome("1"), outcome)
	assert.True(t, outcome.IsDeterminate())

	warns := logs.FilterMessage("non-string result in status response, counted as non-success").All()
	require.Len(t, warns, 1)
	assert.Equal(t, "s-1", warns[0].ContextMap()["session"])
}

func TestStartSession_NonStringSessionIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"createdSessions": [{"session": 42}]}`))
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	client := NewClient(srv.Client(), Config{StartEndpoint: srv.URL}, zap.New(core))

	sessions, err := client.StartSession(context.Background(), "sys-a", []string{"tc1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, sessions)
	assert.Equal(t, 1, logs.FilterMessage("non-string session ids in start response, using their text form").Len())
}

func TestPollSession_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": `))
	})

	_, err := client.PollSession(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestPollSession_CancelledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": "SUCCESS"}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.PollSession(ctx, "s-1")
	assert.ErrorIs(t, err, context.Canceled)
}
