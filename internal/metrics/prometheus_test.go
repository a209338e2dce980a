package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	assert.Equal(t, ResultSuccess, Result(nil))
	assert.Equal(t, ResultError, Result(errors.New("x")))
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveExecute("source", "request_migration", 5*time.Millisecond, ResultSuccess)
	rec.ObserveExecute("source", "request_migration", time.Millisecond, ResultError)
	rec.IncQuery("source", ResultSuccess)
	rec.IncMessageDispatched("target")
	rec.IncTransaction(ResultSuccess)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"handoff_execute_duration_seconds",
		"handoff_execute_results_total",
		"handoff_queries_total",
		"handoff_messages_dispatched_total",
		"handoff_transactions_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `handoff_messages_dispatched_total{kind="target"} 1`))
}

func TestNoopRecorder(t *testing.T) {
	var rec Recorder = NoopRecorder{}
	rec.ObserveExecute("source", "x", time.Second, ResultSuccess)
	rec.IncQuery("source", ResultError)
	rec.IncMessageDispatched("target")
	rec.IncTransaction(ResultError)
}
