package metric_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediabot/metric"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  metric.Config
		wantErr error
	}{
		{name: "given defaults when validated then accept", config: metric.Config{Port: metric.DefaultMetricsPort, Path: metric.DefaultMetricsPath}},
		{name: "given disabled port when validated then accept", config: metric.Config{Port: 0, Path: "/metrics"}},
		{name: "given port out of range when validated then return error", config: metric.Config{Port: 70000, Path: "/metrics"}, wantErr: metric.ErrInvalidPort},
		{name: "given relative path when validated then return error", config: metric.Config{Port: 9090, Path: "metrics"}, wantErr: metric.ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMetrics(t *testing.T) {
	t.Run("given nil metrics when recording then do nothing", func(t *testing.T) {
		var m *metric.Metrics
		assert.NotPanics(t, func() {
			m.SessionStarted()
			m.SessionEnded()
			m.RequestSent("join")
			m.RequestTimedOut("join")
			m.ProducerAdded()
			m.ProducersRemoved(1)
			m.ConsumerAdded()
			m.ConsumersRemoved(1)
			m.JobFinished("success")
			m.UpdateSystemMetrics(context.Background(), time.Second)
			assert.NoError(t, m.Stop(context.Background()))
		})
	})

	t.Run("given recorded events when scraped then expose them", func(t *testing.T) {
		m := metric.New(metric.Config{Port: 0, Path: "/metrics"})
		m.SessionStarted()
		m.RequestSent("join")
		m.RequestSent("join")
		m.RequestTimedOut("join")
		m.ProducerAdded()
		m.ProducerAdded()
		m.ProducersRemoved(2)
		m.ConsumerAdded()
		m.JobFinished("success")

		count, err := testutil.GatherAndCount(m.Registry(), "signaling_requests_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `signaling_requests_total{method="join"} 2`)
		assert.Contains(t, body, `signaling_request_timeouts_total{method="join"} 1`)
		assert.Contains(t, body, "sessions_active 1")
		assert.Contains(t, body, "producers_active 0")
		assert.Contains(t, body, "consumers_active 1")
		assert.Contains(t, body, `jobs_total{status="success"} 1`)
	})

	t.Run("given cancelled context when sampling then return after one sample", func(t *testing.T) {
		m := metric.New(metric.Config{Path: "/metrics"})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m.UpdateSystemMetrics(ctx, time.Hour)

		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.True(t, strings.Contains(rec.Body.String(), "memory_usage_bytes"))
	})
}
