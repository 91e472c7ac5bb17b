package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devchat/client/internal/session"
)

func TestMetrics_Counts(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.MessageReceived()
	m.MessageSent()
	m.MessageSent()
	m.Failure(session.FailureSend)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeViews))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.opened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.received))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("send_failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.failures.WithLabelValues("connect_failure")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Failure(session.FailureHistoryUnavailable)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `devchat_absorbed_failures_total{kind="history_unavailable"} 1`)
	assert.Contains(t, string(body), `devchat_absorbed_failures_total{kind="profile_unavailable"} 0`)
	assert.Contains(t, string(body), "go_goroutines")
}
