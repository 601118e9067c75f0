// ABOUTME: Tests for relay metrics
// ABOUTME: Uses prometheus testutil against private registries

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionsClosed(1)
	m.FrameSent("text")
	m.FrameSent("text")
	m.FrameSent("tool-call")
	m.FrameFailed()
	m.ModelRequest("success", 120*time.Millisecond)
	m.ToolExecuted("send_email", "deferred")
	m.ContinuationStale()
	m.ReplyRouted("not_found")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("tool-call")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelRequests.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolExecutions.WithLabelValues("send_email", "deferred")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaleContinuations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutedReplies.WithLabelValues("not_found")))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.FrameFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.FrameErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FrameErrors))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.FrameSent("text")
		m.ModelRequest("error", time.Second)
		m.ReplyRouted("routed")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ReplyRouted("routed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `coven_relay_routed_replies_total{status="routed"} 1`))
}
