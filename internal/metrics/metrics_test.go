package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed()
		m.Rejected("Invalid token")
		m.Joined()
		m.Left()
		m.Endpoints(3)
		m.DeviceError()
		m.TokenRefreshed()
		m.Transition("connected", "in_channel")
		m.ObserveBroadcast("audio", core.PublishResult{})
	})
	assert.Nil(t, m.Registry())
}

func TestObserveBroadcast(t *testing.T) {
	m := New()
	m.ObserveBroadcast("audio", core.PublishResult{
		Delivered: []domain.UserID{1, 2},
		Dropped:   []core.Recipient{{UserID: 3}},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastsTotal.WithLabelValues("audio")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveredTotal.WithLabelValues("audio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues("audio")))
}

func TestSessionGauges(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Joined()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.membersActive))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Rejected("User not found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `voice_rejections_total{reason="User not found"} 1`)
}
