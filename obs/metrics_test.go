package obs

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-identity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetrics(reg, reg)
}

func TestMetrics_RecordActivity(t *testing.T) {
	m := newTestMetrics()
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, identity.ActivityEvent{EventType: identity.ActivityLoginSuccess}))
	require.NoError(t, m.Record(ctx, identity.ActivityEvent{EventType: identity.ActivityLoginSuccess}))
	require.NoError(t, m.Record(ctx, identity.ActivityEvent{
		EventType: identity.ActivityLoginFailure,
		Metadata:  map[string]any{"reason": "bad_password"},
	}))
	require.NoError(t, m.Record(ctx, identity.ActivityEvent{EventType: identity.ActivityLoginFailure}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues(string(identity.ActivityLoginSuccess))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues(string(identity.ActivityLoginFailure))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginFailures.WithLabelValues("bad_password")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginFailures.WithLabelValues("unknown")))
}

func TestMetrics_Purger(t *testing.T) {
	m := newTestMetrics()
	calls := 0
	p := m.Purger("sessions", identity.PurgerFunc(func(context.Context) (int64, error) {
		calls++
		if calls == 2 {
			return 0, errors.New("db closed")
		}
		return 3, nil
	}))

	n, err := p.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = p.PurgeExpired(context.Background())
	assert.Error(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepRemoved.WithLabelValues("sessions")))
}

func TestMetrics_RequestStarted(t *testing.T) {
	m := newTestMetrics()

	done := m.RequestStarted("POST")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight))
	done("/auth/login", 401)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/auth/login", "401")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := newTestMetrics()
	require.NoError(t, m.Record(context.Background(), identity.ActivityEvent{EventType: identity.ActivityRoleChanged}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `identity_activity_events_total{event="identity.role.changed"} 1`))
}
