package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(version string) {
	registry = newCheckRegistry()
	registry.version = version
}

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func registerCritical(fn CheckFunc) {
	for _, name := range CriticalComponents {
		RegisterCheck(name, fn)
	}
}

func TestCheckHealth(t *testing.T) {
	resetHealth("1.0.0")
	registerCritical(passing)

	health := CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Len(t, health.Components, len(CriticalComponents))
	assert.Equal(t, "1.0.0", health.Version)

	RegisterCheck("push", failing("push manager shut down"))
	health = CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Equal(t, "unhealthy: push manager shut down", health.Components["push"])
	assert.Equal(t, StatusHealthy, health.Components["storage"])
}

func TestChecksRunOnEveryRequest(t *testing.T) {
	resetHealth("")

	var down bool
	RegisterCheck("storage", func(context.Context) error {
		if down {
			return errors.New("database not open")
		}
		return nil
	})

	assert.Equal(t, StatusHealthy, CheckHealth(context.Background()).Status)
	down = true
	assert.Equal(t, StatusUnhealthy, CheckHealth(context.Background()).Status)
	down = false
	assert.Equal(t, StatusHealthy, CheckHealth(context.Background()).Status)
}

func TestChecksAreBounded(t *testing.T) {
	resetHealth("")

	var deadline time.Time
	RegisterCheck("storage", func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	})

	CheckHealth(context.Background())
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, time.Now().Add(CheckTimeout), deadline, time.Second)
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name      string
		setup     func()
		status    string
		component string
		detail    string
	}{
		{
			name:   "all critical ready",
			setup:  func() { registerCritical(passing) },
			status: StatusReady,
		},
		{
			name:      "critical missing",
			setup:     func() { RegisterCheck("storage", passing) },
			status:    StatusNotReady,
			component: "bus",
			detail:    "not registered",
		},
		{
			name: "critical failing",
			setup: func() {
				registerCritical(passing)
				RegisterCheck("bus", failing("event broker stopped"))
			},
			status:    StatusNotReady,
			component: "bus",
			detail:    "not ready: event broker stopped",
		},
		{
			name: "non-critical failure does not block readiness",
			setup: func() {
				registerCritical(passing)
				RegisterCheck("dns", failing("timeout"))
			},
			status: StatusReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("")
			tt.setup()

			readiness := CheckReadiness(context.Background())
			assert.Equal(t, tt.status, readiness.Status)
			assert.Len(t, readiness.Components, len(CriticalComponents))
			if tt.status != StatusReady {
				assert.NotEmpty(t, readiness.Message)
				assert.Equal(t, tt.detail, readiness.Components[tt.component])
			}
		})
	}
}

func TestHealthHandlers(t *testing.T) {
	resetHealth("test")
	registerCritical(passing)

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, "test", health.Version)

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	RegisterCheck("storage", failing("closed"))

	w = httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	resetHealth("")
	RegisterCheck("storage", failing("closed"))

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
}
