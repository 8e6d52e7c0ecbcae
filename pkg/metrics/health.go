package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Health document states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// CheckTimeout bounds each component check behind /health and /ready
const CheckTimeout = 2 * time.Second

// CriticalComponents must all be registered and passing before /ready passes
var CriticalComponents = []string{"storage", "bus", "push"}

// CheckFunc reports the live state of one component; nil means healthy
type CheckFunc func(ctx context.Context) error

// HealthStatus is the JSON document served by /health and /ready
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type checkRegistry struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	started time.Time
	version string
}

var registry = newCheckRegistry()

func newCheckRegistry() *checkRegistry {
	return &checkRegistry{
		checks:  make(map[string]CheckFunc),
		started: time.Now(),
	}
}

// SetVersion sets the version string reported by the health documents
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterCheck installs fn as the check for name, replacing any previous one.
// Checks run on every /health and /ready request.
func RegisterCheck(name string, fn CheckFunc) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.checks[name] = fn
}

// run evaluates the named checks, or every registered check when names is
// nil. Unregistered names map to errNotRegistered.
func (r *checkRegistry) run(ctx context.Context, names []string) (map[string]error, string, time.Time) {
	r.mu.RLock()
	if names == nil {
		for name := range r.checks {
			names = append(names, name)
		}
	}
	checks := make(map[string]CheckFunc, len(names))
	for _, name := range names {
		checks[name] = r.checks[name]
	}
	version, started := r.version, r.started
	r.mu.RUnlock()

	results := make(map[string]error, len(checks))
	for name, fn := range checks {
		if fn == nil {
			results[name] = errNotRegistered
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
		results[name] = fn(checkCtx)
		cancel()
	}
	return results, version, started
}

type registryError string

func (e registryError) Error() string { return string(e) }

const errNotRegistered = registryError("not registered")

// CheckHealth runs every registered check. Any failure makes the whole
// document unhealthy.
func CheckHealth(ctx context.Context) HealthStatus {
	results, version, started := registry.run(ctx, nil)

	doc := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(results)),
		Version:    version,
		Uptime:     time.Since(started).String(),
	}
	for name, err := range results {
		if err != nil {
			doc.Status = StatusUnhealthy
			doc.Components[name] = "unhealthy: " + err.Error()
			continue
		}
		doc.Components[name] = StatusHealthy
	}
	return doc
}

// CheckReadiness runs the CriticalComponents checks. A critical component
// with no registered check is not ready.
func CheckReadiness(ctx context.Context) HealthStatus {
	results, version, started := registry.run(ctx, CriticalComponents)

	doc := HealthStatus{
		Status:     StatusReady,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(results)),
		Version:    version,
		Uptime:     time.Since(started).String(),
	}
	for _, name := range CriticalComponents {
		switch err := results[name]; {
		case err == nil:
			doc.Components[name] = StatusReady
		case errors.Is(err, errNotRegistered):
			doc.Status = StatusNotReady
			doc.Message = "waiting for " + name + " initialization"
			doc.Components[name] = err.Error()
		default:
			doc.Status = StatusNotReady
			doc.Message = "waiting for " + name
			doc.Components[name] = "not ready: " + err.Error()
		}
	}
	return doc
}

func writeHealth(w http.ResponseWriter, doc HealthStatus, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(doc)
}

// HealthHandler serves /health: 503 when any registered check fails
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := CheckHealth(r.Context())
		writeHealth(w, doc, doc.Status == StatusHealthy)
	}
}

// ReadyHandler serves /ready: 503 until every critical component passes
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := CheckReadiness(r.Context())
		writeHealth(w, doc, doc.Status == StatusReady)
	}
}

// LivenessHandler serves /live, which only proves the process is serving
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registry.mu.RLock()
		started := registry.started
		registry.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(started).String(),
		})
	}
}
