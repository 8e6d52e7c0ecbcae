package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of one check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is implemented by every probe target
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config controls how a probe retries
type Config struct {
	// Interval is the pause between attempts
	Interval time.Duration

	// Timeout bounds a single attempt
	Timeout time.Duration

	// Retries is how many consecutive failures make the target unhealthy
	Retries int

	// StartPeriod is a grace period during which failures are not counted,
	// for a server still opening its store
	StartPeriod time.Duration
}

// DefaultConfig returns the settings used by "lobby probe"
func DefaultConfig() Config {
	return Config{
		Interval:    time.Second,
		Timeout:     5 * time.Second,
		Retries:     3,
		StartPeriod: 0,
	}
}

// Status tracks consecutive results for one target
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result
	Healthy              bool
	StartedAt            time.Time
}

// NewStatus creates a Status that is healthy until proven otherwise
func NewStatus() *Status {
	return &Status{
		Healthy:   true,
		StartedAt: time.Now(),
	}
}

// Update records a result. One success is enough to be healthy; Retries
// failures in a row, outside the start period, make the target unhealthy.
func (s *Status) Update(result Result, config Config) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveSuccesses = 0
	if s.InStartPeriod(config) {
		return
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// InStartPeriod returns true while failures are still forgiven
func (s *Status) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}

// Probe checks until the target passes once or fails Retries times in a row.
// It returns the final status; ctx cancellation stops it early.
func Probe(ctx context.Context, checker Checker, config Config) *Status {
	if config.Retries <= 0 {
		config.Retries = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	status := NewStatus()
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, config.Timeout)
		result := checker.Check(attemptCtx)
		cancel()

		status.Update(result, config)
		if result.Healthy || !status.Healthy {
			return status
		}

		select {
		case <-time.After(config.Interval):
		case <-ctx.Done():
			status.Healthy = false
			status.LastResult = Result{Message: ctx.Err().Error(), CheckedAt: time.Now()}
			return status
		}
	}
}
