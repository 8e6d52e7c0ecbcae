// Package heartbeat tracks per-connection liveness.
//
// Both ends of a push channel run the same discipline: the remote side sends
// a probe every Interval, and a Monitor that sees no traffic for Timeout fires
// once so the owner can tear the connection down. Intermediaries may drop idle
// connections without a close frame, so neither side waits on the transport
// to report a failure.
package heartbeat

import (
	"errors"
	"sync"
	"time"
)

const (
	DefaultInterval = 25 * time.Second
	DefaultTimeout  = 60 * time.Second
)

// Config holds heartbeat timing
type Config struct {
	// Interval between probes sent by the remote side
	Interval time.Duration
	// Timeout after which a silent connection is considered dead
	Timeout time.Duration
}

// DefaultConfig mirrors the browser clients, which ping every 20-25s
func DefaultConfig() Config {
	return Config{
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
	}
}

// Validate checks that probes arrive well within the deadline
func (c Config) Validate() error {
	if c.Interval <= 0 || c.Timeout <= 0 {
		return errors.New("heartbeat interval and timeout must be positive")
	}
	if c.Interval >= c.Timeout {
		return errors.New("heartbeat interval must be shorter than timeout")
	}
	return nil
}

// Monitor fires onExpire once if Touch is not called within timeout
type Monitor struct {
	mu       sync.Mutex
	timer    *time.Timer
	timeout  time.Duration
	last     time.Time
	stopped  bool
	onExpire func()
}

// NewMonitor arms a liveness deadline. onExpire runs on its own goroutine.
func NewMonitor(timeout time.Duration, onExpire func()) *Monitor {
	m := &Monitor{
		timeout:  timeout,
		last:     time.Now(),
		onExpire: onExpire,
	}
	m.timer = time.AfterFunc(timeout, m.expire)
	return m
}

// Touch records inbound traffic and pushes the deadline out
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.last = time.Now()
	m.timer.Reset(m.timeout)
}

// LastSeen returns the time of the most recent traffic
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stop disarms the monitor. It reports false if the monitor had already
// expired or been stopped.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	m.stopped = true
	m.timer.Stop()
	return true
}

func (m *Monitor) expire() {
	m.mu.Lock()
	// A Touch may have raced the timer firing
	if m.stopped || time.Since(m.last) < m.timeout {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	if m.onExpire != nil {
		m.onExpire()
	}
}
