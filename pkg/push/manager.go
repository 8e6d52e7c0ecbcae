package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/lobby/pkg/events"
	"github.com/cuemby/lobby/pkg/heartbeat"
	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/metrics"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultWriteTimeout bounds a single frame write to a peer
	DefaultWriteTimeout = 5 * time.Second
	// DefaultSendQueueSize is the per-connection outbound queue length
	DefaultSendQueueSize = 64
)

var (
	// ErrClosed is reported by Err once Shutdown has run
	ErrClosed = errors.New("push manager shut down")
	// ErrNotRelaying is reported by Err while Run is not fanning out events
	ErrNotRelaying = errors.New("push manager not relaying events")
)

// Config holds push channel tuning
type Config struct {
	Heartbeat     heartbeat.Config
	WriteTimeout  time.Duration
	SendQueueSize int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Heartbeat:     heartbeat.DefaultConfig(),
		WriteTimeout:  DefaultWriteTimeout,
		SendQueueSize: DefaultSendQueueSize,
	}
}

// Publisher receives presence events
type Publisher interface {
	Publish(event *types.AdminEvent)
}

// Manager owns the visitor and operator connection registries. At most one
// connection is registered per visitor id; operators form an unbounded set.
type Manager struct {
	cfg       Config
	publisher Publisher
	onActive  func(visitorID string)
	logger    zerolog.Logger

	mu        sync.RWMutex
	visitors  map[string]*Conn
	operators map[*Conn]struct{}
	closed    bool
	relaying  atomic.Int32
}

// Option configures a Manager
type Option func(*Manager)

// WithPublisher makes the manager publish visitor_online / visitor_offline
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithActivityHook is called for every inbound frame on a visitor channel
func WithActivityHook(fn func(visitorID string)) Option {
	return func(m *Manager) {
		m.onActive = fn
	}
}

// NewManager creates a push manager
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Heartbeat.Timeout <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}

	m := &Manager{
		cfg:       cfg,
		logger:    log.WithComponent("push"),
		visitors:  make(map[string]*Conn),
		operators: make(map[*Conn]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AttachVisitor registers t as the push channel for visitorID, closing any
// connection it supersedes. The caller must run Serve on the returned Conn.
func (m *Manager) AttachVisitor(visitorID string, t Transport) *Conn {
	c := newConn(m, RoleVisitor, visitorID, t)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.close(websocket.CloseGoingAway, ReasonShutdown)
		return c
	}
	prev := m.visitors[visitorID]
	m.visitors[visitorID] = c
	online := len(m.visitors)
	m.mu.Unlock()

	if prev != nil {
		prev.close(websocket.CloseNormalClosure, ReasonSuperseded)
	}

	metrics.PushConnections.WithLabelValues(string(RoleVisitor)).Set(float64(online))
	c.logger.Info().Bool("superseded", prev != nil).Msg("Visitor push channel attached")
	m.publishPresence(types.EventVisitorOnline, visitorID, online)
	return c
}

// AttachOperator adds t to the operator fan-out set
func (m *Manager) AttachOperator(t Transport) *Conn {
	c := newConn(m, RoleOperator, "", t)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.close(websocket.CloseGoingAway, ReasonShutdown)
		return c
	}
	m.operators[c] = struct{}{}
	count := len(m.operators)
	m.mu.Unlock()

	metrics.PushConnections.WithLabelValues(string(RoleOperator)).Set(float64(count))
	c.logger.Info().Int("operators", count).Msg("Operator push channel attached")
	return c
}

// NotifyVisitor queues a status change for the visitor's channel. Delivery is
// best effort and at most once: without an open channel this is a no-op and
// the visitor picks the change up by polling.
func (m *Manager) NotifyVisitor(visitorID string, status *types.VisitorStatus) bool {
	m.mu.RLock()
	c := m.visitors[visitorID]
	m.mu.RUnlock()

	if c == nil {
		return false
	}

	frame, err := json.Marshal(StatusMessage(status))
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to encode visitor status")
		return false
	}

	if !c.enqueue(frame) {
		metrics.EventsDropped.WithLabelValues(string(RoleVisitor)).Inc()
		c.close(websocket.CloseTryAgainLater, ReasonQueueFull)
		return false
	}
	return true
}

// BroadcastOperators queues ev on every operator channel and returns how many
// accepted it. An operator whose queue is full is closed and removed; the
// rest still receive the event.
func (m *Manager) BroadcastOperators(ev *types.AdminEvent) int {
	frame, err := json.Marshal(EventMessage(ev))
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to encode admin event")
		return 0
	}

	m.mu.RLock()
	targets := make([]*Conn, 0, len(m.operators))
	for c := range m.operators {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		metrics.EventsDropped.WithLabelValues(string(RoleOperator)).Inc()
		c.close(websocket.CloseTryAgainLater, ReasonQueueFull)
	}
	return delivered
}

// CloseVisitor closes the visitor's channel, if any
func (m *Manager) CloseVisitor(visitorID, reason string) {
	m.mu.RLock()
	c := m.visitors[visitorID]
	m.mu.RUnlock()

	if c != nil {
		c.close(websocket.CloseNormalClosure, reason)
	}
}

// detach is called exactly once per connection, from Conn.close
func (m *Manager) detach(c *Conn) {
	var (
		offline bool
		count   int
	)

	m.mu.Lock()
	switch c.role {
	case RoleVisitor:
		// A superseding connection may already own the slot
		if m.visitors[c.visitorID] == c {
			delete(m.visitors, c.visitorID)
			offline = true
		}
		count = len(m.visitors)
	case RoleOperator:
		delete(m.operators, c)
		count = len(m.operators)
	}
	m.mu.Unlock()

	metrics.PushConnections.WithLabelValues(string(c.role)).Set(float64(count))
	if offline {
		m.publishPresence(types.EventVisitorOffline, c.visitorID, count)
	}
}

func (m *Manager) activity(c *Conn) {
	if c.role == RoleVisitor && m.onActive != nil {
		m.onActive(c.visitorID)
	}
}

func (m *Manager) publishPresence(kind types.AdminEventKind, visitorID string, online int) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(&types.AdminEvent{
		Kind:      kind,
		VisitorID: visitorID,
		Online:    &online,
	})
}

// IsConnected reports whether visitorID has an open push channel
func (m *Manager) IsConnected(visitorID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.visitors[visitorID]
	return ok
}

// OnlineCount returns the number of visitors with an open push channel
func (m *Manager) OnlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.visitors)
}

// OperatorCount returns the number of open operator channels
func (m *Manager) OperatorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.operators)
}

// Run subscribes to the admin event bus and fans every event out to the
// operators until ctx is done
func (m *Manager) Run(ctx context.Context, bus *events.Broker) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	m.relaying.Add(1)
	defer m.relaying.Add(-1)

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			m.BroadcastOperators(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Err reports whether the manager can accept channels and relay operator
// events: nil when healthy, ErrClosed or ErrNotRelaying otherwise
func (m *Manager) Err() error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if m.relaying.Load() == 0 {
		return ErrNotRelaying
	}
	return nil
}

// Shutdown closes every connection and rejects new ones
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	conns := make([]*Conn, 0, len(m.visitors)+len(m.operators))
	for _, c := range m.visitors {
		conns = append(conns, c)
	}
	for c := range m.operators {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, ReasonShutdown)
	}
	m.logger.Info().Int("closed", len(conns)).Msg("Push manager shut down")
}
