package push

import (
	"sync"
	"time"

	"github.com/cuemby/lobby/pkg/heartbeat"
	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Transport is the duplex connection underneath a push channel.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Role distinguishes visitor channels from operator channels
type Role string

const (
	RoleVisitor  Role = "visitor"
	RoleOperator Role = "operator"
)

// Close reasons
const (
	ReasonSuperseded = "superseded"
	ReasonDeleted    = "visitor deleted"
	ReasonNotFound   = "not found"
	ReasonTimeout    = "heartbeat timeout"
	ReasonQueueFull  = "send queue full"
	ReasonWriteError = "write failed"
	ReasonReadError  = "read closed"
	ReasonShutdown   = "server shutdown"
)

// Conn is one live push channel. It owns a single writer goroutine fed by a
// bounded queue; Serve runs the read loop on the caller's goroutine.
type Conn struct {
	id        string
	role      Role
	visitorID string

	transport Transport
	manager   *Manager
	send      chan []byte
	done      chan struct{}
	monitor   *heartbeat.Monitor
	logger    zerolog.Logger

	closeOnce sync.Once
	reasonMu  sync.Mutex
	reason    string
}

func newConn(m *Manager, role Role, visitorID string, t Transport) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		role:      role,
		visitorID: visitorID,
		transport: t,
		manager:   m,
		send:      make(chan []byte, m.cfg.SendQueueSize),
		done:      make(chan struct{}),
	}
	c.logger = log.WithConnID(c.id, string(role))
	if visitorID != "" {
		c.logger = c.logger.With().Str("visitor_id", visitorID).Logger()
	}
	c.monitor = heartbeat.NewMonitor(m.cfg.Heartbeat.Timeout, func() {
		metrics.HeartbeatTimeouts.WithLabelValues(string(role)).Inc()
		c.close(websocket.CloseGoingAway, ReasonTimeout)
	})
	go c.writeLoop()
	return c
}

// ID returns the ephemeral connection id
func (c *Conn) ID() string { return c.id }

// Role returns the connection role
func (c *Conn) Role() Role { return c.role }

// VisitorID returns the visitor the channel belongs to, empty for operators
func (c *Conn) VisitorID() string { return c.visitorID }

// Done is closed once the connection is closed
func (c *Conn) Done() <-chan struct{} { return c.done }

// CloseReason returns why the connection was closed, empty while open
func (c *Conn) CloseReason() string {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// Serve runs the read loop until the transport fails or the connection is
// closed. Any inbound frame counts as liveness traffic; pings are answered
// with a pong and everything else is ignored.
func (c *Conn) Serve() {
	for {
		_, data, err := c.transport.ReadMessage()
		if err != nil {
			c.close(websocket.CloseAbnormalClosure, ReasonReadError)
			return
		}
		c.monitor.Touch()
		c.manager.activity(c)

		if isPing(data) {
			c.enqueue(pongFrame())
		}
	}
}

// enqueue hands a frame to the writer without blocking. It reports false when
// the connection is closed or its queue is full.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			// Close may have raced the dequeue
			select {
			case <-c.done:
				return
			default:
			}

			_ = c.transport.SetWriteDeadline(time.Now().Add(c.manager.cfg.WriteTimeout))
			if err := c.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug().Err(err).Msg("Push write failed")
				c.close(websocket.CloseAbnormalClosure, ReasonWriteError)
				return
			}
			metrics.PushMessagesSent.WithLabelValues(string(c.role)).Inc()
		}
	}
}

// Close closes the connection and releases its registry slot
func (c *Conn) Close() {
	c.close(websocket.CloseNormalClosure, ReasonShutdown)
}

// close detaches synchronously so the registry slot is free on return; the
// close frame and transport teardown run in the background so a stalled peer
// cannot hold up the caller.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.reasonMu.Lock()
		c.reason = reason
		c.reasonMu.Unlock()

		close(c.done)
		if reason != ReasonTimeout {
			c.monitor.Stop()
		}
		c.manager.detach(c)
		c.logger.Debug().Str("reason", reason).Msg("Push connection closed")

		go func() {
			if code != websocket.CloseAbnormalClosure {
				deadline := time.Now().Add(c.manager.cfg.WriteTimeout)
				_ = c.transport.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			}
			_ = c.transport.Close()
		}()
	})
}
