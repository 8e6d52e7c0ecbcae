package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/lobby/pkg/heartbeat"
	"github.com/cuemby/lobby/pkg/push"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnState is the state of one push channel attempt
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Close reasons reported with StateClosed
const (
	ReasonDialFailed       = "dial failed"
	ReasonNotFound         = "not found"
	ReasonUnauthorized     = "unauthorized"
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonServerClosed     = "server closed"
	ReasonWriteFailed      = "write failed"
	ReasonCancelled        = "cancelled"
)

const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
	dialTimeout       = 10 * time.Second
	pingWriteTimeout  = 5 * time.Second
)

// ChannelConfig tunes push channel liveness and reconnects
type ChannelConfig struct {
	// Heartbeat.Interval is how often the client pings; Heartbeat.Timeout is
	// how long it tolerates a silent server before tearing the channel down
	Heartbeat  heartbeat.Config
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnState observes every state change, for logging and tests
	OnState func(state ConnState, reason string)
}

func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
		c.Heartbeat = heartbeat.DefaultConfig()
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// nextBackoff doubles d up to max
func nextBackoff(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

// attempt is the state machine for one connection attempt:
// Connecting -> Open -> Closed(reason), or Connecting -> Closed(reason).
// Closed is terminal and is reported exactly once.
type attempt struct {
	mu      sync.Mutex
	state   ConnState
	reason  string
	onState func(ConnState, string)
}

func newAttempt(onState func(ConnState, string)) *attempt {
	a := &attempt{state: StateConnecting, onState: onState}
	a.notify(StateConnecting, "")
	return a
}

// open moves Connecting to Open. It reports false if the attempt is not
// connecting anymore.
func (a *attempt) open() bool {
	a.mu.Lock()
	if a.state != StateConnecting {
		a.mu.Unlock()
		return false
	}
	a.state = StateOpen
	a.mu.Unlock()

	a.notify(StateOpen, "")
	return true
}

// close moves the attempt to Closed. Only the first call has any effect and
// only it returns true.
func (a *attempt) close(reason string) bool {
	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		return false
	}
	a.state = StateClosed
	a.reason = reason
	a.mu.Unlock()

	a.notify(StateClosed, reason)
	return true
}

func (a *attempt) current() (ConnState, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.reason
}

func (a *attempt) notify(state ConnState, reason string) {
	if a.onState != nil {
		a.onState(state, reason)
	}
}

// runChannel runs one attempt against url until the channel closes. onOpen
// runs once the channel is open; onMessage runs for every decoded frame.
// It returns whether the channel ever opened and the close reason.
func runChannel(ctx context.Context, url string, cfg ChannelConfig, logger zerolog.Logger,
	onOpen func(), onMessage func(*push.Message)) (bool, string) {

	a := newAttempt(cfg.OnState)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	cancel()
	if err != nil {
		reason := ReasonDialFailed
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusNotFound:
				reason = ReasonNotFound
			case http.StatusUnauthorized:
				reason = ReasonUnauthorized
			}
		}
		if ctx.Err() != nil {
			reason = ReasonCancelled
		}
		logger.Debug().Err(err).Str("reason", reason).Msg("Push channel dial failed")
		a.close(reason)
		return false, reason
	}

	a.open()
	if onOpen != nil {
		onOpen()
	}

	// Any of these tears the transport down; the read loop then exits and
	// the first recorded reason wins
	teardown := func(reason string) {
		if a.close(reason) {
			_ = conn.Close()
		}
	}

	monitor := heartbeat.NewMonitor(cfg.Heartbeat.Timeout, func() {
		teardown(ReasonHeartbeatTimeout)
	})
	defer monitor.Stop()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(cfg.Heartbeat.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(pingWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					teardown(ReasonWriteFailed)
					return
				}
			case <-ctx.Done():
				teardown(ReasonCancelled)
				return
			case <-stopPing:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason := ReasonServerClosed
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Text != "" {
				reason = closeErr.Text
			}
			teardown(reason)
			break
		}
		monitor.Touch()

		var msg push.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if onMessage != nil && msg.Type == push.MessageEvent {
			onMessage(&msg)
		}
	}

	_, reason := a.current()
	return true, reason
}
