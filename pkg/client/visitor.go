package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/push"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often a visitor polls while push is down
const DefaultPollInterval = 3 * time.Second

// Registration is the server's answer to a register call
type Registration struct {
	ID    string             `json:"id"`
	State types.VisitorState `json:"state"`
}

// Register registers (or re-registers) a visitor. The server may replace the
// candidate id; callers must use the returned one.
func (c *Client) Register(ctx context.Context, candidateID string, metadata map[string]string) (*Registration, error) {
	body := struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}{ID: candidateID, Metadata: metadata}

	var reg Registration
	if err := c.do(ctx, http.MethodPost, "/api/visitors/register", body, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Status reads a visitor's state through the poll endpoint
func (c *Client) Status(ctx context.Context, id string) (*types.VisitorStatus, error) {
	var status types.VisitorStatus
	if err := c.do(ctx, http.MethodGet, "/api/visitors/"+url.PathEscape(id)+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// VisitorConfig configures a VisitorClient
type VisitorConfig struct {
	// ID is the candidate id from a previous session; empty asks the server
	// to mint one
	ID           string
	Metadata     map[string]string
	PollInterval time.Duration
	Channel      ChannelConfig
	// OnStatus observes every status received by push or poll
	OnStatus func(*types.VisitorStatus)
}

// VisitorClient waits for an operator decision. It prefers the push channel
// and polls whenever the channel is down.
type VisitorClient struct {
	client *Client
	cfg    VisitorConfig
	logger zerolog.Logger

	mu         sync.Mutex
	id         string
	polling    bool
	pollCancel context.CancelFunc
	fallbacks  int
	pollStarts int

	decided chan *types.VisitorStatus
	wg      sync.WaitGroup
}

// NewVisitorClient creates a visitor client against the server at baseURL
func NewVisitorClient(baseURL string, cfg VisitorConfig) *VisitorClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	cfg.Channel = cfg.Channel.withDefaults()

	return &VisitorClient{
		client:  NewClient(baseURL),
		cfg:     cfg,
		logger:  log.WithComponent("client"),
		id:      cfg.ID,
		decided: make(chan *types.VisitorStatus, 1),
	}
}

// ID returns the id the server assigned, empty before registration
func (v *VisitorClient) ID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.id
}

// Fallbacks returns how many times a closed push channel fell back to polling
func (v *VisitorClient) Fallbacks() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fallbacks
}

// Polling reports whether the poll loop is running
func (v *VisitorClient) Polling() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.polling
}

// Run registers and blocks until the visitor is approved or blocked, or ctx
// ends. All background goroutines have exited when Run returns.
func (v *VisitorClient) Run(ctx context.Context) (*types.VisitorStatus, error) {
	if err := v.register(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		v.wg.Wait()
	}()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.pushLoop(ctx)
	}()

	select {
	case status := <-v.decided:
		v.logger.Info().
			Str("visitor_id", v.ID()).
			Str("state", string(status.State)).
			Msg("Visitor decision received")
		return status, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *VisitorClient) register(ctx context.Context) error {
	reg, err := v.client.Register(ctx, v.ID(), v.cfg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to register visitor: %w", err)
	}

	v.mu.Lock()
	if v.id != "" && v.id != reg.ID {
		v.logger.Debug().Str("candidate", v.id).Str("visitor_id", reg.ID).Msg("Server assigned a new visitor id")
	}
	v.id = reg.ID
	v.mu.Unlock()
	return nil
}

// pushLoop runs push channel attempts until ctx ends. Every Closed attempt
// triggers exactly one fallback before the backoff wait.
func (v *VisitorClient) pushLoop(ctx context.Context) {
	backoff := v.cfg.Channel.MinBackoff

	for {
		target := v.client.socketURL("/api/ws/visitor/"+url.PathEscape(v.ID()), nil)

		opened, reason := runChannel(ctx, target, v.cfg.Channel, v.logger,
			func() {
				v.stopPolling()
				// Reconcile anything decided while the channel was down
				v.pollOnce(ctx)
			},
			func(msg *push.Message) {
				if msg.Status != nil {
					v.deliver(msg.Status)
				}
			})

		if ctx.Err() != nil {
			return
		}

		v.fallback(ctx, reason)

		if opened {
			backoff = v.cfg.Channel.MinBackoff
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, v.cfg.Channel.MaxBackoff)
	}
}

// fallback is the single action taken on Closed: start polling unless the
// poll loop is already running
func (v *VisitorClient) fallback(ctx context.Context, reason string) {
	v.mu.Lock()
	v.fallbacks++
	if v.polling {
		v.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	v.polling = true
	v.pollCancel = cancel
	v.pollStarts++
	v.mu.Unlock()

	v.logger.Info().Str("visitor_id", v.ID()).Str("reason", reason).Msg("Push channel closed, polling for status")

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.pollLoop(pollCtx)
	}()
}

func (v *VisitorClient) stopPolling() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.polling {
		return
	}
	v.pollCancel()
	v.polling = false
	v.pollCancel = nil
}

func (v *VisitorClient) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()

	for {
		v.pollOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// pollOnce reads the status once. An unknown id means the record was deleted,
// so the visitor registers again under the same candidate id.
func (v *VisitorClient) pollOnce(ctx context.Context) {
	status, err := v.client.Status(ctx, v.ID())
	if errors.Is(err, ErrNotFound) {
		if err := v.register(ctx); err != nil && ctx.Err() == nil {
			v.logger.Warn().Err(err).Msg("Re-registration failed")
		}
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			v.logger.Debug().Err(err).Msg("Status poll failed")
		}
		return
	}
	v.deliver(status)
}

func (v *VisitorClient) deliver(status *types.VisitorStatus) {
	if v.cfg.OnStatus != nil {
		v.cfg.OnStatus(status)
	}
	if !status.State.Terminal() {
		return
	}
	select {
	case v.decided <- status:
	default:
	}
}
