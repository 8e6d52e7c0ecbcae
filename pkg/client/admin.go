package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/lobby/pkg/auth"
	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/push"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/rs/zerolog"
)

// AdminClient is the operator side of the API
type AdminClient struct {
	*Client

	// Channel tunes the Watch push channel
	Channel ChannelConfig
	logger  zerolog.Logger
}

// NewAdminClient creates an operator client against the server at baseURL
func NewAdminClient(baseURL string) *AdminClient {
	return &AdminClient{
		Client: NewClient(baseURL),
		logger: log.WithComponent("admin-client"),
	}
}

// Login authenticates and keeps the session token for later calls
func (a *AdminClient) Login(ctx context.Context, password string) (*auth.Session, error) {
	var session auth.Session
	body := struct {
		Password string `json:"password"`
	}{Password: password}

	if err := a.do(ctx, http.MethodPost, "/api/auth/admin", body, &session); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	a.SetToken(session.Token)
	return &session, nil
}

// ListVisitors returns every visitor with its derived connection status
func (a *AdminClient) ListVisitors(ctx context.Context) ([]*types.Visitor, error) {
	var visitors []*types.Visitor
	if err := a.do(ctx, http.MethodGet, "/api/visitors", nil, &visitors); err != nil {
		return nil, err
	}
	return visitors, nil
}

func (a *AdminClient) GetVisitor(ctx context.Context, id string) (*types.Visitor, error) {
	var visitor types.Visitor
	if err := a.do(ctx, http.MethodGet, visitorPath(id), nil, &visitor); err != nil {
		return nil, err
	}
	return &visitor, nil
}

// Approve approves a visitor. An empty contentRef selects the default page.
func (a *AdminClient) Approve(ctx context.Context, id, contentRef string) (*types.Visitor, error) {
	body := struct {
		ContentRef string `json:"contentRef,omitempty"`
	}{ContentRef: contentRef}

	var visitor types.Visitor
	if err := a.do(ctx, http.MethodPut, visitorPath(id)+"/approve", body, &visitor); err != nil {
		return nil, err
	}
	return &visitor, nil
}

func (a *AdminClient) Block(ctx context.Context, id string) (*types.Visitor, error) {
	var visitor types.Visitor
	if err := a.do(ctx, http.MethodPut, visitorPath(id)+"/block", nil, &visitor); err != nil {
		return nil, err
	}
	return &visitor, nil
}

func (a *AdminClient) DeleteVisitor(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, visitorPath(id), nil, nil)
}

func (a *AdminClient) Stats(ctx context.Context) (*types.Stats, error) {
	var stats types.Stats
	if err := a.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Pages lists the content catalog without page bodies
func (a *AdminClient) Pages(ctx context.Context) ([]*types.Page, error) {
	var pages []*types.Page
	if err := a.do(ctx, http.MethodGet, "/api/pages", nil, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

func (a *AdminClient) Alerts(ctx context.Context) ([]*types.Alert, error) {
	var list []*types.Alert
	if err := a.do(ctx, http.MethodGet, "/api/alerts", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// PublishAlert raises an alert that every operator session receives
func (a *AdminClient) PublishAlert(ctx context.Context, alertType, message string, severity types.AlertSeverity) (*types.Alert, error) {
	body := struct {
		Type     string              `json:"type"`
		Message  string              `json:"message"`
		Severity types.AlertSeverity `json:"severity,omitempty"`
	}{Type: alertType, Message: message, Severity: severity}

	var alert types.Alert
	if err := a.do(ctx, http.MethodPost, "/api/alerts", body, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (a *AdminClient) MarkAlertRead(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPut, "/api/alerts/"+url.PathEscape(id)+"/read", nil, nil)
}

func (a *AdminClient) MarkAllAlertsRead(ctx context.Context) error {
	return a.do(ctx, http.MethodPut, "/api/alerts/read-all", nil, nil)
}

func (a *AdminClient) DeleteAlert(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/api/alerts/"+url.PathEscape(id), nil, nil)
}

// Watch streams operator events to fn until ctx ends, reconnecting with
// backoff whenever the channel closes. It returns ErrUnauthorized if the
// session is rejected.
func (a *AdminClient) Watch(ctx context.Context, fn func(*types.AdminEvent)) error {
	return a.watch(ctx, nil, fn)
}

// WatchStats is Watch plus aggregate stats: onStats receives a fresh snapshot
// each time the channel opens and after every event whose kind changes the
// counters. A failed refresh is logged and skipped.
func (a *AdminClient) WatchStats(ctx context.Context, fn func(*types.AdminEvent), onStats func(*types.Stats)) error {
	refresh := func() {
		stats, err := a.Stats(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn().Err(err).Msg("Failed to refresh stats")
			}
			return
		}
		onStats(stats)
	}

	return a.watch(ctx, refresh, func(ev *types.AdminEvent) {
		fn(ev)
		if ev.Kind.ChangesStats() {
			refresh()
		}
	})
}

func (a *AdminClient) watch(ctx context.Context, onOpen func(), fn func(*types.AdminEvent)) error {
	cfg := a.Channel.withDefaults()
	backoff := cfg.MinBackoff

	for {
		target := a.socketURL("/api/ws/admin", url.Values{"token": {a.Token()}})

		opened, reason := runChannel(ctx, target, cfg, a.logger, onOpen, func(msg *push.Message) {
			if msg.Event != nil {
				fn(msg.Event)
			}
		})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reason == ReasonUnauthorized {
			return ErrUnauthorized
		}

		a.logger.Info().Str("reason", reason).Dur("backoff", backoff).Msg("Operator channel closed, reconnecting")

		if opened {
			backoff = cfg.MinBackoff
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, cfg.MaxBackoff)
	}
}

func visitorPath(id string) string {
	return "/api/visitors/" + url.PathEscape(id)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
