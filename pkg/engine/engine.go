package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/lobby/pkg/identity"
	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/metrics"
	"github.com/cuemby/lobby/pkg/push"
	"github.com/cuemby/lobby/pkg/storage"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned for transitions on an id with no record
var ErrNotFound = storage.ErrNotFound

// DefaultPollWindow is how recently a visitor without a push channel must
// have been seen to count as polling
const DefaultPollWindow = 30 * time.Second

// Publisher is the admin event bus
type Publisher interface {
	Publish(event *types.AdminEvent)
}

// VisitorNotifier delivers status changes to a visitor's push channel
type VisitorNotifier interface {
	NotifyVisitor(visitorID string, status *types.VisitorStatus) bool
	CloseVisitor(visitorID, reason string)
	IsConnected(visitorID string) bool
	OnlineCount() int
}

// ContentResolver turns content refs into renderable content
type ContentResolver interface {
	ResolveDefault() string
	Resolve(ref string) (string, error)
}

// AlertSink raises operator alerts
type AlertSink interface {
	Publish(ctx context.Context, alertType, message string, severity types.AlertSeverity) (*types.Alert, error)
}

// Enricher attaches opaque data to a newly registered visitor
type Enricher interface {
	Enrich(ctx context.Context, visitorID string, metadata map[string]string) map[string]string
}

// Engine validates and commits visitor transitions
type Engine struct {
	store      storage.Store
	locks      *lockTable
	publisher  Publisher
	notifier   VisitorNotifier
	content    ContentResolver
	alerts     AlertSink
	enricher   Enricher
	pollWindow time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithPublisher sets the admin event bus
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithNotifier sets the visitor push channel registry
func WithNotifier(n VisitorNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithContent sets the content resolver
func WithContent(c ContentResolver) Option {
	return func(e *Engine) { e.content = c }
}

// WithAlerts sets the alert sink
func WithAlerts(a AlertSink) Option {
	return func(e *Engine) { e.alerts = a }
}

// WithEnricher sets the registration enricher
func WithEnricher(en Enricher) Option {
	return func(e *Engine) { e.enricher = en }
}

// WithPollWindow sets how long a visitor stays "polling" after its last poll
func WithPollWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollWindow = d
		}
	}
}

// NewEngine creates a transition engine over store
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		locks:      newLockTable(),
		pollWindow: DefaultPollWindow,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     log.WithComponent("engine"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Register creates a pending record for the candidate id, minting a new id
// when the candidate is malformed. Registering an existing id refreshes its
// lastSeenAt and returns the record unchanged.
func (e *Engine) Register(ctx context.Context, candidateID string, metadata map[string]string) (*types.Visitor, error) {
	id := identity.EnsureIdentity(candidateID)

	unlock := e.locks.lock(id)
	defer unlock()

	now := e.now()
	existing, err := e.store.GetVisitor(id)
	switch {
	case err == nil:
		existing.LastSeenAt = now
		if err := e.store.UpdateVisitor(existing); err != nil {
			return nil, fmt.Errorf("failed to refresh visitor: %w", err)
		}
		return e.decorate(existing, now), nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to load visitor: %w", err)
	}

	timer := metrics.NewTimer()
	visitor := &types.Visitor{
		ID:         id,
		State:      types.VisitorStatePending,
		Metadata:   metadata,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if e.enricher != nil {
		visitor.Enrichment = e.enricher.Enrich(ctx, id, metadata)
	}

	if err := e.store.CreateVisitor(visitor); err != nil {
		return nil, fmt.Errorf("failed to create visitor: %w", err)
	}
	e.committed("register", timer)

	snapshot := e.decorate(visitor, now)
	e.publish(&types.AdminEvent{Kind: types.EventNewVisitor, VisitorID: id, Visitor: snapshot.Clone()})
	e.raise(ctx, "new_visitor", fmt.Sprintf("New visitor %s is waiting for approval", id), types.SeverityInfo)

	logger := log.WithVisitorID(id)
	logger.Info().Bool("minted", id != candidateID).Msg("Visitor registered")
	return snapshot, nil
}

// Approve moves the visitor to approved with the given content ref. An empty
// ref selects the default content when the visitor is rendered.
func (e *Engine) Approve(ctx context.Context, id, contentRef string) (*types.Visitor, error) {
	visitor, err := e.transition(id, "approve", func(v *types.Visitor) {
		v.State = types.VisitorStateApproved
		v.ContentRef = contentRef
	})
	if err != nil {
		return nil, err
	}

	e.raise(ctx, "visitor_approved", fmt.Sprintf("Visitor %s approved", id), types.SeverityInfo)
	return visitor, nil
}

// Block moves the visitor to blocked
func (e *Engine) Block(ctx context.Context, id string) (*types.Visitor, error) {
	visitor, err := e.transition(id, "block", func(v *types.Visitor) {
		v.State = types.VisitorStateBlocked
		v.ContentRef = ""
	})
	if err != nil {
		return nil, err
	}

	e.raise(ctx, "visitor_blocked", fmt.Sprintf("Visitor %s blocked", id), types.SeverityWarning)
	return visitor, nil
}

// transition applies mutate under the record lock, then emits the
// visitor_updated event and the targeted status push before releasing it
func (e *Engine) transition(id, name string, mutate func(v *types.Visitor)) (*types.Visitor, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	timer := metrics.NewTimer()
	visitor, err := e.load(id)
	if err != nil {
		return nil, err
	}

	mutate(visitor)
	if err := e.store.UpdateVisitor(visitor); err != nil {
		return nil, fmt.Errorf("failed to %s visitor: %w", name, err)
	}
	e.committed(name, timer)

	snapshot := e.decorate(visitor, e.now())
	e.publish(&types.AdminEvent{Kind: types.EventVisitorUpdated, VisitorID: id, Visitor: snapshot.Clone()})
	if e.notifier != nil {
		e.notifier.NotifyVisitor(id, e.status(visitor))
	}

	logger := log.WithVisitorID(id)
	logger.Info().
		Str("transition", name).
		Str("state", string(visitor.State)).
		Msg("Visitor transition committed")
	return snapshot, nil
}

// Delete removes the record, closes the visitor's push channel and emits
// visitor_deleted. The id may register again afterwards.
func (e *Engine) Delete(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	timer := metrics.NewTimer()
	if err := e.store.DeleteVisitor(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("visitor %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete visitor: %w", err)
	}
	e.committed("delete", timer)

	if e.notifier != nil {
		e.notifier.CloseVisitor(id, push.ReasonDeleted)
	}
	e.publish(&types.AdminEvent{Kind: types.EventVisitorDeleted, VisitorID: id})

	logger := log.WithVisitorID(id)
	logger.Info().Msg("Visitor deleted")
	return nil
}

// Status is the fallback poll read. It refreshes lastSeenAt and nothing else.
func (e *Engine) Status(ctx context.Context, id string) (*types.VisitorStatus, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	visitor, err := e.load(id)
	if err != nil {
		return nil, err
	}

	visitor.LastSeenAt = e.now()
	if err := e.store.UpdateVisitor(visitor); err != nil {
		return nil, fmt.Errorf("failed to refresh visitor: %w", err)
	}
	metrics.PollRequestsTotal.Inc()

	return e.status(visitor), nil
}

// Touch records liveness traffic from the visitor
func (e *Engine) Touch(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	visitor, err := e.load(id)
	if err != nil {
		return err
	}

	visitor.LastSeenAt = e.now()
	if err := e.store.UpdateVisitor(visitor); err != nil {
		return fmt.Errorf("failed to refresh visitor: %w", err)
	}
	return nil
}

// AttachChannel runs attach under the record lock once the record is known to
// exist, and refreshes lastSeenAt. Delete takes the same lock, so a channel is
// either refused with ErrNotFound or attached early enough to be closed by it.
func (e *Engine) AttachChannel(ctx context.Context, id string, attach func()) error {
	unlock := e.locks.lock(id)
	defer unlock()

	visitor, err := e.load(id)
	if err != nil {
		return err
	}

	visitor.LastSeenAt = e.now()
	if err := e.store.UpdateVisitor(visitor); err != nil {
		return fmt.Errorf("failed to refresh visitor: %w", err)
	}

	attach()
	return nil
}

// Get returns one visitor with its derived connection status
func (e *Engine) Get(ctx context.Context, id string) (*types.Visitor, error) {
	visitor, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return e.decorate(visitor, e.now()), nil
}

// Exists reports whether id has a record
func (e *Engine) Exists(ctx context.Context, id string) bool {
	_, err := e.store.GetVisitor(id)
	return err == nil
}

// List returns all visitors, newest first, with derived connection status
func (e *Engine) List(ctx context.Context) ([]*types.Visitor, error) {
	visitors, err := e.store.ListVisitors()
	if err != nil {
		return nil, fmt.Errorf("failed to list visitors: %w", err)
	}

	now := e.now()
	for i, v := range visitors {
		visitors[i] = e.decorate(v, now)
	}
	return visitors, nil
}

// Stats aggregates visitor and alert counters
func (e *Engine) Stats(ctx context.Context) (*types.Stats, error) {
	visitors, err := e.store.ListVisitors()
	if err != nil {
		return nil, fmt.Errorf("failed to list visitors: %w", err)
	}

	stats := &types.Stats{}
	stats.Visitors.Total = len(visitors)
	for _, v := range visitors {
		switch v.State {
		case types.VisitorStatePending:
			stats.Visitors.Pending++
		case types.VisitorStateApproved:
			stats.Visitors.Approved++
		case types.VisitorStateBlocked:
			stats.Visitors.Blocked++
		}
	}
	if e.notifier != nil {
		stats.Visitors.Online = e.notifier.OnlineCount()
	}

	unread, err := e.store.CountUnreadAlerts()
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	stats.Alerts.Unread = unread

	return stats, nil
}

func (e *Engine) load(id string) (*types.Visitor, error) {
	visitor, err := e.store.GetVisitor(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("visitor %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load visitor: %w", err)
	}
	return visitor, nil
}

// status is what the visitor sees. Content is resolved only once approved.
func (e *Engine) status(v *types.Visitor) *types.VisitorStatus {
	status := &types.VisitorStatus{State: v.State}
	if v.State != types.VisitorStateApproved {
		return status
	}

	status.ContentRef = v.ContentRef
	if e.content == nil {
		return status
	}
	if status.ContentRef == "" {
		status.ContentRef = e.content.ResolveDefault()
	}

	content, err := e.content.Resolve(status.ContentRef)
	if err != nil {
		e.logger.Warn().Err(err).Str("content_ref", status.ContentRef).Msg("Failed to resolve content")
		return status
	}
	status.Content = content
	return status
}

func (e *Engine) decorate(v *types.Visitor, now time.Time) *types.Visitor {
	out := v.Clone()
	switch {
	case e.notifier != nil && e.notifier.IsConnected(v.ID):
		out.ConnectionStatus = types.ConnectionConnected
	case now.Sub(v.LastSeenAt) <= e.pollWindow:
		out.ConnectionStatus = types.ConnectionPolling
	default:
		out.ConnectionStatus = types.ConnectionDisconnected
	}
	return out
}

func (e *Engine) publish(event *types.AdminEvent) {
	if e.publisher != nil {
		e.publisher.Publish(event)
	}
}

func (e *Engine) raise(ctx context.Context, alertType, message string, severity types.AlertSeverity) {
	if e.alerts == nil {
		return
	}
	if _, err := e.alerts.Publish(ctx, alertType, message, severity); err != nil {
		e.logger.Warn().Err(err).Str("alert_type", alertType).Msg("Failed to raise alert")
	}
}

func (e *Engine) committed(transition string, timer *metrics.Timer) {
	metrics.TransitionsTotal.WithLabelValues(transition).Inc()
	timer.ObserveDurationVec(metrics.TransitionDuration, transition)
}
