package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/push"
	"github.com/cuemby/lobby/pkg/storage"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*types.AdminEvent
}

func (r *recordingPublisher) Publish(ev *types.AdminEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) kinds() []types.AdminEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.AdminEventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recordingPublisher) last() *types.AdminEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// fakeNotifier stands in for the push manager
type fakeNotifier struct {
	mu        sync.Mutex
	connected map[string]bool
	pushed    map[string][]*types.VisitorStatus
	closed    map[string]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		connected: make(map[string]bool),
		pushed:    make(map[string][]*types.VisitorStatus),
		closed:    make(map[string]string),
	}
}

func (f *fakeNotifier) NotifyVisitor(id string, status *types.VisitorStatus) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[id] {
		return false
	}
	f.pushed[id] = append(f.pushed[id], status)
	return true
}

func (f *fakeNotifier) CloseVisitor(id, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected[id] {
		f.closed[id] = reason
		delete(f.connected, id)
	}
}

func (f *fakeNotifier) IsConnected(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}

func (f *fakeNotifier) OnlineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connected)
}

func (f *fakeNotifier) connect(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[id] = true
}

func (f *fakeNotifier) statuses(id string) []*types.VisitorStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.VisitorStatus(nil), f.pushed[id]...)
}

type staticContent map[string]string

func (s staticContent) ResolveDefault() string { return "default" }

func (s staticContent) Resolve(ref string) (string, error) {
	content, ok := s[ref]
	if !ok {
		return "", fmt.Errorf("page %s: not found", ref)
	}
	return content, nil
}

type recordingAlerts struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingAlerts) Publish(_ context.Context, alertType, message string, severity types.AlertSeverity) (*types.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, alertType)
	return &types.Alert{Type: alertType, Message: message, Severity: severity}, nil
}

type agentEnricher struct{}

func (agentEnricher) Enrich(_ context.Context, _ string, meta map[string]string) map[string]string {
	return map[string]string{"agentKnown": fmt.Sprint(meta["userAgent"] != "")}
}

type fixture struct {
	engine   *Engine
	store    *storage.BoltStore
	bus      *recordingPublisher
	notifier *fakeNotifier
	alerts   *recordingAlerts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:    store,
		bus:      &recordingPublisher{},
		notifier: newFakeNotifier(),
		alerts:   &recordingAlerts{},
	}
	f.engine = NewEngine(store,
		WithPublisher(f.bus),
		WithNotifier(f.notifier),
		WithContent(staticContent{"default": "<p>welcome</p>", "page-42": "<p>page 42</p>"}),
		WithAlerts(f.alerts),
		WithEnricher(agentEnricher{}),
	)
	return f
}

func TestRegisterCreatesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.engine.Register(ctx, "v1", map[string]string{"userAgent": "curl"})
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)
	assert.Equal(t, types.VisitorStatePending, v.State)
	assert.Equal(t, "curl", v.Metadata["userAgent"])
	assert.Equal(t, "true", v.Enrichment["agentKnown"])
	assert.Equal(t, types.ConnectionPolling, v.ConnectionStatus)

	assert.Equal(t, []types.AdminEventKind{types.EventNewVisitor}, f.bus.kinds())
	assert.Equal(t, "v1", f.bus.last().Visitor.ID)
	assert.Equal(t, []string{"new_visitor"}, f.alerts.types)
}

func TestRegisterMintsIdentityForMalformedCandidate(t *testing.T) {
	f := newFixture(t)

	for _, candidate := range []string{"", "../etc/passwd", "has space", "a/b"} {
		v, err := f.engine.Register(context.Background(), candidate, nil)
		require.NoError(t, err)
		assert.NotEqual(t, candidate, v.ID)
		assert.Len(t, v.ID, 36)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, "v1", "page-42")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	second, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)

	// State is not reset and no second record or event appears
	assert.Equal(t, types.VisitorStateApproved, second.State)
	assert.Equal(t, "page-42", second.ContentRef)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.True(t, second.LastSeenAt.After(first.LastSeenAt))

	visitors, err := f.engine.List(ctx)
	require.NoError(t, err)
	assert.Len(t, visitors, 1)
	assert.Equal(t, []types.AdminEventKind{types.EventNewVisitor, types.EventVisitorUpdated}, f.bus.kinds())
}

func TestUnknownIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Status(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.Approve(ctx, "ghost", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.Block(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.engine.Delete(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.engine.Touch(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.False(t, f.engine.Exists(ctx, "ghost"))
	assert.Empty(t, f.bus.kinds())
}

func TestTransitionsFromEveryState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(e *Engine, id string)
		apply func(e *Engine, id string) (*types.Visitor, error)
		want  types.VisitorState
	}{
		{
			name:  "pending to approved",
			setup: func(e *Engine, id string) {},
			apply: func(e *Engine, id string) (*types.Visitor, error) { return e.Approve(ctx, id, "page-42") },
			want:  types.VisitorStateApproved,
		},
		{
			name:  "pending to blocked",
			setup: func(e *Engine, id string) {},
			apply: func(e *Engine, id string) (*types.Visitor, error) { return e.Block(ctx, id) },
			want:  types.VisitorStateBlocked,
		},
		{
			name: "blocked to approved",
			setup: func(e *Engine, id string) {
				_, _ = e.Block(ctx, id)
			},
			apply: func(e *Engine, id string) (*types.Visitor, error) { return e.Approve(ctx, id, "") },
			want:  types.VisitorStateApproved,
		},
		{
			name: "approved to blocked",
			setup: func(e *Engine, id string) {
				_, _ = e.Approve(ctx, id, "page-42")
			},
			apply: func(e *Engine, id string) (*types.Visitor, error) { return e.Block(ctx, id) },
			want:  types.VisitorStateBlocked,
		},
		{
			name: "blocked to blocked",
			setup: func(e *Engine, id string) {
				_, _ = e.Block(ctx, id)
			},
			apply: func(e *Engine, id string) (*types.Visitor, error) { return e.Block(ctx, id) },
			want:  types.VisitorStateBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.Register(ctx, "v1", nil)
			require.NoError(t, err)
			tt.setup(f.engine, "v1")

			v, err := tt.apply(f.engine, "v1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.State)

			status, err := f.engine.Status(ctx, "v1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.State)
			assert.Equal(t, types.EventVisitorUpdated, f.bus.last().Kind)
		})
	}
}

func TestReapproveReemitsUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.connect("v1")

	_, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, "v1", "page-42")
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, "v1", "default")
	require.NoError(t, err)

	assert.Equal(t, []types.AdminEventKind{
		types.EventNewVisitor,
		types.EventVisitorUpdated,
		types.EventVisitorUpdated,
	}, f.bus.kinds())

	pushed := f.notifier.statuses("v1")
	require.Len(t, pushed, 2)
	assert.Equal(t, "page-42", pushed[0].ContentRef)
	assert.Equal(t, "<p>page 42</p>", pushed[0].Content)
	assert.Equal(t, "default", pushed[1].ContentRef)
	assert.Equal(t, "<p>welcome</p>", pushed[1].Content)
}

func TestApproveWithoutRefResolvesDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, "v1", "")
	require.NoError(t, err)

	status, err := f.engine.Status(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "default", status.ContentRef)
	assert.Equal(t, "<p>welcome</p>", status.Content)
}

func TestStatusOnlyRefreshesLastSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)
	before, err := f.store.GetVisitor("v1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	status, err := f.engine.Status(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, types.VisitorStatePending, status.State)
	assert.Empty(t, status.ContentRef)

	after, err := f.store.GetVisitor("v1")
	require.NoError(t, err)
	assert.Equal(t, before.State, after.State)
	assert.True(t, after.LastSeenAt.After(before.LastSeenAt))
	assert.Equal(t, []types.AdminEventKind{types.EventNewVisitor}, f.bus.kinds())
}

func TestPollNeverSeesApprovedAfterBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	var sawBlocked, regressed bool
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			status, err := f.engine.Status(ctx, "v1")
			if err != nil {
				continue
			}
			if status.State == types.VisitorStateBlocked {
				sawBlocked = true
			} else if sawBlocked && status.State == types.VisitorStateApproved {
				regressed = true
			}
		}
	}()

	_, err = f.engine.Approve(ctx, "v1", "page-42")
	require.NoError(t, err)
	_, err = f.engine.Block(ctx, "v1")
	require.NoError(t, err)
	<-done

	assert.False(t, regressed)
	status, err := f.engine.Status(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, types.VisitorStateBlocked, status.State)
}

func TestConcurrentTransitionsSameID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.connect("v1")

	_, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Approve(ctx, "v1", "page-42")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.engine.Block(ctx, "v1")
		}()
	}
	wg.Wait()

	// The last pushed status matches the last published event and the record
	pushed := f.notifier.statuses("v1")
	require.Len(t, pushed, 40)
	last := f.bus.last()
	require.Equal(t, types.EventVisitorUpdated, last.Kind)

	stored, err := f.store.GetVisitor("v1")
	require.NoError(t, err)
	assert.Equal(t, stored.State, last.Visitor.State)
	assert.Equal(t, stored.State, pushed[len(pushed)-1].State)
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestScenarioApproveWhileConnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)
	require.Equal(t, types.VisitorStatePending, v.State)
	f.notifier.connect("v1")

	_, err = f.engine.Approve(ctx, "v1", "page-42")
	require.NoError(t, err)

	pushed := f.notifier.statuses("v1")
	require.Len(t, pushed, 1)
	assert.Equal(t, types.VisitorStateApproved, pushed[0].State)
	assert.Equal(t, "page-42", pushed[0].ContentRef)

	status, err := f.engine.Status(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, types.VisitorStateApproved, status.State)
	assert.Equal(t, "page-42", status.ContentRef)
}

func TestScenarioBlockWithoutChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Register(ctx, "v2", nil)
	require.NoError(t, err)
	_, err = f.engine.Block(ctx, "v2")
	require.NoError(t, err)

	status, err := f.engine.Status(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, types.VisitorStateBlocked, status.State)
	assert.Empty(t, f.notifier.statuses("v2"))
}

func TestScenarioDeleteClosesChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Register(ctx, "v3", nil)
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, "v3", "page-42")
	require.NoError(t, err)
	f.notifier.connect("v3")

	require.NoError(t, f.engine.Delete(ctx, "v3"))
	assert.Equal(t, push.ReasonDeleted, f.notifier.closed["v3"])
	assert.Equal(t, types.EventVisitorDeleted, f.bus.last().Kind)
	assert.Equal(t, "v3", f.bus.last().VisitorID)

	_, err = f.engine.Status(ctx, "v3")
	assert.True(t, errors.Is(err, ErrNotFound))

	v, err := f.engine.Register(ctx, "v3", nil)
	require.NoError(t, err)
	assert.Equal(t, types.VisitorStatePending, v.State)
	assert.Empty(t, v.ContentRef)
}

func TestAttachChannelRequiresRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	called := false
	err := f.engine.AttachChannel(ctx, "ghost", func() { called = true })
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, called)

	_, err = f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)
	before, err := f.store.GetVisitor("v1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.engine.AttachChannel(ctx, "v1", func() { called = true }))
	assert.True(t, called)

	after, err := f.store.GetVisitor("v1")
	require.NoError(t, err)
	assert.True(t, after.LastSeenAt.After(before.LastSeenAt))
}

func TestDeleteWaitsForAttachingChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Register(ctx, "v3", nil)
	require.NoError(t, err)

	deleted := make(chan error, 1)
	err = f.engine.AttachChannel(ctx, "v3", func() {
		go func() { deleted <- f.engine.Delete(ctx, "v3") }()

		select {
		case <-deleted:
			assert.Fail(t, "delete ran while the channel was attaching")
		case <-time.After(20 * time.Millisecond):
		}
		f.notifier.connect("v3")
	})
	require.NoError(t, err)

	require.NoError(t, <-deleted)
	assert.Equal(t, push.ReasonDeleted, f.notifier.closed["v3"])
	assert.False(t, f.notifier.IsConnected("v3"))

	err = f.engine.AttachChannel(ctx, "v3", func() { assert.Fail(t, "attached to a deleted visitor") })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTransitionsLogVisitorID(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() { log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: io.Discard}) })

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Register(ctx, "v1", nil)
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, "v1", "page-42")
	require.NoError(t, err)
	require.NoError(t, f.engine.Delete(ctx, "v1"))

	messages := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		msg, _ := entry["message"].(string)
		id, _ := entry["visitor_id"].(string)
		messages[msg] = id
	}

	assert.Equal(t, "v1", messages["Visitor registered"])
	assert.Equal(t, "v1", messages["Visitor transition committed"])
	assert.Equal(t, "v1", messages["Visitor deleted"])
}

func TestListDerivesConnectionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.engine.Register(ctx, id, nil)
		require.NoError(t, err)
	}
	f.notifier.connect("a")

	// Age "c" past the poll window
	stale, err := f.store.GetVisitor("c")
	require.NoError(t, err)
	stale.LastSeenAt = time.Now().UTC().Add(-2 * DefaultPollWindow)
	require.NoError(t, f.store.UpdateVisitor(stale))

	visitors, err := f.engine.List(ctx)
	require.NoError(t, err)
	require.Len(t, visitors, 3)

	byID := make(map[string]types.ConnectionStatus)
	for _, v := range visitors {
		byID[v.ID] = v.ConnectionStatus
	}
	assert.Equal(t, types.ConnectionConnected, byID["a"])
	assert.Equal(t, types.ConnectionPolling, byID["b"])
	assert.Equal(t, types.ConnectionDisconnected, byID["c"])
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := f.engine.Register(ctx, id, nil)
		require.NoError(t, err)
	}
	_, err := f.engine.Approve(ctx, "a", "")
	require.NoError(t, err)
	_, err = f.engine.Block(ctx, "b")
	require.NoError(t, err)
	f.notifier.connect("c")
	require.NoError(t, f.store.CreateAlert(&types.Alert{ID: "al1", Type: "x", CreatedAt: time.Now()}))

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Visitors.Total)
	assert.Equal(t, 2, stats.Visitors.Pending)
	assert.Equal(t, 1, stats.Visitors.Approved)
	assert.Equal(t, 1, stats.Visitors.Blocked)
	assert.Equal(t, 1, stats.Visitors.Online)
	assert.Equal(t, 1, stats.Alerts.Unread)
}

func TestLockTableReleasesEntries(t *testing.T) {
	table := newLockTable()

	unlockA := table.lock("a")
	unlockB := table.lock("b")
	assert.Equal(t, 2, table.size())

	acquired := make(chan struct{})
	go func() {
		unlock := table.lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	assert.Eventually(t, func() bool { return table.size() == 0 }, time.Second, 5*time.Millisecond)
}
