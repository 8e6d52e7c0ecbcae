package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/lobby/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestVisitorCRUD(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	v := &types.Visitor{
		ID:         "v1",
		State:      types.VisitorStatePending,
		Metadata:   map[string]string{"userAgent": "Mozilla/5.0"},
		CreatedAt:  now,
		LastSeenAt: now,
	}
	require.NoError(t, store.CreateVisitor(v))

	got, err := store.GetVisitor("v1")
	require.NoError(t, err)
	assert.Equal(t, types.VisitorStatePending, got.State)
	assert.Equal(t, "Mozilla/5.0", got.Metadata["userAgent"])

	got.State = types.VisitorStateApproved
	got.ContentRef = "page-42"
	require.NoError(t, store.UpdateVisitor(got))

	got, err = store.GetVisitor("v1")
	require.NoError(t, err)
	assert.Equal(t, types.VisitorStateApproved, got.State)
	assert.Equal(t, "page-42", got.ContentRef)

	require.NoError(t, store.DeleteVisitor("v1"))
	_, err = store.GetVisitor("v1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetVisitorNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetVisitor("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteVisitor("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListVisitorsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateVisitor(&types.Visitor{
			ID:        id,
			State:     types.VisitorStatePending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	visitors, err := store.ListVisitors()
	require.NoError(t, err)
	require.Len(t, visitors, 3)
	assert.Equal(t, "c", visitors[0].ID)
	assert.Equal(t, "a", visitors[2].ID)
}

func TestAlerts(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"al-1", "al-2", "al-3"} {
		require.NoError(t, store.CreateAlert(&types.Alert{
			ID:        id,
			Type:      "visitor",
			Message:   "msg " + id,
			Severity:  types.SeverityInfo,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	unread, err := store.CountUnreadAlerts()
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	require.NoError(t, store.MarkAlertRead("al-2"))
	unread, err = store.CountUnreadAlerts()
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	assert.ErrorIs(t, store.MarkAlertRead("nope"), ErrNotFound)

	require.NoError(t, store.MarkAllAlertsRead())
	unread, err = store.CountUnreadAlerts()
	require.NoError(t, err)
	assert.Zero(t, unread)

	require.NoError(t, store.DeleteAlert("al-1"))
	assert.ErrorIs(t, store.DeleteAlert("al-1"), ErrNotFound)

	alerts, err := store.ListAlerts()
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "al-3", alerts[0].ID)
	assert.True(t, alerts[0].Read)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.CreateVisitor(&types.Visitor{ID: "persist", State: types.VisitorStateBlocked}))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	v, err := store.GetVisitor("persist")
	require.NoError(t, err)
	assert.Equal(t, types.VisitorStateBlocked, v.State)
}
