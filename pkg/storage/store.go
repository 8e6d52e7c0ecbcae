package storage

import (
	"errors"

	"github.com/cuemby/lobby/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for visitor and alert persistence.
// Callers serialise writes per visitor; the store itself only guarantees
// that each call is atomic.
type Store interface {
	// Visitors
	CreateVisitor(visitor *types.Visitor) error
	GetVisitor(id string) (*types.Visitor, error)
	ListVisitors() ([]*types.Visitor, error)
	UpdateVisitor(visitor *types.Visitor) error
	DeleteVisitor(id string) error

	// Alerts
	CreateAlert(alert *types.Alert) error
	ListAlerts() ([]*types.Alert, error)
	MarkAlertRead(id string) error
	MarkAllAlertsRead() error
	DeleteAlert(id string) error
	CountUnreadAlerts() (int, error)

	// Utility
	Close() error
}
