// Package alerts owns operator alerts: persistence, read state and deletion.
// Every new alert is relayed on the admin event bus as a new_alert event.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/storage"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned for an unknown alert id
var ErrNotFound = storage.ErrNotFound

// ErrInvalidAlert is returned when an alert has no type or message
var ErrInvalidAlert = errors.New("alert type and message are required")

// Publisher is the admin event bus
type Publisher interface {
	Publish(event *types.AdminEvent)
}

// Service manages alerts
type Service struct {
	store     storage.Store
	publisher Publisher
	logger    zerolog.Logger
}

// NewService creates an alert service. publisher may be nil.
func NewService(store storage.Store, publisher Publisher) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    log.WithComponent("alerts"),
	}
}

// Publish persists a new unread alert and relays it to operators
func (s *Service) Publish(ctx context.Context, alertType, message string, severity types.AlertSeverity) (*types.Alert, error) {
	alertType = strings.TrimSpace(alertType)
	message = strings.TrimSpace(message)
	if alertType == "" || message == "" {
		return nil, ErrInvalidAlert
	}

	switch severity {
	case types.SeverityInfo, types.SeverityWarning, types.SeverityCritical:
	default:
		severity = types.SeverityInfo
	}

	alert := &types.Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAlert(alert); err != nil {
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}

	if s.publisher != nil {
		snapshot := *alert
		s.publisher.Publish(&types.AdminEvent{Kind: types.EventNewAlert, Alert: &snapshot})
	}

	s.logger.Debug().
		Str("alert_id", alert.ID).
		Str("type", alertType).
		Str("severity", string(severity)).
		Msg("Alert published")
	return alert, nil
}

// List returns alerts, newest first
func (s *Service) List(ctx context.Context) ([]*types.Alert, error) {
	alerts, err := s.store.ListAlerts()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// MarkRead marks one alert read
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkAlertRead(id)
}

// MarkAllRead marks every alert read
func (s *Service) MarkAllRead(ctx context.Context) error {
	return s.store.MarkAllAlertsRead()
}

// Delete removes an alert
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteAlert(id)
}

// UnreadCount returns the number of unread alerts
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	return s.store.CountUnreadAlerts()
}
