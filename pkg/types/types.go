package types

import (
	"time"
)

// VisitorState is the lifecycle state of a visitor
type VisitorState string

const (
	VisitorStatePending  VisitorState = "pending"
	VisitorStateApproved VisitorState = "approved"
	VisitorStateBlocked  VisitorState = "blocked"
)

// Terminal reports whether the state is a decision (approved or blocked)
func (s VisitorState) Terminal() bool {
	return s == VisitorStateApproved || s == VisitorStateBlocked
}

// ConnectionStatus is derived from live transports and never persisted
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionPolling      ConnectionStatus = "polling"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Visitor is the authoritative record of one gated client
type Visitor struct {
	ID         string            `json:"id"`
	State      VisitorState      `json:"state"`
	ContentRef string            `json:"contentRef,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Enrichment map[string]string `json:"enrichment,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	LastSeenAt time.Time         `json:"lastSeenAt"`

	ConnectionStatus ConnectionStatus `json:"connectionStatus,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines
func (v *Visitor) Clone() *Visitor {
	if v == nil {
		return nil
	}
	c := *v
	c.Metadata = cloneMap(v.Metadata)
	c.Enrichment = cloneMap(v.Enrichment)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// VisitorStatus is what a visitor observes, by poll or by push
type VisitorStatus struct {
	State      VisitorState `json:"state"`
	ContentRef string       `json:"contentRef,omitempty"`
	Content    string       `json:"content,omitempty"`
}

// AdminEventKind identifies an operator-facing event
type AdminEventKind string

const (
	EventNewVisitor     AdminEventKind = "new_visitor"
	EventVisitorUpdated AdminEventKind = "visitor_updated"
	EventVisitorDeleted AdminEventKind = "visitor_deleted"
	EventNewAlert       AdminEventKind = "new_alert"
	EventVisitorOnline  AdminEventKind = "visitor_online"
	EventVisitorOffline AdminEventKind = "visitor_offline"
)

// ChangesStats reports whether operators should refresh aggregate stats after
// an event of this kind. Presence events carry their own online count.
func (k AdminEventKind) ChangesStats() bool {
	switch k {
	case EventNewVisitor, EventVisitorUpdated, EventVisitorDeleted, EventNewAlert:
		return true
	default:
		return false
	}
}

// AdminEvent is fanned out to every operator connection
type AdminEvent struct {
	Kind      AdminEventKind `json:"kind"`
	VisitorID string         `json:"visitorId,omitempty"`
	Visitor   *Visitor       `json:"visitor,omitempty"`
	Alert     *Alert         `json:"alert,omitempty"`
	Online    *int           `json:"online,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertSeverity grades an alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a system notification owned by the alerts collaborator
type Alert struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Severity  AlertSeverity `json:"severity"`
	Read      bool          `json:"read"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Page is a content catalog entry shown to approved visitors
type Page struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Content   string `json:"content,omitempty" yaml:"content"`
	IsDefault bool   `json:"isDefault" yaml:"default"`
}

// Stats aggregates counters shown on the operator dashboard
type Stats struct {
	Visitors VisitorStats `json:"visitors"`
	Alerts   AlertStats   `json:"alerts"`
}

// VisitorStats counts visitors by state and presence
type VisitorStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Blocked  int `json:"blocked"`
	Online   int `json:"online"`
}

// AlertStats counts alerts
type AlertStats struct {
	Unread int `json:"unread"`
}
