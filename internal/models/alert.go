package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is the outcome of classifying a reading. OK never produces a
// stored alert.
type Severity string

const (
	SeverityOK       Severity = "OK"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Breach reports whether sev requires an alert.
func (s Severity) Breach() bool {
	return s == SeverityWarning || s == SeverityCritical
}

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case SeverityOK, SeverityWarning, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusOpen         AlertStatus = "OPEN"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusResolved     AlertStatus = "RESOLVED"
)

// ErrInvalidTransition is returned for lifecycle edges the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid alert status transition")

// IsOpen reports whether the status still counts against the one open
// alert per tuple rule.
func (s AlertStatus) IsOpen() bool {
	return s == StatusOpen || s == StatusAcknowledged
}

func (s AlertStatus) Valid() bool {
	return s == StatusOpen || s == StatusAcknowledged || s == StatusResolved
}

func ParseAlertStatus(s string) (AlertStatus, error) {
	st := AlertStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown alert status %q", s)
	}
	return st, nil
}

// Transition validates moving from s to next. Legal edges are
// OPEN->ACKNOWLEDGED, OPEN->RESOLVED and ACKNOWLEDGED->RESOLVED.
func (s AlertStatus) Transition(next AlertStatus) error {
	switch {
	case s == StatusOpen && next == StatusAcknowledged:
		return nil
	case s.IsOpen() && next == StatusResolved:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}

// AlertKey is the tuple an open alert is unique for.
type AlertKey struct {
	ServerID int64      `json:"server_id"`
	Metric   MetricType `json:"metric"`
	Label    string     `json:"label"`
}

func (k AlertKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.ServerID, k.Metric, k.Label)
}

// Alert is a detected breach and its lifecycle.
type Alert struct {
	ID             uuid.UUID   `json:"id"`
	ServerID       int64       `json:"server_id"`
	Metric         MetricType  `json:"metric"`
	Severity       Severity    `json:"severity"`
	Label          string      `json:"label,omitempty"`
	Value          float64     `json:"value"`
	Message        string      `json:"message"`
	Status         AlertStatus `json:"status"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}

func (a Alert) Key() AlertKey {
	return AlertKey{ServerID: a.ServerID, Metric: a.Metric, Label: a.Label}
}

// StatusChange is applied by AlertStore.UpdateStatus.
type StatusChange struct {
	Status         AlertStatus
	AcknowledgedBy string
	ResolvedAt     *time.Time
}

// Apply returns a copy of a with the change applied, or ErrInvalidTransition.
func (c StatusChange) Apply(a Alert) (Alert, error) {
	if err := a.Status.Transition(c.Status); err != nil {
		return a, err
	}
	a.Status = c.Status
	if c.AcknowledgedBy != "" {
		a.AcknowledgedBy = c.AcknowledgedBy
	}
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		a.ResolvedAt = &at
	}
	return a, nil
}

// AlertFilter narrows alert listings. Zero values mean "any".
type AlertFilter struct {
	Status      AlertStatus
	ServerID    int64
	Severity    Severity
	Environment Environment
	Limit       int
}

// AlertCount is one row of the alert summary.
type AlertCount struct {
	Environment Environment `json:"environment"`
	Severity    Severity    `json:"severity"`
	Status      AlertStatus `json:"status"`
	Count       int         `json:"count"`
}

// AcknowledgeRequest is the body of the acknowledge endpoint.
type AcknowledgeRequest struct {
	AlertID        string `json:"alert_id" binding:"required"`
	AcknowledgedBy string `json:"acknowledged_by" binding:"required,max=100"`
}
