package alerting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"recsignal/internal/models"
	"recsignal/internal/store"
)

// ErrMissingAcknowledger is returned when an acknowledge carries no operator.
var ErrMissingAcknowledger = errors.New("acknowledged_by is required")

// Ledger owns alert lifecycle writes for one transaction.
type Ledger struct {
	alerts store.AlertStore
	now    func() time.Time
	log    logrus.FieldLogger
}

func NewLedger(alerts store.AlertStore, now func() time.Time, log logrus.FieldLogger) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{alerts: alerts, now: now, log: log}
}

// HasOpenAlert reports whether key has an OPEN or ACKNOWLEDGED alert.
func (l *Ledger) HasOpenAlert(ctx context.Context, key models.AlertKey) (bool, error) {
	open, err := l.alerts.FindOpen(ctx, key)
	if err != nil {
		return false, fmt.Errorf("find open alerts for %s: %w", key, err)
	}
	return len(open) > 0, nil
}

// Create inserts a new OPEN alert. The caller has already checked
// HasOpenAlert; a uniqueness conflict from the store comes back wrapped
// around store.ErrConflict.
func (l *Ledger) Create(ctx context.Context, key models.AlertKey, sev models.Severity, value float64, t models.Threshold) (models.Alert, error) {
	a := models.Alert{
		ID:        uuid.New(),
		ServerID:  key.ServerID,
		Metric:    key.Metric,
		Severity:  sev,
		Label:     key.Label,
		Value:     value,
		Message:   Message(key.Metric, value, key.Label, sev, t.Level(sev)),
		Status:    models.StatusOpen,
		CreatedAt: l.now(),
	}
	created, err := l.alerts.Insert(ctx, a)
	if err != nil {
		return models.Alert{}, fmt.Errorf("insert alert for %s: %w", key, err)
	}
	l.log.WithFields(logrus.Fields{
		"alert_id":  created.ID,
		"server_id": key.ServerID,
		"metric":    key.Metric,
		"label":     key.Label,
		"severity":  sev,
		"value":     value,
	}).Warn("alert created")
	return created, nil
}

// AutoResolve resolves every open alert of key and returns them.
func (l *Ledger) AutoResolve(ctx context.Context, key models.AlertKey) ([]models.Alert, error) {
	open, err := l.alerts.FindOpen(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find open alerts for %s: %w", key, err)
	}
	if len(open) == 0 {
		return nil, nil
	}
	now := l.now()
	resolved := make([]models.Alert, 0, len(open))
	for _, a := range open {
		updated, err := l.alerts.UpdateStatus(ctx, a.ID, models.StatusChange{
			Status:     models.StatusResolved,
			ResolvedAt: &now,
		})
		if err != nil {
			return nil, fmt.Errorf("auto-resolve alert %s: %w", a.ID, err)
		}
		resolved = append(resolved, updated)
	}
	l.log.WithFields(logrus.Fields{
		"server_id": key.ServerID,
		"metric":    key.Metric,
		"label":     key.Label,
		"count":     len(resolved),
	}).Info("alerts auto-resolved")
	return resolved, nil
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED.
func (l *Ledger) Acknowledge(ctx context.Context, id uuid.UUID, by string) (models.Alert, error) {
	if by == "" {
		return models.Alert{}, ErrMissingAcknowledger
	}
	cur, err := l.alerts.Get(ctx, id)
	if err != nil {
		return models.Alert{}, err
	}
	if cur.Status != models.StatusOpen {
		return models.Alert{}, fmt.Errorf("alert %s is %s, only OPEN alerts can be acknowledged: %w",
			id, cur.Status, models.ErrInvalidTransition)
	}
	updated, err := l.alerts.UpdateStatus(ctx, id, models.StatusChange{
		Status:         models.StatusAcknowledged,
		AcknowledgedBy: by,
	})
	if err != nil {
		return models.Alert{}, err
	}
	l.log.WithFields(logrus.Fields{"alert_id": id, "by": by}).Info("alert acknowledged")
	return updated, nil
}

// Resolve moves an OPEN or ACKNOWLEDGED alert to RESOLVED.
func (l *Ledger) Resolve(ctx context.Context, id uuid.UUID) (models.Alert, error) {
	cur, err := l.alerts.Get(ctx, id)
	if err != nil {
		return models.Alert{}, err
	}
	if cur.Status == models.StatusResolved {
		return models.Alert{}, fmt.Errorf("alert %s is already resolved: %w", id, models.ErrInvalidTransition)
	}
	now := l.now()
	updated, err := l.alerts.UpdateStatus(ctx, id, models.StatusChange{
		Status:     models.StatusResolved,
		ResolvedAt: &now,
	})
	if err != nil {
		return models.Alert{}, err
	}
	l.log.WithField("alert_id", id).Info("alert resolved")
	return updated, nil
}

// Message renders the human readable alert text, e.g.
// "DISK_USAGE is 92.0% on [/] (CRITICAL threshold: 90)".
func Message(metric models.MetricType, value float64, label string, sev models.Severity, level float64) string {
	where := "server"
	if label != "" {
		where = "[" + label + "]"
	}
	return fmt.Sprintf("%s is %.1f%s on %s (%s threshold: %s)",
		metric, value, metric.Unit(), where, sev, strconv.FormatFloat(level, 'f', -1, 64))
}
