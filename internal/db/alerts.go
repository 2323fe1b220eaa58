package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"recsignal/internal/models"
	"recsignal/internal/store"
)

type alerts struct {
	tx pgx.Tx
}

const alertColumns = `a.id, a.server_id, a.metric_type, a.severity, a.label, a.value, a.message,
	a.status, a.acknowledged_by, a.created_at, a.resolved_at`

func scanAlert(row pgx.Row) (models.Alert, error) {
	var a models.Alert
	err := row.Scan(&a.ID, &a.ServerID, &a.Metric, &a.Severity, &a.Label, &a.Value, &a.Message,
		&a.Status, &a.AcknowledgedBy, &a.CreatedAt, &a.ResolvedAt)
	return a, err
}

func collectAlerts(rows pgx.Rows) ([]models.Alert, error) {
	defer rows.Close()
	var list []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s alerts) FindOpen(ctx context.Context, key models.AlertKey) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + `
	FROM alerts a
	WHERE a.server_id = $1 AND a.metric_type = $2 AND a.label = $3
	  AND a.status IN ('OPEN', 'ACKNOWLEDGED')
	ORDER BY a.created_at DESC`

	rows, err := s.tx.Query(ctx, query, key.ServerID, key.Metric, key.Label)
	if err != nil {
		return nil, fmt.Errorf("failed to find open alerts: %w", err)
	}
	return collectAlerts(rows)
}

// Insert writes a new alert. Losing against the one-open-alert-per-tuple
// index is reported as store.ErrConflict.
func (s alerts) Insert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	query := `
	INSERT INTO alerts (
		id, server_id, metric_type, severity, label, value, message, status, acknowledged_by, created_at, resolved_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
	)
	ON CONFLICT DO NOTHING`

	tag, err := s.tx.Exec(ctx, query,
		a.ID,
		a.ServerID,
		a.Metric,
		a.Severity,
		a.Label,
		a.Value,
		a.Message,
		a.Status,
		a.AcknowledgedBy,
		a.CreatedAt,
		a.ResolvedAt,
	)
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to insert alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Alert{}, fmt.Errorf("open alert for %s: %w", a.Key(), store.ErrConflict)
	}
	return a, nil
}

func (s alerts) Get(ctx context.Context, id uuid.UUID) (models.Alert, error) {
	a, err := scanAlert(s.tx.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts a WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// UpdateStatus locks the row, validates the transition and writes it.
func (s alerts) UpdateStatus(ctx context.Context, id uuid.UUID, change models.StatusChange) (models.Alert, error) {
	cur, err := scanAlert(s.tx.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts a WHERE a.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to lock alert: %w", err)
	}
	updated, err := change.Apply(cur)
	if err != nil {
		return models.Alert{}, err
	}

	query := `
	UPDATE alerts
	SET status = $2, acknowledged_by = $3, resolved_at = $4
	WHERE id = $1`
	if _, err := s.tx.Exec(ctx, query, id, updated.Status, updated.AcknowledgedBy, updated.ResolvedAt); err != nil {
		return models.Alert{}, fmt.Errorf("failed to update alert: %w", err)
	}
	return updated, nil
}

// alertListQuery builds the filtered listing, newest first.
func alertListQuery(f models.AlertFilter) (string, []any) {
	query := `SELECT ` + alertColumns + `
	FROM alerts a
	JOIN servers s ON s.id = a.server_id
	WHERE TRUE`

	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND a.status = $%d", len(args))
	}
	if f.ServerID != 0 {
		args = append(args, f.ServerID)
		query += fmt.Sprintf(" AND a.server_id = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		query += fmt.Sprintf(" AND a.severity = $%d", len(args))
	}
	if f.Environment != "" {
		args = append(args, f.Environment)
		query += fmt.Sprintf(" AND s.environment = $%d", len(args))
	}
	query += " ORDER BY a.created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s alerts) List(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	query, args := alertListQuery(f)
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return collectAlerts(rows)
}

func (s alerts) Summary(ctx context.Context) ([]models.AlertCount, error) {
	query := `
	SELECT s.environment, a.severity, a.status, COUNT(*)
	FROM alerts a
	JOIN servers s ON s.id = a.server_id
	GROUP BY s.environment, a.severity, a.status
	ORDER BY s.environment, a.severity, a.status`

	rows, err := s.tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize alerts: %w", err)
	}
	defer rows.Close()

	var out []models.AlertCount
	for rows.Next() {
		var c models.AlertCount
		if err := rows.Scan(&c.Environment, &c.Severity, &c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
