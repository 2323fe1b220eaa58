package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"recsignal/internal/models"
	"recsignal/internal/store"
)

type thresholds struct {
	tx pgx.Tx
}

const thresholdColumns = `id, metric_type, environment, hostname, path_label,
	warning_threshold, critical_threshold, updated_at`

func scanThreshold(row pgx.Row) (models.Threshold, error) {
	var t models.Threshold
	err := row.Scan(&t.ID, &t.MetricType, &t.Environment, &t.Hostname, &t.PathLabel,
		&t.Warning, &t.Critical, &t.UpdatedAt)
	return t, err
}

func collectThresholds(rows pgx.Rows) ([]models.Threshold, error) {
	defer rows.Close()
	var list []models.Threshold
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (s thresholds) Find(ctx context.Context, metric models.MetricType, env models.Environment, hostname, label string) ([]models.Threshold, error) {
	query := `SELECT ` + thresholdColumns + `
	FROM thresholds
	WHERE metric_type = $1 AND environment = $2
	  AND hostname IN ('', $3)
	  AND path_label IN ('', $4)
	ORDER BY id`

	rows, err := s.tx.Query(ctx, query, metric, env, hostname, label)
	if err != nil {
		return nil, fmt.Errorf("failed to find thresholds: %w", err)
	}
	return collectThresholds(rows)
}

func (s thresholds) Upsert(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	if err := t.Validate(); err != nil {
		return models.Threshold{}, err
	}
	query := `
	INSERT INTO thresholds (metric_type, environment, hostname, path_label, warning_threshold, critical_threshold)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (metric_type, environment, hostname, path_label) DO UPDATE
	SET warning_threshold  = EXCLUDED.warning_threshold,
	    critical_threshold = EXCLUDED.critical_threshold,
	    updated_at         = now()
	RETURNING ` + thresholdColumns

	out, err := scanThreshold(s.tx.QueryRow(ctx, query,
		t.MetricType, t.Environment, t.Hostname, t.PathLabel, t.Warning, t.Critical))
	if err != nil {
		return models.Threshold{}, fmt.Errorf("failed to upsert threshold: %w", err)
	}
	return out, nil
}

func (s thresholds) Get(ctx context.Context, id int64) (models.Threshold, error) {
	t, err := scanThreshold(s.tx.QueryRow(ctx, `SELECT `+thresholdColumns+` FROM thresholds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Threshold{}, fmt.Errorf("threshold %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Threshold{}, fmt.Errorf("failed to get threshold: %w", err)
	}
	return t, nil
}

func (s thresholds) Delete(ctx context.Context, id int64) error {
	tag, err := s.tx.Exec(ctx, `DELETE FROM thresholds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("threshold %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s thresholds) List(ctx context.Context) ([]models.Threshold, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+thresholdColumns+` FROM thresholds ORDER BY environment, metric_type, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list thresholds: %w", err)
	}
	return collectThresholds(rows)
}
