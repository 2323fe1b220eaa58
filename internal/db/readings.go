package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"recsignal/internal/models"
)

type readings struct {
	tx pgx.Tx
}

func (s readings) Insert(ctx context.Context, r models.Reading) (models.Reading, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	query := `
	INSERT INTO readings (server_id, metric_type, value, label, ts)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id`

	err := s.tx.QueryRow(ctx, query, r.ServerID, r.MetricType, r.Value, r.Label, r.Timestamp).Scan(&r.ID)
	if err != nil {
		return models.Reading{}, fmt.Errorf("failed to insert reading: %w", err)
	}
	return r, nil
}

// readingListQuery builds the history query for f, newest first.
func readingListQuery(f models.ReadingFilter) (string, []any) {
	query := `
	SELECT id, server_id, metric_type, value, label, ts
	FROM readings
	WHERE TRUE`

	var args []any
	if f.ServerID != 0 {
		args = append(args, f.ServerID)
		query += fmt.Sprintf(" AND server_id = $%d", len(args))
	}
	if f.MetricType != "" {
		args = append(args, f.MetricType)
		query += fmt.Sprintf(" AND metric_type = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s readings) List(ctx context.Context, f models.ReadingFilter) ([]models.Reading, error) {
	query, args := readingListQuery(f)
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get readings: %w", err)
	}
	defer rows.Close()

	var list []models.Reading
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.ID, &r.ServerID, &r.MetricType, &r.Value, &r.Label, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}
