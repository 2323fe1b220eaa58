package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"recsignal/internal/models"
	"recsignal/internal/store"
)

type servers struct {
	tx pgx.Tx
}

const serverColumns = `id, hostname, environment, server_type, active, created_at`

func scanServer(row pgx.Row) (models.Server, error) {
	var srv models.Server
	err := row.Scan(&srv.ID, &srv.Hostname, &srv.Environment, &srv.Type, &srv.Active, &srv.CreatedAt)
	return srv, err
}

// GetOrCreate registers hostname on first sight. An existing row is
// returned unchanged; the no-op update makes RETURNING yield it.
func (s servers) GetOrCreate(ctx context.Context, hostname string, env models.Environment, typ models.ServerType) (models.Server, error) {
	query := `
	INSERT INTO servers (hostname, environment, server_type)
	VALUES ($1, $2, $3)
	ON CONFLICT (hostname) DO UPDATE SET hostname = EXCLUDED.hostname
	RETURNING ` + serverColumns

	srv, err := scanServer(s.tx.QueryRow(ctx, query, hostname, env, typ))
	if err != nil {
		return models.Server{}, fmt.Errorf("failed to register server %s: %w", hostname, err)
	}
	return srv, nil
}

func (s servers) Get(ctx context.Context, id int64) (models.Server, error) {
	srv, err := scanServer(s.tx.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Server{}, fmt.Errorf("server %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Server{}, fmt.Errorf("failed to get server: %w", err)
	}
	return srv, nil
}

func (s servers) List(ctx context.Context) ([]models.Server, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	list := []models.Server{}
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		list = append(list, srv)
	}
	return list, rows.Err()
}
