package db

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		id          BIGSERIAL PRIMARY KEY,
		hostname    TEXT        NOT NULL UNIQUE,
		environment TEXT        NOT NULL,
		server_type TEXT        NOT NULL,
		active      BOOLEAN     NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS readings (
		id          BIGSERIAL PRIMARY KEY,
		server_id   BIGINT           NOT NULL REFERENCES servers(id),
		metric_type TEXT             NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		label       TEXT             NOT NULL DEFAULT '',
		ts          TIMESTAMPTZ      NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS readings_server_metric_ts
		ON readings (server_id, metric_type, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS thresholds (
		id                 BIGSERIAL PRIMARY KEY,
		metric_type        TEXT             NOT NULL,
		environment        TEXT             NOT NULL,
		hostname           TEXT             NOT NULL DEFAULT '',
		path_label         TEXT             NOT NULL DEFAULT '',
		warning_threshold  DOUBLE PRECISION NOT NULL,
		critical_threshold DOUBLE PRECISION NOT NULL,
		updated_at         TIMESTAMPTZ      NOT NULL DEFAULT now(),
		UNIQUE (metric_type, environment, hostname, path_label),
		CHECK (warning_threshold < critical_threshold)
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id              UUID PRIMARY KEY,
		server_id       BIGINT           NOT NULL REFERENCES servers(id),
		metric_type     TEXT             NOT NULL,
		severity        TEXT             NOT NULL,
		label           TEXT             NOT NULL DEFAULT '',
		value           DOUBLE PRECISION NOT NULL,
		message         TEXT             NOT NULL,
		status          TEXT             NOT NULL,
		acknowledged_by TEXT             NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ      NOT NULL DEFAULT now(),
		resolved_at     TIMESTAMPTZ
	)`,
	// At most one OPEN or ACKNOWLEDGED alert per tuple.
	`CREATE UNIQUE INDEX IF NOT EXISTS alerts_one_open_per_tuple
		ON alerts (server_id, metric_type, label)
		WHERE status IN ('OPEN', 'ACKNOWLEDGED')`,
	`CREATE INDEX IF NOT EXISTS alerts_status_created
		ON alerts (status, created_at DESC)`,
}

// Migrate creates the tables and indexes if they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
