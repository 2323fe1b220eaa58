// Package store defines the persistence contracts the alert engine runs
// against and an in-memory implementation of them.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"recsignal/internal/models"
)

var (
	// ErrNotFound is returned when an alert, threshold or server does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert loses against a uniqueness
	// constraint, e.g. a second open alert for the same tuple.
	ErrConflict = errors.New("conflict")
)

// Store opens units of work. fn runs inside one transaction which is
// committed only if fn returns nil and ctx is still live; every other exit
// path, panics included, rolls back.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx groups the table-level stores of one transaction.
type Tx interface {
	Readings() ReadingStore
	Thresholds() ThresholdStore
	Alerts() AlertStore
	Servers() ServerStore
}

type ReadingStore interface {
	Insert(ctx context.Context, r models.Reading) (models.Reading, error)
	List(ctx context.Context, f models.ReadingFilter) ([]models.Reading, error)
}

type ThresholdStore interface {
	// Find returns every row for metric/env whose hostname is hostname or ""
	// and whose path label is label or "".
	Find(ctx context.Context, metric models.MetricType, env models.Environment, hostname, label string) ([]models.Threshold, error)
	// Upsert inserts or replaces the row with the same metric, environment,
	// hostname and path label. It rejects warning >= critical.
	Upsert(ctx context.Context, t models.Threshold) (models.Threshold, error)
	Get(ctx context.Context, id int64) (models.Threshold, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]models.Threshold, error)
}

type AlertStore interface {
	FindOpen(ctx context.Context, key models.AlertKey) ([]models.Alert, error)
	Insert(ctx context.Context, a models.Alert) (models.Alert, error)
	Get(ctx context.Context, id uuid.UUID) (models.Alert, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, change models.StatusChange) (models.Alert, error)
	List(ctx context.Context, f models.AlertFilter) ([]models.Alert, error)
	Summary(ctx context.Context) ([]models.AlertCount, error)
}

type ServerStore interface {
	GetOrCreate(ctx context.Context, hostname string, env models.Environment, typ models.ServerType) (models.Server, error)
	Get(ctx context.Context, id int64) (models.Server, error)
	List(ctx context.Context) ([]models.Server, error)
}
