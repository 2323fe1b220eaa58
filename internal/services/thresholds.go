package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"recsignal/internal/models"
	"recsignal/internal/store"
)

// UpsertThreshold validates t and inserts or replaces the row with the same
// metric, environment, hostname and path label.
func (s *Service) UpsertThreshold(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	if err := t.Validate(); err != nil {
		return models.Threshold{}, err
	}
	var out models.Threshold
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Thresholds().Upsert(ctx, t)
		return err
	})
	if err != nil {
		return models.Threshold{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"metric":      out.MetricType,
		"environment": out.Environment,
		"hostname":    out.Hostname,
		"label":       out.PathLabel,
	}).Infof("Threshold %d set to warning=%g critical=%g", out.ID, out.Warning, out.Critical)
	return out, nil
}

func (s *Service) DeleteThreshold(ctx context.Context, id int64) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Thresholds().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Threshold %d deleted", id)
	return nil
}

func (s *Service) GetThreshold(ctx context.Context, id int64) (models.Threshold, error) {
	var t models.Threshold
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		t, err = tx.Thresholds().Get(ctx, id)
		return err
	})
	return t, err
}

func (s *Service) ListThresholds(ctx context.Context) ([]models.Threshold, error) {
	var out []models.Threshold
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Thresholds().List(ctx)
		return err
	})
	return out, err
}

// SeedThresholds inserts the default global levels that are not configured
// yet and leaves existing rows untouched. It returns how many were added.
func SeedThresholds(ctx context.Context, st store.Store) (int, error) {
	type slot struct {
		metric models.MetricType
		env    models.Environment
	}
	added := 0
	err := st.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		added = 0
		existing, err := tx.Thresholds().List(ctx)
		if err != nil {
			return err
		}
		have := make(map[slot]bool, len(existing))
		for _, t := range existing {
			if t.Hostname == "" && t.PathLabel == "" {
				have[slot{t.MetricType, t.Environment}] = true
			}
		}
		for _, t := range models.DefaultThresholds() {
			if have[slot{t.MetricType, t.Environment}] {
				continue
			}
			if _, err := tx.Thresholds().Upsert(ctx, t); err != nil {
				return fmt.Errorf("seed %s/%s: %w", t.MetricType, t.Environment, err)
			}
			added++
		}
		return nil
	})
	return added, err
}
