package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"recsignal/internal/alerting"
	"recsignal/internal/lock"
	"recsignal/internal/logging"
	"recsignal/internal/metrics"
	"recsignal/internal/models"
	"recsignal/internal/store"
)

const (
	DefaultAlertLimit = 200
	MaxAlertLimit     = 1000

	DefaultReadingHours = 24
	MaxReadingHours     = 720
	DefaultReadingLimit = 1000
	MaxReadingLimit     = 10000
)

// Options tune a Service. Zero values pick the defaults.
type Options struct {
	AlertLimit int
	Now        func() time.Time
	HubBuffer  int
}

// Service is the boundary between transports (HTTP, Kafka) and the alert
// engine. Every operation runs in its own unit of work.
type Service struct {
	store      store.Store
	locker     lock.Locker
	logger     *logging.Logger
	hub        *Hub
	now        func() time.Time
	alertLimit int
}

// New constructs a Service.
func New(st store.Store, locker lock.Locker, logger *logging.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.AlertLimit <= 0 || opts.AlertLimit > MaxAlertLimit {
		opts.AlertLimit = DefaultAlertLimit
	}
	return &Service{
		store:      st,
		locker:     locker,
		logger:     logger,
		hub:        NewHub(opts.HubBuffer, logger.Component("hub")),
		now:        opts.Now,
		alertLimit: opts.AlertLimit,
	}
}

// Logger exposes the Service's logger
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Hub exposes the live alert feed.
func (s *Service) Hub() *Hub {
	return s.hub
}

type sourceKey struct{}

// WithSource tags ctx with the transport a batch arrived on, for metrics.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceOf(ctx context.Context) string {
	if src, ok := ctx.Value(sourceKey{}).(string); ok {
		return src
	}
	return "direct"
}

// SubmitBatch stores every reading of sub and evaluates them in order, all
// in one unit of work. The batch's tuple locks are held from before the
// transaction opens until it has committed or rolled back.
func (s *Service) SubmitBatch(ctx context.Context, sub Submission) (BatchResult, error) {
	source := sourceOf(ctx)
	if err := sub.validate(); err != nil {
		metrics.IngestBatchesTotal.WithLabelValues(source, "rejected").Inc()
		return BatchResult{}, err
	}
	start := time.Now()

	server, err := s.registerServer(ctx, sub)
	if err != nil {
		metrics.IngestBatchesTotal.WithLabelValues(source, "failed").Inc()
		return BatchResult{}, err
	}

	keys := sub.alertKeys(server.ID)
	lockKeys := make([]string, len(keys))
	for i, k := range keys {
		lockKeys[i] = lock.Key(k)
	}
	lockStart := time.Now()
	release, err := s.locker.Lock(ctx, lockKeys)
	if err != nil {
		metrics.IngestBatchesTotal.WithLabelValues(source, "failed").Inc()
		return BatchResult{}, fmt.Errorf("acquire tuple locks: %w", err)
	}
	defer release()
	metrics.TupleLockWait.Observe(time.Since(lockStart).Seconds())

	log := s.logger.Component("alerting")
	var (
		result   = BatchResult{ServerID: server.ID}
		outcomes = make(map[alerting.Outcome]int)
		events   []models.AlertEvent
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		result.StoredCount, result.AlertsCreated = 0, 0
		clear(outcomes)

		p := alerting.ForBatch(tx, server, sub.Environment, alerting.LedgerOptions{Now: s.now, Log: log})
		for _, in := range sub.Readings {
			ts := in.Timestamp
			if ts.IsZero() {
				ts = s.now()
			}
			if _, err := tx.Readings().Insert(ctx, models.Reading{
				ServerID:   server.ID,
				MetricType: in.MetricType,
				Value:      in.Value,
				Label:      in.Label,
				Timestamp:  ts,
			}); err != nil {
				return err
			}
			result.StoredCount++

			outcome, err := p.Assess(ctx, in.MetricType, in.Value, in.Label)
			if err != nil {
				return err
			}
			outcomes[outcome]++
			if outcome == alerting.OutcomeCreated {
				result.AlertsCreated++
			}
		}
		events = p.Events()
		return nil
	})
	if err != nil {
		metrics.IngestBatchesTotal.WithLabelValues(source, "failed").Inc()
		s.logger.WithFields(logrus.Fields{"hostname": sub.Hostname, "readings": len(sub.Readings)}).
			Errorf("Batch rolled back: %v", err)
		return BatchResult{}, fmt.Errorf("submit batch for %s: %w", sub.Hostname, err)
	}

	metrics.IngestBatchesTotal.WithLabelValues(source, "committed").Inc()
	metrics.IngestBatchSize.Observe(float64(result.StoredCount))
	metrics.ReadingsStoredTotal.Add(float64(result.StoredCount))
	metrics.IngestBatchDuration.Observe(time.Since(start).Seconds())
	for outcome, n := range outcomes {
		metrics.EvaluationsTotal.WithLabelValues(string(outcome)).Add(float64(n))
	}
	s.hub.Publish(events...)

	s.logger.WithFields(logrus.Fields{"server_id": server.ID, "hostname": server.Hostname}).
		Debugf("Batch committed: stored=%d alerts=%d", result.StoredCount, result.AlertsCreated)
	return result, nil
}

// registerServer gets or creates the batch's server in its own short unit
// of work. A concurrent first registration of the same hostname surfaces
// as store.ErrConflict and is retried once, which then finds the row.
func (s *Service) registerServer(ctx context.Context, sub Submission) (models.Server, error) {
	var server models.Server
	register := func() error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			server, err = tx.Servers().GetOrCreate(ctx, sub.Hostname, sub.Environment, sub.ServerType)
			return err
		})
	}
	err := register()
	if errors.Is(err, store.ErrConflict) {
		err = register()
	}
	if err != nil {
		return models.Server{}, fmt.Errorf("register server %s: %w", sub.Hostname, err)
	}
	return server, nil
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, by string) (models.Alert, error) {
	return s.transition(ctx, id, models.EventAcknowledged, func(ctx context.Context, l *alerting.Ledger) (models.Alert, error) {
		return l.Acknowledge(ctx, id, by)
	})
}

// Resolve moves an OPEN or ACKNOWLEDGED alert to RESOLVED.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (models.Alert, error) {
	return s.transition(ctx, id, models.EventResolved, func(ctx context.Context, l *alerting.Ledger) (models.Alert, error) {
		return l.Resolve(ctx, id)
	})
}

// transition serializes an operator action with ingestion on the alert's
// tuple so it cannot interleave with an auto-resolve of the same alert.
func (s *Service) transition(ctx context.Context, id uuid.UUID, typ models.EventType,
	fn func(ctx context.Context, l *alerting.Ledger) (models.Alert, error)) (models.Alert, error) {
	current, err := s.GetAlert(ctx, id)
	if err != nil {
		return models.Alert{}, err
	}
	release, err := s.locker.Lock(ctx, []string{lock.Key(current.Key())})
	if err != nil {
		return models.Alert{}, fmt.Errorf("acquire tuple lock: %w", err)
	}
	defer release()

	var updated models.Alert
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		updated, err = fn(ctx, alerting.NewLedger(tx.Alerts(), s.now, s.logger.Component("alerting")))
		return err
	})
	if err != nil {
		return models.Alert{}, err
	}
	s.hub.Publish(models.AlertEvent{Type: typ, Alert: updated})
	return updated, nil
}

func (s *Service) GetServer(ctx context.Context, id int64) (models.Server, error) {
	var srv models.Server
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		srv, err = tx.Servers().Get(ctx, id)
		return err
	})
	return srv, err
}

// ListServers returns every registered server ordered by hostname.
func (s *Service) ListServers(ctx context.Context) ([]models.Server, error) {
	var out []models.Server
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Servers().List(ctx)
		return err
	})
	return out, err
}

func (s *Service) GetAlert(ctx context.Context, id uuid.UUID) (models.Alert, error) {
	var a models.Alert
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		a, err = tx.Alerts().Get(ctx, id)
		return err
	})
	return a, err
}

// ListAlerts applies the default limit and caps it at MaxAlertLimit.
func (s *Service) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	if f.Limit <= 0 {
		f.Limit = s.alertLimit
	}
	if f.Limit > MaxAlertLimit {
		f.Limit = MaxAlertLimit
	}
	var out []models.Alert
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Alerts().List(ctx, f)
		return err
	})
	return out, err
}

func (s *Service) AlertSummary(ctx context.Context) ([]models.AlertCount, error) {
	var out []models.AlertCount
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Alerts().Summary(ctx)
		return err
	})
	return out, err
}

// ReadingQuery selects reading history. Hours looks back from now.
type ReadingQuery struct {
	ServerID   int64
	MetricType models.MetricType
	Hours      int
	Limit      int
}

func (s *Service) ListReadings(ctx context.Context, q ReadingQuery) ([]models.Reading, error) {
	if q.Hours == 0 {
		q.Hours = DefaultReadingHours
	}
	if q.Hours < 1 || q.Hours > MaxReadingHours {
		return nil, fmt.Errorf("%w: hours must be between 1 and %d", ErrValidation, MaxReadingHours)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultReadingLimit
	}
	if q.Limit > MaxReadingLimit {
		q.Limit = MaxReadingLimit
	}
	f := models.ReadingFilter{
		ServerID:   q.ServerID,
		MetricType: q.MetricType,
		Since:      s.now().Add(-time.Duration(q.Hours) * time.Hour),
		Limit:      q.Limit,
	}
	var out []models.Reading
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Readings().List(ctx, f)
		return err
	})
	return out, err
}
