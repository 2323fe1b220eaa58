package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"recsignal/internal/models"
)

// Memory is an in-process Store. Transactions see committed state plus
// their own pending writes and publish those writes atomically on commit,
// which gives read-committed isolation: two overlapping transactions do
// not see each other's uncommitted rows.
type Memory struct {
	mu         sync.RWMutex
	readings   []models.Reading
	thresholds map[int64]models.Threshold
	alerts     map[uuid.UUID]memAlert
	servers    map[int64]models.Server

	seq           int64
	nextReading   int64
	nextThreshold int64
	nextServer    int64

	now func() time.Time
}

type memAlert struct {
	alert models.Alert
	seq   int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		thresholds: make(map[int64]models.Threshold),
		alerts:     make(map[uuid.UUID]memAlert),
		servers:    make(map[int64]models.Server),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for created/updated timestamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		m:          m,
		thresholds: make(map[int64]*models.Threshold),
		alerts:     make(map[uuid.UUID]memAlert),
		servers:    make(map[int64]models.Server),
	}
	// A panic in fn unwinds past here and the pending writes are dropped.
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range tx.servers {
		for _, existing := range m.servers {
			if existing.Hostname == s.Hostname {
				return fmt.Errorf("server %s: %w", s.Hostname, ErrConflict)
			}
		}
	}
	if err := m.checkAlerts(tx); err != nil {
		return err
	}
	if err := m.checkThresholds(tx); err != nil {
		return err
	}
	for id, s := range tx.servers {
		m.servers[id] = s
	}
	m.readings = append(m.readings, tx.readings...)
	for id, t := range tx.thresholds {
		if t == nil {
			delete(m.thresholds, id)
			continue
		}
		m.thresholds[id] = *t
	}
	for id, a := range tx.alerts {
		m.alerts[id] = a
	}
	return nil
}

// checkAlerts enforces one open alert per tuple against rows committed
// since tx read them. The caller holds m.mu.
func (m *Memory) checkAlerts(tx *memTx) error {
	for id, a := range tx.alerts {
		if !a.alert.Status.IsOpen() {
			continue
		}
		for otherID, other := range m.alerts {
			if otherID == id || !other.alert.Status.IsOpen() || other.alert.Key() != a.alert.Key() {
				continue
			}
			if pending, ok := tx.alerts[otherID]; ok && !pending.alert.Status.IsOpen() {
				continue
			}
			return fmt.Errorf("open alert for %s: %w", a.alert.Key(), ErrConflict)
		}
	}
	return nil
}

// checkThresholds enforces the metric/environment/hostname/label key. The
// caller holds m.mu.
func (m *Memory) checkThresholds(tx *memTx) error {
	for id, t := range tx.thresholds {
		if t == nil {
			continue
		}
		for otherID, other := range m.thresholds {
			if otherID == id || other.MetricType != t.MetricType || other.Environment != t.Environment ||
				other.Hostname != t.Hostname || other.PathLabel != t.PathLabel {
				continue
			}
			if _, touched := tx.thresholds[otherID]; touched {
				continue
			}
			return fmt.Errorf("threshold %s/%s/%s/%s: %w", t.MetricType, t.Environment, t.Hostname, t.PathLabel, ErrConflict)
		}
	}
	return nil
}

func (m *Memory) nextID(counter *int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter++
	return *counter
}

// OpenAlertCount counts OPEN/ACKNOWLEDGED alerts for key in committed state.
func (m *Memory) OpenAlertCount(key models.AlertKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.alerts {
		if a.alert.Key() == key && a.alert.Status.IsOpen() {
			n++
		}
	}
	return n
}

// ReadingCount returns the number of committed readings.
func (m *Memory) ReadingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings)
}

type memTx struct {
	m          *Memory
	readings   []models.Reading
	thresholds map[int64]*models.Threshold // nil marks a delete
	alerts     map[uuid.UUID]memAlert
	servers    map[int64]models.Server
}

func (tx *memTx) Readings() ReadingStore     { return memReadings{tx} }
func (tx *memTx) Thresholds() ThresholdStore { return memThresholds{tx} }
func (tx *memTx) Alerts() AlertStore         { return memAlerts{tx} }
func (tx *memTx) Servers() ServerStore       { return memServers{tx} }

// thresholdView merges committed rows with this transaction's writes.
func (tx *memTx) thresholdView() map[int64]models.Threshold {
	tx.m.mu.RLock()
	view := make(map[int64]models.Threshold, len(tx.m.thresholds))
	for id, t := range tx.m.thresholds {
		view[id] = t
	}
	tx.m.mu.RUnlock()
	for id, t := range tx.thresholds {
		if t == nil {
			delete(view, id)
			continue
		}
		view[id] = *t
	}
	return view
}

func (tx *memTx) alertView() map[uuid.UUID]memAlert {
	tx.m.mu.RLock()
	view := make(map[uuid.UUID]memAlert, len(tx.m.alerts))
	for id, a := range tx.m.alerts {
		view[id] = a
	}
	tx.m.mu.RUnlock()
	for id, a := range tx.alerts {
		view[id] = a
	}
	return view
}

func (tx *memTx) serverView() map[int64]models.Server {
	tx.m.mu.RLock()
	view := make(map[int64]models.Server, len(tx.m.servers))
	for id, s := range tx.m.servers {
		view[id] = s
	}
	tx.m.mu.RUnlock()
	for id, s := range tx.servers {
		view[id] = s
	}
	return view
}

type memReadings struct{ tx *memTx }

func (s memReadings) Insert(ctx context.Context, r models.Reading) (models.Reading, error) {
	if err := ctx.Err(); err != nil {
		return models.Reading{}, err
	}
	r.ID = s.tx.m.nextID(&s.tx.m.nextReading)
	if r.Timestamp.IsZero() {
		r.Timestamp = s.tx.m.now()
	}
	s.tx.readings = append(s.tx.readings, r)
	return r, nil
}

func (s memReadings) List(ctx context.Context, f models.ReadingFilter) ([]models.Reading, error) {
	s.tx.m.mu.RLock()
	all := append([]models.Reading(nil), s.tx.m.readings...)
	s.tx.m.mu.RUnlock()
	all = append(all, s.tx.readings...)

	var out []models.Reading
	for _, r := range all {
		if f.ServerID != 0 && r.ServerID != f.ServerID {
			continue
		}
		if f.MetricType != "" && r.MetricType != f.MetricType {
			continue
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type memThresholds struct{ tx *memTx }

func (s memThresholds) Find(ctx context.Context, metric models.MetricType, env models.Environment, hostname, label string) ([]models.Threshold, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Threshold
	for _, t := range s.tx.thresholdView() {
		if t.MetricType != metric || t.Environment != env {
			continue
		}
		if t.Hostname != "" && t.Hostname != hostname {
			continue
		}
		if t.PathLabel != "" && t.PathLabel != label {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memThresholds) Upsert(ctx context.Context, t models.Threshold) (models.Threshold, error) {
	if err := t.Validate(); err != nil {
		return models.Threshold{}, err
	}
	t.UpdatedAt = s.tx.m.now()
	for id, existing := range s.tx.thresholdView() {
		if existing.MetricType == t.MetricType && existing.Environment == t.Environment &&
			existing.Hostname == t.Hostname && existing.PathLabel == t.PathLabel {
			t.ID = id
			s.tx.thresholds[id] = &t
			return t, nil
		}
	}
	t.ID = s.tx.m.nextID(&s.tx.m.nextThreshold)
	s.tx.thresholds[t.ID] = &t
	return t, nil
}

func (s memThresholds) Get(ctx context.Context, id int64) (models.Threshold, error) {
	t, ok := s.tx.thresholdView()[id]
	if !ok {
		return models.Threshold{}, fmt.Errorf("threshold %d: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s memThresholds) Delete(ctx context.Context, id int64) error {
	if _, ok := s.tx.thresholdView()[id]; !ok {
		return fmt.Errorf("threshold %d: %w", id, ErrNotFound)
	}
	s.tx.thresholds[id] = nil
	return nil
}

func (s memThresholds) List(ctx context.Context) ([]models.Threshold, error) {
	var out []models.Threshold
	for _, t := range s.tx.thresholdView() {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Environment != out[j].Environment {
			return out[i].Environment < out[j].Environment
		}
		if out[i].MetricType != out[j].MetricType {
			return out[i].MetricType < out[j].MetricType
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memAlerts struct{ tx *memTx }

func (s memAlerts) FindOpen(ctx context.Context, key models.AlertKey) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []memAlert
	for _, a := range s.tx.alertView() {
		if a.alert.Key() == key && a.alert.Status.IsOpen() {
			out = append(out, a)
		}
	}
	return sortedAlerts(out), nil
}

func (s memAlerts) Insert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return models.Alert{}, err
	}
	if a.Status.IsOpen() {
		open, _ := s.FindOpen(ctx, a.Key())
		if len(open) > 0 {
			return models.Alert{}, fmt.Errorf("open alert for %s: %w", a.Key(), ErrConflict)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.tx.m.now()
	}
	s.tx.alerts[a.ID] = memAlert{alert: a, seq: s.tx.m.nextID(&s.tx.m.seq)}
	return a, nil
}

func (s memAlerts) Get(ctx context.Context, id uuid.UUID) (models.Alert, error) {
	a, ok := s.tx.alertView()[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return a.alert, nil
}

func (s memAlerts) UpdateStatus(ctx context.Context, id uuid.UUID, change models.StatusChange) (models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return models.Alert{}, err
	}
	cur, ok := s.tx.alertView()[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	updated, err := change.Apply(cur.alert)
	if err != nil {
		return models.Alert{}, err
	}
	s.tx.alerts[id] = memAlert{alert: updated, seq: cur.seq}
	return updated, nil
}

func (s memAlerts) List(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	servers := s.tx.serverView()
	var matched []memAlert
	for _, a := range s.tx.alertView() {
		if f.Status != "" && a.alert.Status != f.Status {
			continue
		}
		if f.ServerID != 0 && a.alert.ServerID != f.ServerID {
			continue
		}
		if f.Severity != "" && a.alert.Severity != f.Severity {
			continue
		}
		if f.Environment != "" && servers[a.alert.ServerID].Environment != f.Environment {
			continue
		}
		matched = append(matched, a)
	}
	out := sortedAlerts(matched)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s memAlerts) Summary(ctx context.Context) ([]models.AlertCount, error) {
	servers := s.tx.serverView()
	counts := make(map[models.AlertCount]int)
	for _, a := range s.tx.alertView() {
		k := models.AlertCount{
			Environment: servers[a.alert.ServerID].Environment,
			Severity:    a.alert.Severity,
			Status:      a.alert.Status,
		}
		counts[k]++
	}
	out := make([]models.AlertCount, 0, len(counts))
	for k, n := range counts {
		k.Count = n
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Environment != out[j].Environment {
			return out[i].Environment < out[j].Environment
		}
		if out[i].Severity != out[j].Severity {
			return out[i].Severity < out[j].Severity
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// sortedAlerts orders newest first, insertion order breaking timestamp ties.
func sortedAlerts(in []memAlert) []models.Alert {
	sort.Slice(in, func(i, j int) bool {
		if !in[i].alert.CreatedAt.Equal(in[j].alert.CreatedAt) {
			return in[i].alert.CreatedAt.After(in[j].alert.CreatedAt)
		}
		return in[i].seq > in[j].seq
	})
	out := make([]models.Alert, len(in))
	for i, a := range in {
		out[i] = a.alert
	}
	return out
}

type memServers struct{ tx *memTx }

func (s memServers) GetOrCreate(ctx context.Context, hostname string, env models.Environment, typ models.ServerType) (models.Server, error) {
	for _, srv := range s.tx.serverView() {
		if srv.Hostname == hostname {
			return srv, nil
		}
	}
	srv := models.Server{
		ID:          s.tx.m.nextID(&s.tx.m.nextServer),
		Hostname:    hostname,
		Environment: env,
		Type:        typ,
		Active:      true,
		CreatedAt:   s.tx.m.now(),
	}
	s.tx.servers[srv.ID] = srv
	return srv, nil
}

func (s memServers) List(ctx context.Context) ([]models.Server, error) {
	out := make([]models.Server, 0)
	for _, srv := range s.tx.serverView() {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (s memServers) Get(ctx context.Context, id int64) (models.Server, error) {
	srv, ok := s.tx.serverView()[id]
	if !ok {
		return models.Server{}, fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return srv, nil
}
