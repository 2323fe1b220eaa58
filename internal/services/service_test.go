package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"recsignal/internal/lock"
	"recsignal/internal/logging"
	"recsignal/internal/metrics"
	"recsignal/internal/models"
	"recsignal/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, st store.Store) *Service {
	t.Helper()
	return New(st, lock.NewLocal(), logging.Discard(), Options{Now: func() time.Time { return testNow }})
}

func disk(host string, value float64, label string) Submission {
	return Submission{
		Hostname:    host,
		Environment: models.EnvProd,
		ServerType:  models.ServerUnix,
		Readings:    []ReadingInput{{MetricType: models.MetricDiskUsage, Value: value, Label: label}},
	}
}

func mustSubmit(t *testing.T, svc *Service, sub Submission) BatchResult {
	t.Helper()
	res, err := svc.SubmitBatch(context.Background(), sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res
}

func mustUpsert(t *testing.T, svc *Service, th models.Threshold) models.Threshold {
	t.Helper()
	out, err := svc.UpsertThreshold(context.Background(), th)
	if err != nil {
		t.Fatalf("upsert threshold: %v", err)
	}
	return out
}

func globalDisk(t *testing.T, svc *Service) {
	mustUpsert(t, svc, models.Threshold{MetricType: models.MetricDiskUsage, Environment: models.EnvProd, Warning: 75, Critical: 90})
}

func alertsFor(t *testing.T, svc *Service, f models.AlertFilter) []models.Alert {
	t.Helper()
	out, err := svc.ListAlerts(context.Background(), f)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	return out
}

func TestSubmitBatch_Scenarios(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m)
	globalDisk(t, svc)

	// 1. breach creates one CRITICAL alert
	res := mustSubmit(t, svc, disk("h1", 92, "/"))
	if res.StoredCount != 1 || res.AlertsCreated != 1 || res.ServerID == 0 {
		t.Fatalf("scenario 1: unexpected result %+v", res)
	}
	first := alertsFor(t, svc, models.AlertFilter{})
	if len(first) != 1 || first[0].Severity != models.SeverityCritical || first[0].Status != models.StatusOpen {
		t.Fatalf("scenario 1: unexpected alerts %+v", first)
	}
	key := first[0].Key()

	// 2. repeated breach is stored and suppressed
	res = mustSubmit(t, svc, disk("h1", 95, "/"))
	if res.StoredCount != 1 || res.AlertsCreated != 0 {
		t.Fatalf("scenario 2: unexpected result %+v", res)
	}
	if n := m.OpenAlertCount(key); n != 1 {
		t.Fatalf("scenario 2: expected 1 open alert, got %d", n)
	}

	// 3. OK reading auto-resolves
	mustSubmit(t, svc, disk("h1", 60, "/"))
	resolved, err := svc.GetAlert(context.Background(), first[0].ID)
	if err != nil {
		t.Fatalf("scenario 3: get alert: %v", err)
	}
	if resolved.Status != models.StatusResolved || resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(testNow) {
		t.Fatalf("scenario 3: expected RESOLVED at %v, got %+v", testNow, resolved)
	}

	// 4. recurrence creates a brand-new alert
	res = mustSubmit(t, svc, disk("h1", 95, "/"))
	if res.AlertsCreated != 1 {
		t.Fatalf("scenario 4: expected a new alert, got %+v", res)
	}
	open := alertsFor(t, svc, models.AlertFilter{Status: models.StatusOpen})
	if len(open) != 1 || open[0].ID == first[0].ID {
		t.Fatalf("scenario 4: expected a new id, got %+v", open)
	}

	// 5. an override wins over the global pair
	mustUpsert(t, svc, models.Threshold{MetricType: models.MetricDiskUsage, Environment: models.EnvProd, Hostname: "h1", PathLabel: "/", Warning: 50, Critical: 60})
	mustSubmit(t, svc, disk("h1", 60, "/")) // critical under the override, still suppressed
	if _, err := svc.Resolve(context.Background(), open[0].ID); err != nil {
		t.Fatalf("scenario 5: resolve: %v", err)
	}
	res = mustSubmit(t, svc, disk("h1", 55, "/"))
	if res.AlertsCreated != 1 {
		t.Fatalf("scenario 5: expected an alert from the override, got %+v", res)
	}
	open = alertsFor(t, svc, models.AlertFilter{Status: models.StatusOpen})
	if len(open) != 1 || open[0].Severity != models.SeverityWarning {
		t.Fatalf("scenario 5: expected WARNING from the override, got %+v", open)
	}

	if n := m.ReadingCount(); n != 6 {
		t.Fatalf("expected every reading stored, got %d", n)
	}
}

func TestSubmitBatch_EvaluatesInSubmissionOrder(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	globalDisk(t, svc)

	sub := disk("h1", 92, "/")
	sub.Readings = append(sub.Readings,
		ReadingInput{MetricType: models.MetricDiskUsage, Value: 60, Label: "/"},
		ReadingInput{MetricType: models.MetricDiskUsage, Value: 80, Label: "/"},
	)
	res := mustSubmit(t, svc, sub)
	if res.StoredCount != 3 || res.AlertsCreated != 2 {
		t.Fatalf("expected create, resolve, create; got %+v", res)
	}
	all := alertsFor(t, svc, models.AlertFilter{})
	if len(all) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(all))
	}
	// newest first
	if all[0].Status != models.StatusOpen || all[0].Severity != models.SeverityWarning {
		t.Fatalf("expected the later WARNING to be open, got %+v", all[0])
	}
	if all[1].Status != models.StatusResolved {
		t.Fatalf("expected the first alert resolved, got %+v", all[1])
	}
}

func TestSubmitBatch_NoThresholdStillStores(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m)
	res := mustSubmit(t, svc, disk("h1", 99, "/"))
	if res.StoredCount != 1 || res.AlertsCreated != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if m.ReadingCount() != 1 {
		t.Fatal("reading not stored")
	}
}

func TestSubmitBatch_Validation(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	bad := []Submission{
		{Environment: models.EnvProd, ServerType: models.ServerUnix},
		{Hostname: "h1", Environment: "QA", ServerType: models.ServerUnix},
		{Hostname: "h1", Environment: models.EnvProd, ServerType: "WINDOWS"},
		{Hostname: "h1", Environment: models.EnvProd, ServerType: models.ServerUnix,
			Readings: []ReadingInput{{MetricType: "SWAP_USAGE", Value: 1}}},
	}
	for _, sub := range bad {
		if _, err := svc.SubmitBatch(context.Background(), sub); !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation for %+v, got %v", sub, err)
		}
	}
}

func TestSubmitBatch_RegistersServerOnce(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	a := mustSubmit(t, svc, disk("db01", 10, "/"))
	b := mustSubmit(t, svc, disk("db01", 10, "/u01"))
	c := mustSubmit(t, svc, disk("db02", 10, "/"))
	if a.ServerID != b.ServerID {
		t.Fatalf("same hostname registered twice: %d vs %d", a.ServerID, b.ServerID)
	}
	if a.ServerID == c.ServerID {
		t.Fatal("different hostnames share a server")
	}
}

func TestSubmitBatch_ResolvesWithSubmittedEnvironment(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	globalDisk(t, svc)

	uat := disk("h1", 10, "/")
	uat.Environment = models.EnvUAT
	mustSubmit(t, svc, uat)

	// The host now reports as PROD; its row still says UAT.
	res := mustSubmit(t, svc, disk("h1", 95, "/"))
	if res.AlertsCreated != 1 {
		t.Fatalf("PROD breach should be judged against PROD levels, created %d", res.AlertsCreated)
	}
	srv, err := svc.GetServer(context.Background(), res.ServerID)
	if err != nil {
		t.Fatalf("get server: %v", err)
	}
	if srv.Environment != models.EnvUAT {
		t.Fatalf("registered environment should be kept, got %s", srv.Environment)
	}
}

func TestServerLookups(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	ctx := context.Background()

	servers, err := svc.ListServers(ctx)
	if err != nil || len(servers) != 0 {
		t.Fatalf("expected no servers, got %+v %v", servers, err)
	}
	b := mustSubmit(t, svc, disk("web02", 10, "/"))
	a := mustSubmit(t, svc, disk("db01", 10, "/"))

	servers, err = svc.ListServers(ctx)
	if err != nil {
		t.Fatalf("list servers: %v", err)
	}
	if len(servers) != 2 || servers[0].ID != a.ServerID || servers[1].ID != b.ServerID {
		t.Fatalf("expected servers ordered by hostname, got %+v", servers)
	}
	got, err := svc.GetServer(ctx, b.ServerID)
	if err != nil || got.Hostname != "web02" || got.Type != models.ServerUnix || !got.Active {
		t.Fatalf("get server: %+v %v", got, err)
	}
	if _, err := svc.GetServer(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// failingStore wraps Memory and hands out a reading store that fails or
// cancels on the n-th insert.
type failingStore struct {
	*store.Memory
	failOn int
	cancel context.CancelFunc
}

type failingTx struct {
	store.Tx
	readings store.ReadingStore
}

func (tx failingTx) Readings() store.ReadingStore { return tx.readings }

type failingReadings struct {
	store.ReadingStore
	calls  *int
	failOn int
	cancel context.CancelFunc
}

var errDiskFull = errors.New("disk full")

func (r failingReadings) Insert(ctx context.Context, rd models.Reading) (models.Reading, error) {
	*r.calls++
	if *r.calls == r.failOn {
		if r.cancel != nil {
			r.cancel()
		} else {
			return models.Reading{}, errDiskFull
		}
	}
	return r.ReadingStore.Insert(ctx, rd)
}

func (s *failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Memory.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		calls := 0
		return fn(ctx, failingTx{Tx: tx, readings: failingReadings{
			ReadingStore: tx.Readings(), calls: &calls, failOn: s.failOn, cancel: s.cancel,
		}})
	})
}

func breachingBatch() Submission {
	sub := disk("h1", 92, "/")
	sub.Readings = append(sub.Readings,
		ReadingInput{MetricType: models.MetricDiskUsage, Value: 95, Label: "/var"},
		ReadingInput{MetricType: models.MetricDiskUsage, Value: 97, Label: "/opt"},
	)
	return sub
}

func TestSubmitBatch_StoreFailureRollsBack(t *testing.T) {
	m := store.NewMemory()
	fs := &failingStore{Memory: m, failOn: 3}
	svc := newTestService(t, fs)
	globalDisk(t, svc)

	sub, _ := svc.Hub().Subscribe()
	defer sub.Cancel()

	_, err := svc.SubmitBatch(context.Background(), breachingBatch())
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected store failure, got %v", err)
	}
	if m.ReadingCount() != 0 {
		t.Fatalf("readings survived rollback: %d", m.ReadingCount())
	}
	if n := len(alertsFor(t, svc, models.AlertFilter{})); n != 0 {
		t.Fatalf("alerts survived rollback: %d", n)
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("rolled back batch published %+v", ev)
	default:
	}
}

func TestSubmitBatch_CancellationRollsBack(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m)
	globalDisk(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fs := &failingStore{Memory: m, failOn: 2, cancel: cancel}
	svc.store = fs

	if _, err := svc.SubmitBatch(ctx, breachingBatch()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.ReadingCount() != 0 {
		t.Fatalf("readings survived cancellation: %d", m.ReadingCount())
	}
	if n := len(alertsFor(t, svc, models.AlertFilter{})); n != 0 {
		t.Fatalf("alerts survived cancellation: %d", n)
	}
}

func TestSubmitBatch_ConcurrentBreachesCreateOneAlert(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m)
	globalDisk(t, svc)
	mustSubmit(t, svc, disk("h1", 10, "/")) // register the server up front

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.SubmitBatch(context.Background(), disk("h1", 95, "/"))
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			mu.Lock()
			created += res.AlertsCreated
			mu.Unlock()
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly 1 alert created, got %d", created)
	}
	key := models.AlertKey{ServerID: 1, Metric: models.MetricDiskUsage, Label: "/"}
	if n := m.OpenAlertCount(key); n != 1 {
		t.Fatalf("expected 1 open alert, got %d", n)
	}
	if n := m.ReadingCount(); n != workers+1 {
		t.Fatalf("expected %d readings, got %d", workers+1, n)
	}
}

func TestSubmitBatch_PublishesAfterCommit(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	globalDisk(t, svc)
	sub, ok := svc.Hub().Subscribe()
	if !ok {
		t.Fatal("subscribe refused")
	}
	defer sub.Cancel()

	mustSubmit(t, svc, disk("h1", 92, "/"))
	mustSubmit(t, svc, disk("h1", 50, "/"))

	want := []models.EventType{models.EventCreated, models.EventAutoResolved}
	for _, typ := range want {
		select {
		case ev := <-sub.C:
			if ev.Type != typ {
				t.Fatalf("expected %s, got %s", typ, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestSubmitBatch_Metrics(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	globalDisk(t, svc)

	stored := testutil.ToFloat64(metrics.ReadingsStoredTotal)
	created := testutil.ToFloat64(metrics.EvaluationsTotal.WithLabelValues("created"))
	committed := testutil.ToFloat64(metrics.IngestBatchesTotal.WithLabelValues("direct", "committed"))

	mustSubmit(t, svc, breachingBatch())

	if d := testutil.ToFloat64(metrics.ReadingsStoredTotal) - stored; d != 3 {
		t.Errorf("readings stored delta = %v, want 3", d)
	}
	if d := testutil.ToFloat64(metrics.EvaluationsTotal.WithLabelValues("created")) - created; d != 3 {
		t.Errorf("created evaluations delta = %v, want 3", d)
	}
	if d := testutil.ToFloat64(metrics.IngestBatchesTotal.WithLabelValues("direct", "committed")) - committed; d != 1 {
		t.Errorf("committed batches delta = %v, want 1", d)
	}
}

func TestAcknowledgeAndResolve(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	globalDisk(t, svc)
	mustSubmit(t, svc, disk("h1", 92, "/"))
	a := alertsFor(t, svc, models.AlertFilter{})[0]
	ctx := context.Background()

	acked, err := svc.Acknowledge(ctx, a.ID, "oncall")
	if err != nil || acked.Status != models.StatusAcknowledged {
		t.Fatalf("acknowledge: %+v %v", acked, err)
	}
	if _, err := svc.Acknowledge(ctx, a.ID, "oncall"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("second acknowledge: expected ErrInvalidTransition, got %v", err)
	}
	resolved, err := svc.Resolve(ctx, a.ID)
	if err != nil || resolved.Status != models.StatusResolved {
		t.Fatalf("resolve: %+v %v", resolved, err)
	}
	if _, err := svc.Resolve(ctx, a.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("second resolve: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.Resolve(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown alert: expected ErrNotFound, got %v", err)
	}
}

func TestListAlerts_Filters(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	globalDisk(t, svc)
	mustUpsert(t, svc, models.Threshold{MetricType: models.MetricDiskUsage, Environment: models.EnvDev, Warning: 70, Critical: 90})

	mustSubmit(t, svc, disk("p1", 92, "/"))
	mustSubmit(t, svc, disk("p1", 80, "/var"))
	dev := disk("d1", 95, "/")
	dev.Environment = models.EnvDev
	mustSubmit(t, svc, dev)

	if n := len(alertsFor(t, svc, models.AlertFilter{Environment: models.EnvProd})); n != 2 {
		t.Errorf("PROD alerts = %d, want 2", n)
	}
	if n := len(alertsFor(t, svc, models.AlertFilter{Severity: models.SeverityWarning})); n != 1 {
		t.Errorf("WARNING alerts = %d, want 1", n)
	}
	if n := len(alertsFor(t, svc, models.AlertFilter{Limit: 1})); n != 1 {
		t.Errorf("limited alerts = %d, want 1", n)
	}

	summary, err := svc.AlertSummary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	total := 0
	for _, c := range summary {
		total += c.Count
	}
	if total != 3 {
		t.Errorf("summary counts %d alerts, want 3", total)
	}
}

func TestListReadings(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	res := mustSubmit(t, svc, disk("h1", 42, "/"))

	got, err := svc.ListReadings(context.Background(), ReadingQuery{ServerID: res.ServerID})
	if err != nil {
		t.Fatalf("list readings: %v", err)
	}
	if len(got) != 1 || got[0].Value != 42 {
		t.Fatalf("unexpected readings %+v", got)
	}
	for _, hours := range []int{-1, 721} {
		if _, err := svc.ListReadings(context.Background(), ReadingQuery{Hours: hours}); !errors.Is(err, ErrValidation) {
			t.Errorf("hours=%d: expected ErrValidation, got %v", hours, err)
		}
	}
}

func TestThresholdOperations(t *testing.T) {
	svc := newTestService(t, store.NewMemory())
	ctx := context.Background()

	_, err := svc.UpsertThreshold(ctx, models.Threshold{MetricType: models.MetricCPULoad, Environment: models.EnvProd, Warning: 90, Critical: 90})
	if !errors.Is(err, models.ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}

	th := mustUpsert(t, svc, models.Threshold{MetricType: models.MetricCPULoad, Environment: models.EnvProd, Warning: 70, Critical: 90})
	again := mustUpsert(t, svc, models.Threshold{MetricType: models.MetricCPULoad, Environment: models.EnvProd, Warning: 75, Critical: 95})
	if again.ID != th.ID || again.Warning != 75 {
		t.Fatalf("upsert should replace levels in place, got %+v", again)
	}
	got, err := svc.GetThreshold(ctx, th.ID)
	if err != nil || got.Critical != 95 {
		t.Fatalf("get threshold: %+v %v", got, err)
	}
	if err := svc.DeleteThreshold(ctx, th.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetThreshold(ctx, th.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.DeleteThreshold(ctx, th.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestSeedThresholds(t *testing.T) {
	m := store.NewMemory()
	svc := newTestService(t, m)
	custom := mustUpsert(t, svc, models.Threshold{MetricType: models.MetricDiskUsage, Environment: models.EnvProd, Warning: 60, Critical: 70})

	added, err := SeedThresholds(context.Background(), m)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if want := len(models.DefaultThresholds()) - 1; added != want {
		t.Fatalf("seeded %d, want %d", added, want)
	}
	again, _ := SeedThresholds(context.Background(), m)
	if again != 0 {
		t.Fatalf("second seed added %d rows", again)
	}
	kept, _ := svc.GetThreshold(context.Background(), custom.ID)
	if kept.Warning != 60 {
		t.Fatalf("seed overwrote a configured threshold: %+v", kept)
	}
}

func TestSubmissionFromPayload(t *testing.T) {
	v := 91.5
	ts := time.Date(2026, 2, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	sub, err := SubmissionFromPayload(models.MetricPayload{
		Hostname:    " ora01 ",
		Environment: "prod",
		ServerType:  "oracle",
		Metrics: []models.MetricInput{
			{MetricType: "tablespace_usage", Value: &v, Label: "USERS", Timestamp: &ts},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Hostname != "ora01" || sub.Environment != models.EnvProd || sub.ServerType != models.ServerOracle {
		t.Fatalf("unexpected submission %+v", sub)
	}
	r := sub.Readings[0]
	if r.MetricType != models.MetricTablespaceUsage || r.Value != 91.5 || r.Timestamp.Location() != time.UTC {
		t.Fatalf("unexpected reading %+v", r)
	}

	_, err = SubmissionFromPayload(models.MetricPayload{
		Hostname: "h", Environment: "PROD", ServerType: "UNIX",
		Metrics: []models.MetricInput{{MetricType: "DISK_USAGE"}},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("missing value: expected ErrValidation, got %v", err)
	}
}
