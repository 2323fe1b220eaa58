package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recsignal/internal/models"
)

func TestNormalize(t *testing.T) {
	got := normalize([]string{"b", "a", "b", "c", "a"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestKeyDistinguishesLabels(t *testing.T) {
	a := Key(models.AlertKey{ServerID: 1, Metric: models.MetricDiskUsage, Label: "/"})
	b := Key(models.AlertKey{ServerID: 1, Metric: models.MetricDiskUsage, Label: "/var"})
	if a == b {
		t.Fatalf("keys for different labels collide: %s", a)
	}
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(ctx, []string{"k1", "k2"})
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if n := l.held(); n != 0 {
		t.Fatalf("expected all entries cleaned up, %d left", n)
	}
}

func TestLocal_OppositeOrderDoesNotDeadlock(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		keys := []string{"a", "b"}
		if i%2 == 1 {
			keys = []string{"b", "a"}
		}
		wg.Add(1)
		go func(keys []string) {
			defer wg.Done()
			release, err := l.Lock(ctx, keys)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			release()
		}(keys)
	}
	wg.Wait()
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := NewLocal()
	release, err := l.Lock(context.Background(), []string{"k"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, []string{"k"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLocal_ReleaseIsIdempotent(t *testing.T) {
	l := NewLocal()
	release, err := l.Lock(context.Background(), []string{"k"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	release()
	release()

	again, err := l.Lock(context.Background(), []string{"k"})
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}
