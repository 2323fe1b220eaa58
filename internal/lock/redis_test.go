package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rl := NewRedis(RedisConfig{Addr: mr.Addr(), TTL: ttl, RetryInterval: 5 * time.Millisecond})
	t.Cleanup(func() { _ = rl.Close() })
	return rl, mr
}

func TestRedis_MutualExclusion(t *testing.T) {
	rl, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()

	release, err := rl.Lock(ctx, []string{"k1"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("k1") {
		t.Fatal("expected the key to be set while held")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := rl.Lock(waitCtx, []string{"k1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while held, got %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		again, err := rl.Lock(ctx, []string{"k1"})
		if err == nil {
			again()
		}
		acquired <- err
	}()
	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the released key")
	}
}

func TestRedis_MultipleKeysHeldAndReleased(t *testing.T) {
	rl, mr := newTestRedis(t, time.Minute)

	release, err := rl.Lock(context.Background(), []string{"b", "a", "b"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("a") || !mr.Exists("b") {
		t.Fatalf("expected both keys held, have %v", mr.Keys())
	}
	release()
	release()
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected every key released, have %v", mr.Keys())
	}
}

func TestRedis_ForeignTokenIsNotReleased(t *testing.T) {
	rl, mr := newTestRedis(t, time.Minute)

	release, err := rl.Lock(context.Background(), []string{"k1"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Another instance took the key over after ours expired.
	if err := mr.Set("k1", "other-instance"); err != nil {
		t.Fatalf("set: %v", err)
	}
	release()

	got, err := mr.Get("k1")
	if err != nil || got != "other-instance" {
		t.Fatalf("foreign holder's key was touched: %q %v", got, err)
	}
}

func TestRedis_ReleaseAfterContextCancelled(t *testing.T) {
	rl, mr := newTestRedis(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	release, err := rl.Lock(ctx, []string{"k1"})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	cancel()
	release()
	if mr.Exists("k1") {
		t.Fatal("release must not depend on the batch context")
	}
}

func TestRedis_ExpiredHolderIsTakenOver(t *testing.T) {
	rl, mr := newTestRedis(t, time.Second)

	if _, err := rl.Lock(context.Background(), []string{"k1"}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	mr.FastForward(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := rl.Lock(ctx, []string{"k1"})
	if err != nil {
		t.Fatalf("expected the expired key to be free, got %v", err)
	}
	release()
}

func TestRedis_PartialAcquireIsRolledBack(t *testing.T) {
	rl, mr := newTestRedis(t, time.Minute)
	if err := mr.Set("b", "other-instance"); err != nil {
		t.Fatalf("set: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := rl.Lock(ctx, []string{"b", "a"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if mr.Exists("a") {
		t.Fatal("key taken before the failure must be released")
	}
}
