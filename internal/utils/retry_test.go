package utils

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRetry_SucceedsEventually(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), quiet(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got %v after %d calls", err, calls)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	boom := errors.New("boom")
	err := Retry(context.Background(), quiet(), 2, time.Millisecond, func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error wrapped, got %v", err)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, quiet(), 10, time.Hour, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after 1 call, got %v after %d", err, calls)
	}
}

func TestRetry_PermanentErrorIsNotRetried(t *testing.T) {
	rejected := errors.New("rejected")
	calls := 0
	err := Retry(context.Background(), quiet(), 5, time.Millisecond, func(ctx context.Context) error {
		calls++
		return Permanent(rejected)
	})
	if err != rejected || calls != 1 {
		t.Fatalf("expected the bare error after 1 call, got %v after %d", err, calls)
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must stay nil")
	}
}
