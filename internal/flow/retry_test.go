package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetrier() Retrier {
	return Retrier{Timeout: time.Second, MaxRetries: 2, Interval: time.Millisecond}
}

func TestRetrierRetriesTransient(t *testing.T) {
	calls := 0
	err := fastRetrier().Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("chatwoot 502: %w", ErrTransient)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetrierStopsOnPermanent(t *testing.T) {
	errBad := errors.New("422 unprocessable")
	calls := 0
	err := fastRetrier().Do(context.Background(), "test", func(context.Context) error {
		calls++
		return errBad
	})
	if !errors.Is(err, errBad) {
		t.Fatalf("expected the permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestRetrierGivesUpAfterBudget(t *testing.T) {
	calls := 0
	err := fastRetrier().Do(context.Background(), "test", func(context.Context) error {
		calls++
		return ErrTransient
	})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 1 call plus 2 retries, got %d", calls)
	}
}

func TestRetrierAppliesTimeout(t *testing.T) {
	r := Retrier{Timeout: 10 * time.Millisecond}
	err := r.Once(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{fmt.Errorf("wrap: %w", ErrTransient), true},
		{context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
