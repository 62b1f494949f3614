package http

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInFlightTracker_BeginDone(t *testing.T) {
	tracker := &InFlightTracker{}

	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}

	done1 := tracker.Begin()
	done2 := tracker.Begin()
	if got := tracker.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}

	done1()
	if got := tracker.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	done2()
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestInFlightTracker_WaitForZero(t *testing.T) {
	tracker := &InFlightTracker{}
	done := tracker.Begin()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	returned := make(chan error, 1)
	go func() {
		returned <- tracker.WaitForZero(ctx, 5*time.Millisecond)
	}()

	time.Sleep(10 * time.Millisecond)
	done()

	select {
	case err := <-returned:
		if err != nil {
			t.Errorf("WaitForZero() error = %v, want nil", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitForZero did not return after count reached zero")
	}
}

func TestInFlightTracker_WaitForZero_ContextCanceled(t *testing.T) {
	tracker := &InFlightTracker{}
	done := tracker.Begin()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tracker.WaitForZero(ctx, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForZero() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestInFlightTracker_WaitForZero_NonPositiveInterval(t *testing.T) {
	tracker := &InFlightTracker{}
	if err := tracker.WaitForZero(context.Background(), 0); err != nil {
		t.Errorf("WaitForZero() error = %v, want nil when idle", err)
	}
}
