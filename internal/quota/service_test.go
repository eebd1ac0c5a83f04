package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReserveEnforcesDailyLimit(t *testing.T) {
	svc := NewService(Limits{"image": 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Reserve(ctx, "user-1", "image"); err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
	}
	if _, err := svc.Reserve(ctx, "user-1", "image"); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
}

func TestReserveUnknownContentTypeAllowedWithoutRecording(t *testing.T) {
	svc := NewService(Limits{"image": 1})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := svc.Reserve(ctx, "user-1", "audio"); err != nil {
			t.Fatalf("Reserve audio %d: %v", i, err)
		}
	}
	rec, err := svc.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := rec.Counts["audio"]; got != 0 {
		t.Fatalf("audio count = %d, want 0", got)
	}
}

func TestReserveResetsOnNewDay(t *testing.T) {
	svc := NewService(Limits{"video": 1})
	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "user-1", "video"); err != nil {
		t.Fatalf("Reserve day1: %v", err)
	}
	if _, err := svc.Reserve(ctx, "user-1", "video"); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached on day1, got %v", err)
	}

	svc.now = func() time.Time { return day1.Add(2 * time.Minute) }
	rec, err := svc.Reserve(ctx, "user-1", "video")
	if err != nil {
		t.Fatalf("Reserve day2: %v", err)
	}
	if rec.DateKey != "2026-03-02" {
		t.Fatalf("DateKey = %q, want 2026-03-02", rec.DateKey)
	}
	if rec.Counts["video"] != 1 {
		t.Fatalf("video count = %d, want 1", rec.Counts["video"])
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	svc := NewService(Limits{"text": 5})
	ctx := context.Background()

	if err := svc.Release(ctx, "user-1", "text"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	rec, err := svc.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Counts["text"] != 0 {
		t.Fatalf("text count = %d, want 0", rec.Counts["text"])
	}
}

func TestConcurrentReserveNeverOvershoots(t *testing.T) {
	const limit = 3
	svc := NewService(Limits{"image": limit})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reserve(ctx, "user-1", "image"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != limit {
		t.Fatalf("granted = %d, want %d", granted, limit)
	}
}
