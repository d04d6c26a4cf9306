package locking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	locks := NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, "event-1")
			if err != nil {
				t.Errorf("expected lock, got %v", err)
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
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, got %d", maxSeen)
	}
	if got := locks.Len(); got != 0 {
		t.Fatalf("expected entries to be released, got %d", got)
	}
}

func TestKeyedMutexAllowsDistinctKeys(t *testing.T) {
	locks := NewKeyedMutex()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := locks.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("expected lock on a, got %v", err)
	}
	defer unlockA()

	unlockB, err := locks.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("expected independent lock on b, got %v", err)
	}
	unlockB()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	locks := NewKeyedMutex()
	unlock, err := locks.Lock(context.Background(), "event-1")
	if err != nil {
		t.Fatalf("expected first lock, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "event-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if got := locks.Len(); got != 0 {
		t.Fatalf("expected no entries after release, got %d", got)
	}
}
