package locking

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	addr := os.Getenv("LAB_SCHEDULER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LAB_SCHEDULER_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	locker := NewRedisLocker(client, nil, WithKeyPrefix("labscheduler-test:"+uuid.NewString()+":"))
	unlock, err := locker.Lock(ctx, "event-1")
	if err != nil {
		t.Fatalf("expected lock, got %v", err)
	}

	busyCtx, busyCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer busyCancel()
	if _, err := locker.Lock(busyCtx, "event-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second holder to time out, got %v", err)
	}

	unlock()
	again, err := locker.Lock(ctx, "event-1")
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	again()
}
