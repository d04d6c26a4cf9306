package mongo_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/persistence/mongo"
	"github.com/example/lab-scheduler/internal/scheduler"
	"github.com/example/lab-scheduler/internal/testfixtures"
)

var databaseCounter uint64

// openStore connects to LAB_SCHEDULER_TEST_MONGO_URI using a fresh database
// that is dropped afterwards. Tests are skipped when the variable is unset.
func openStore(tb testing.TB) *mongo.Store {
	tb.Helper()

	uri := os.Getenv("LAB_SCHEDULER_TEST_MONGO_URI")
	if uri == "" {
		tb.Skip("LAB_SCHEDULER_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := fmt.Sprintf("labscheduler_test_%d_%d", os.Getpid(), atomic.AddUint64(&databaseCounter, 1))
	engine := scheduler.NewEngine(testfixtures.Paris(), testfixtures.NewIDGenerator("mongo").Next)
	store, err := mongo.Connect(ctx, uri, name, engine.NewMigrator(), nil)
	if err != nil {
		tb.Fatalf("failed to connect: %v", err)
	}
	tb.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dropCancel()
		_ = store.Database().Drop(dropCtx)
		_ = store.Close()
	})
	return store
}

func TestStoreContract(t *testing.T) {
	testfixtures.RunStoreContract(t, func(tb testing.TB) persistence.Store {
		return openStore(tb)
	})
}
