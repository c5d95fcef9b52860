package jobs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL() error: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Minute)
}

func TestStoreLifecycle(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	jobID := uuid.NewString()

	if r, err := store.Get(ctx, jobID); err != nil || r != nil {
		t.Fatalf("expected nil record, got %#v (%v)", r, err)
	}
	if err := store.Upsert(ctx, &Record{JobID: jobID, Operation: OperationExport, Status: StatusQueued}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if err := store.UpdateProgress(ctx, jobID, ProgressInfo{Percent: 40, Stage: "clubs"}); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}
	if err := store.MarkDone(ctx, jobID, "/api/jobs/"+jobID+"/download", &ExportMeta{Filename: "roster.xlsx", Size: 10}); err != nil {
		t.Fatalf("MarkDone() error: %v", err)
	}

	r, err := store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if r.Status != StatusSucceeded || r.Progress.Percent != 100 || r.Meta.Size != 10 {
		t.Fatalf("unexpected record: %#v", r)
	}
	if r.ExpiresAt.Sub(r.CreatedAt) != time.Minute {
		t.Fatalf("unexpected expiry window: %v", r.ExpiresAt.Sub(r.CreatedAt))
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	store := newRedisStore(t)
	err := store.MarkFailed(context.Background(), uuid.NewString(), &ErrorInfo{Code: "X", Message: "y"})
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
