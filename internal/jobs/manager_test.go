package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/agent-roster/internal/roster"
)

// memStore は RecordStore のメモリ実装です。
type memStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jobID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memStore) Upsert(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.JobID] = *record
	return nil
}

func (s *memStore) update(jobID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	mutate(&r)
	s.records[jobID] = r
	return nil
}

func (s *memStore) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.update(jobID, func(r *Record) { r.Progress = progress })
}

func (s *memStore) MarkDone(ctx context.Context, jobID string, downloadURL string, meta *ExportMeta) error {
	return s.update(jobID, func(r *Record) { markDone(r, downloadURL, meta) })
}

func (s *memStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.update(jobID, func(r *Record) { markFailed(r, errInfo) })
}

type fakeExporter struct {
	err    error
	stages []string
}

func (e *fakeExporter) ExportToFile(ctx context.Context, path string, progress roster.ProgressFunc) (int64, error) {
	if e.err != nil {
		return 0, e.err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	data := []byte("PK fake workbook")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return 0, err
	}
	for _, stage := range []string{"players", "write"} {
		e.stages = append(e.stages, stage)
		progress(stage, 50)
	}
	return int64(len(data)), nil
}

func newTestManager(t *testing.T, exporter Exporter) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	m, err := newManager(exporter, store, Options{ExportDir: t.TempDir()})
	if err != nil {
		t.Fatalf("newManager() error: %v", err)
	}
	return m, store
}

func exportTask(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(TaskPayload{JobID: jobID, Operation: OperationExport})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(TaskTypeExport, body)
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := newManager(nil, newMemStore(), Options{ExportDir: "x"}); err == nil {
		t.Fatal("expected error for nil exporter")
	}
	if _, err := newManager(&fakeExporter{}, nil, Options{ExportDir: "x"}); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := newManager(&fakeExporter{}, newMemStore(), Options{}); err == nil {
		t.Fatal("expected error for empty export dir")
	}
	if _, err := NewManager(&fakeExporter{}, newMemStore(), Options{ExportDir: "x", RedisURL: "::not a url"}); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestHandleExportTaskSuccess(t *testing.T) {
	exporter := &fakeExporter{}
	m, store := newTestManager(t, exporter)
	ctx := context.Background()
	jobID := uuid.NewString()
	_ = store.Upsert(ctx, &Record{JobID: jobID, Operation: OperationExport, Status: StatusQueued})

	if err := m.handleExportTask(ctx, exportTask(t, jobID)); err != nil {
		t.Fatalf("handleExportTask() error: %v", err)
	}

	record, _ := store.Get(ctx, jobID)
	if record.Status != StatusSucceeded || record.Progress.Percent != 100 {
		t.Fatalf("unexpected record: %#v", record)
	}
	if record.DownloadURL != "/api/jobs/"+jobID+"/download" {
		t.Fatalf("unexpected download url %q", record.DownloadURL)
	}
	if record.Meta == nil || record.Meta.Filename != roster.ExportFilename || record.Meta.Size == 0 {
		t.Fatalf("unexpected meta: %#v", record.Meta)
	}
	if len(exporter.stages) != 2 {
		t.Fatalf("expected progress callbacks, got %v", exporter.stages)
	}

	path, err := m.ResultPath(jobID)
	if err != nil {
		t.Fatalf("ResultPath() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("result file missing: %v", err)
	}
}

func TestHandleExportTaskFailure(t *testing.T) {
	m, store := newTestManager(t, &fakeExporter{err: errors.New("disk full")})
	ctx := context.Background()
	jobID := uuid.NewString()
	_ = store.Upsert(ctx, &Record{JobID: jobID, Status: StatusQueued})

	if err := m.handleExportTask(ctx, exportTask(t, jobID)); err == nil {
		t.Fatal("expected error from failed export")
	}
	record, _ := store.Get(ctx, jobID)
	if record.Status != StatusFailed || record.Error == nil || record.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("unexpected record: %#v", record)
	}
	if record.Error.Message == "disk full" {
		t.Fatal("internal error detail should not be stored for clients")
	}
}

func TestHandleExportTaskSkipsRetry(t *testing.T) {
	m, _ := newTestManager(t, &fakeExporter{})
	ctx := context.Background()

	cases := map[string]*asynq.Task{
		"garbage payload": asynq.NewTask(TaskTypeExport, []byte("{")),
		"missing job id":  exportTask(t, ""),
		"expired record":  exportTask(t, uuid.NewString()),
	}
	for name, task := range cases {
		t.Run(name, func(t *testing.T) {
			err := m.handleExportTask(ctx, task)
			if !errors.Is(err, asynq.SkipRetry) {
				t.Fatalf("expected SkipRetry, got %v", err)
			}
		})
	}
}

func TestGetRecordAndResultPath(t *testing.T) {
	m, store := newTestManager(t, &fakeExporter{})
	ctx := context.Background()

	if _, err := m.GetRecord(ctx, "../../etc/passwd"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for non-uuid id, got %v", err)
	}
	if _, err := m.GetRecord(ctx, uuid.NewString()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for missing record, got %v", err)
	}
	jobID := uuid.NewString()
	_ = store.Upsert(ctx, &Record{JobID: jobID, Status: StatusQueued})
	if r, err := m.GetRecord(ctx, jobID); err != nil || r.JobID != jobID {
		t.Fatalf("GetRecord() = %#v, %v", r, err)
	}

	if _, err := m.ResultPath("../secret"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	path, err := m.ResultPath(jobID)
	if err != nil {
		t.Fatalf("ResultPath() error: %v", err)
	}
	if filepath.Base(path) != roster.ExportFilename || filepath.Base(filepath.Dir(path)) != jobID {
		t.Fatalf("unexpected result path %q", path)
	}
}

func TestEnqueueWithoutClient(t *testing.T) {
	m, _ := newTestManager(t, &fakeExporter{})
	if _, err := m.ScheduleExport(context.Background()); err == nil {
		t.Fatal("expected error without queue client")
	}
}
