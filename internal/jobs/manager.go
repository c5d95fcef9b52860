// Package jobs は非同期ジョブ管理機能を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/agent-roster/internal/roster"
)

const (
	// TaskTypeExport はロスター出力タスクの種類です。
	TaskTypeExport = "roster:export"
	// QueueExports は出力タスクのキュー名です。
	QueueExports = "exports"
)

// Exporter はロスターをファイルに書き出します。
type Exporter interface {
	ExportToFile(ctx context.Context, path string, progress roster.ProgressFunc) (int64, error)
}

// Options は Manager の設定です。
type Options struct {
	// RedisURL は asynq が使う Redis の URL です。
	RedisURL    string
	ExportDir   string
	Concurrency int
	Logger      *slog.Logger
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	store     RecordStore
	exporter  Exporter
	exportDir string
	logger    *slog.Logger
}

// TaskPayload はロスター出力ジョブのペイロードです。
type TaskPayload struct {
	JobID     string `json:"jobId"`
	Operation string `json:"operation"`
}

// NewManager は Manager を初期化します。
func NewManager(exporter Exporter, store RecordStore, opts Options) (*Manager, error) {
	m, err := newManager(exporter, store, opts)
	if err != nil {
		return nil, err
	}
	redisOpt, err := asynq.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	m.client = asynq.NewClient(redisOpt)
	m.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueExports: 1,
			},
		},
	)
	m.mux = asynq.NewServeMux()
	m.mux.HandleFunc(TaskTypeExport, m.handleExportTask)
	return m, nil
}

func newManager(exporter Exporter, store RecordStore, opts Options) (*Manager, error) {
	if exporter == nil {
		return nil, errors.New("exporter is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if opts.ExportDir == "" {
		return nil, errors.New("export dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		exporter:  exporter,
		exportDir: opts.ExportDir,
		logger:    logger,
	}, nil
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// ScheduleExport は新しい出力ジョブを作成してキューに投入し、ジョブ ID を返します。
func (m *Manager) ScheduleExport(ctx context.Context) (string, error) {
	jobID := uuid.NewString()
	if _, err := m.Enqueue(ctx, &TaskPayload{JobID: jobID, Operation: OperationExport}); err != nil {
		return "", err
	}
	return jobID, nil
}

// Enqueue はジョブをキューに投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}
	if m.client == nil {
		return "", errors.New("queue client is not configured")
	}

	record := &Record{
		JobID:     payload.JobID,
		Operation: payload.Operation,
		Status:    StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(TaskTypeExport, body, asynq.Queue(QueueExports))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1), asynq.Timeout(5*time.Minute))
	if err != nil {
		m.failJob(ctx, payload.JobID, "QUEUE_ERROR", "failed to enqueue job")
		return "", err
	}
	return info.ID, nil
}

// GetRecord はジョブ情報を取得します。存在しない場合は ErrJobNotFound を返します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, ErrJobNotFound
	}
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrJobNotFound
	}
	return record, nil
}

// ResultPath は完了したジョブの出力ファイルのパスを返します。
func (m *Manager) ResultPath(jobID string) (string, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return "", ErrJobNotFound
	}
	return filepath.Join(m.exportDir, id.String(), roster.ExportFilename), nil
}

func (m *Manager) downloadURL(jobID string) string {
	return fmt.Sprintf("/api/jobs/%s/download", jobID)
}

func (m *Manager) failJob(ctx context.Context, jobID, code, message string) {
	if err := m.store.MarkFailed(ctx, jobID, &ErrorInfo{
		Code:    code,
		Message: message,
	}); err != nil {
		m.logger.WarnContext(ctx, "failed to mark job failed", "job_id", jobID, "error", err)
	}
}
