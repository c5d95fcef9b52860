package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hibiken/asynq"

	"github.com/yourusername/agent-roster/internal/roster"
)

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", "error", err)
		}
	}()
}

func (m *Manager) handleExportTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}

	if err := m.markRunning(ctx, payload.JobID); err != nil {
		return err
	}

	path, err := m.ResultPath(payload.JobID)
	if err != nil {
		m.failJob(ctx, payload.JobID, "INVALID_INPUT", "invalid job id")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	size, err := m.exporter.ExportToFile(ctx, path, func(stage string, percent int) {
		if err := m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Stage:   stage,
			Percent: percent,
		}); err != nil {
			m.logger.WarnContext(ctx, "failed to update progress", "job_id", payload.JobID, "error", err)
		}
	})
	if err != nil {
		m.failJobWithError(ctx, payload.JobID, err)
		return err
	}

	meta := &ExportMeta{Filename: roster.ExportFilename, Size: size}
	if err := m.store.MarkDone(ctx, payload.JobID, m.downloadURL(payload.JobID), meta); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "export finished", "job_id", payload.JobID, "bytes", size, "dir", filepath.Dir(path))
	return nil
}

func (m *Manager) markRunning(ctx context.Context, jobID string) error {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if record == nil {
		// レコードが期限切れなら結果を取りに来る人はいない
		return fmt.Errorf("%w: %s: %w", ErrJobNotFound, jobID, asynq.SkipRetry)
	}
	record.Status = StatusRunning
	record.Progress = ProgressInfo{Percent: 0, Stage: "load"}
	record.Error = nil
	return m.store.Upsert(ctx, record)
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) {
	var rosterErr *roster.Error
	if errors.As(err, &rosterErr) {
		m.failJob(ctx, jobID, rosterErr.Code, rosterErr.Message)
		return
	}
	m.logger.ErrorContext(ctx, "export failed", "job_id", jobID, "error", err)
	m.failJob(ctx, jobID, "INTERNAL_ERROR", "export failed")
}
