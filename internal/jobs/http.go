package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/agent-roster/internal/roster"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Lookup はジョブ状態と成果物の参照先です。
type Lookup interface {
	GetRecord(ctx context.Context, jobID string) (*Record, error)
	ResultPath(jobID string) (string, error)
}

// StatusHandler は GET /api/jobs/:id のハンドラーを返します。
func StatusHandler(jobs Lookup, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_INPUT",
				"error": "jobId is required",
			})
			return
		}

		record, err := jobs.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, logger, err)
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"operation": record.Operation,
			"status":    record.Status,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
				"message": record.Progress.Message,
			},
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.DownloadURL != "" {
			payload["downloadUrl"] = record.DownloadURL
		}
		if record.Meta != nil {
			payload["meta"] = record.Meta
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

// DownloadHandler は GET /api/jobs/:id/download のハンドラーを返します。
func DownloadHandler(jobs Lookup, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		record, err := jobs.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, logger, err)
			return
		}
		if record.Status != StatusSucceeded {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "JOB_NOT_READY",
				"error": "Job has not finished",
			})
			return
		}

		path, err := jobs.ResultPath(record.JobID)
		if err != nil {
			respondWithError(c, logger, err)
			return
		}
		file, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":  "JOB_RESULT_NOT_FOUND",
					"error": "Job result not found",
				})
				return
			}
			respondWithError(c, logger, err)
			return
		}
		defer file.Close()

		stat, err := file.Stat()
		if err != nil {
			respondWithError(c, logger, err)
			return
		}
		filename := roster.ExportFilename
		if record.Meta != nil && record.Meta.Filename != "" {
			filename = record.Meta.Filename
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", record.JobID)
		c.DataFromReader(http.StatusOK, stat.Size(), xlsxContentType, file, nil)
	}
}

func respondWithError(c *gin.Context, logger *slog.Logger, err error) {
	if errors.Is(err, ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "JOB_NOT_FOUND",
			"error": "Job not found",
		})
		return
	}
	logger.ErrorContext(c.Request.Context(), "job request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":  "INTERNAL_ERROR",
		"error": "Server error",
	})
}
