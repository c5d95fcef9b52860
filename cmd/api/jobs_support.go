package main

import (
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/agent-roster/internal/config"
	"github.com/yourusername/agent-roster/internal/jobs"
	"github.com/yourusername/agent-roster/internal/roster"
)

// setupJobs はジョブ記録用の Redis クライアントと Asynq マネージャーを作成します。
func setupJobs(cfg *config.Config, rosterService *roster.Service, logger *slog.Logger) (*jobs.Manager, *redis.Client, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}

	redisClient := redis.NewClient(opt)
	store := jobs.NewStore(redisClient, cfg.JobTTL())
	manager, err := jobs.NewManager(rosterService, store, jobs.Options{
		RedisURL:  cfg.QueueRedisURL,
		ExportDir: cfg.ExportDir,
		Logger:    logger,
	})
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, err
	}
	return manager, redisClient, nil
}
