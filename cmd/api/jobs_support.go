package main

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/doc-forge/internal/config"
	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/worker"
)

// setupQueue はジョブキューの実装を選択します。
// QUEUE_REDIS_URL が設定されていれば asynq + Redis、なければプロセス内の
// メモリキューで動作します。戻り値のクローズ関数は処理中のジョブを
// 待ってから返ります。
func setupQueue(ctx context.Context, cfg *config.Config, executor *worker.Executor, logger *slog.Logger) (jobs.Queue, func(context.Context), error) {
	if cfg.QueueRedisURL == "" {
		store := jobs.NewMemoryStore()
		executor.SetResults(store)
		queue := jobs.NewMemoryQueue(store, executor.Execute, cfg.WorkerConcurrency)
		queue.Start(ctx)
		shutdown := func(shutdownCtx context.Context) {
			done := make(chan struct{})
			go func() {
				queue.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-shutdownCtx.Done():
				logger.Warn("shutdown timed out with jobs still queued")
			}
		}
		return queue, shutdown, nil
	}

	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}
	redisClient := redis.NewClient(opt)

	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	store := jobs.NewRedisStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	executor.SetResults(store)

	manager, err := jobs.NewManager(jobs.ManagerOptions{
		RedisURL:    cfg.QueueRedisURL,
		Concurrency: cfg.WorkerConcurrency,
		Store:       store,
		Handler:     executor.Execute,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}
	manager.StartWorkers()

	shutdown := func(shutdownCtx context.Context) {
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("queue shutdown failed", "error", err)
		}
		if err := redisClient.Close(); err != nil {
			logger.Error("closing redis client failed", "error", err)
		}
	}
	return manager, shutdown, nil
}
