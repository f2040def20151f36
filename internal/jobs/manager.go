package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	taskTypeProcess = "document:process"
	queueName       = "documents"
)

// Manager は asynq をブローカーとするキュー実装です。クライアント（投入側）と
// サーバー（ワーカー側）の両方を束ねます。
type Manager struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	store   ResultStore
	handler Handler
	logger  *slog.Logger
}

// ManagerOptions は Manager の構成です。
type ManagerOptions struct {
	RedisURL    string
	Concurrency int
	Store       ResultStore
	Handler     Handler
	Logger      *slog.Logger
}

// NewManager は asynq クライアントとサーバーを初期化します。
// 再試行はワーカーの明示的な責務なので、asynq 側の自動リトライは使いません。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("result store is nil")
	}
	if opts.Handler == nil {
		return nil, errors.New("handler is nil")
	}
	redisOpt, err := asynq.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName: 1,
		},
	})

	manager := &Manager{
		client:  client,
		server:  server,
		mux:     asynq.NewServeMux(),
		store:   opts.Store,
		handler: opts.Handler,
		logger:  logger,
	}
	manager.mux.HandleFunc(taskTypeProcess, manager.handleTask)
	return manager, nil
}

// StartWorkers は asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Error("asynq server stopped", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

func (m *Manager) Enqueue(ctx context.Context, payload *Payload) error {
	if payload == nil || payload.JobID == "" {
		return fmt.Errorf("payload with jobID is required")
	}
	if payload.Attempt == 0 {
		if err := m.store.Upsert(ctx, NewPendingRecord(payload)); err != nil {
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeProcess, body, asynq.Queue(queueName))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return nil
}

func (m *Manager) Result(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleTask(ctx context.Context, task *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to decode task payload: %w", err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}
	return m.handler(ctx, &payload)
}
