package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore はメモリ上の結果ストアです（テスト・ローカル実行用）。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore は空のストアを作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[jobID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	copied := *record
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.records[copied.JobID] = &copied
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, jobID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	mutate(record)
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryQueue はチャネルとワーカーゴルーチンによるキュー実装です。
// ブローカーなしでパイプライン全体を動かすために使います。配送保証は
// プロセス内に限られるため本番ではブローカー実装を使ってください。
type MemoryQueue struct {
	store   ResultStore
	handler Handler
	ch      chan *Payload
	wg      sync.WaitGroup
	once    sync.Once
	workers int
	ctx     context.Context
}

// NewMemoryQueue はキューを作成します。Start を呼ぶまでジョブは実行されません。
func NewMemoryQueue(store ResultStore, handler Handler, workers int) *MemoryQueue {
	if workers <= 0 {
		workers = 4
	}
	return &MemoryQueue{
		store:   store,
		handler: handler,
		ch:      make(chan *Payload, 256),
		workers: workers,
	}
}

// Start はワーカーゴルーチンを起動します。ctx のキャンセルで停止します。
func (q *MemoryQueue) Start(ctx context.Context) {
	q.once.Do(func() {
		q.ctx = ctx
		for i := 0; i < q.workers; i++ {
			go func() {
				for {
					select {
					case <-ctx.Done():
						// 停止時はチャネルに残ったペイロードを実行せず捨て、
						// Wait のカウントを解放する
						q.drain()
						return
					case payload := <-q.ch:
						// ハンドラー自身が結果レコードへ終端状態を書き込む
						_ = q.handler(ctx, payload)
						q.wg.Done()
					}
				}
			}()
		}
	})
}

func (q *MemoryQueue) drain() {
	for {
		select {
		case <-q.ch:
			q.wg.Done()
		default:
			return
		}
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload *Payload) error {
	if payload == nil || payload.JobID == "" {
		return fmt.Errorf("payload with jobID is required")
	}
	if q.ctx != nil && q.ctx.Err() != nil {
		return fmt.Errorf("queue is shut down: %w", q.ctx.Err())
	}
	if payload.Attempt == 0 {
		if err := q.store.Upsert(ctx, NewPendingRecord(payload)); err != nil {
			return err
		}
	}

	q.wg.Add(1)
	select {
	case q.ch <- payload:
		return nil
	case <-ctx.Done():
		q.wg.Done()
		return ctx.Err()
	}
}

func (q *MemoryQueue) Result(ctx context.Context, jobID string) (*Record, error) {
	return q.store.Get(ctx, jobID)
}

// Wait は投入済みジョブ（再試行を含む）がすべて実行し終わるまでブロックします。
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}
