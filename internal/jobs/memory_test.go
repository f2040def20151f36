package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/doc-forge/internal/document"
)

func TestMemoryStoreGetUnknownJob(t *testing.T) {
	store := NewMemoryStore()

	record, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record != nil {
		t.Fatalf("unknown job must return nil, got %#v", record)
	}
}

func TestMemoryStoreUpdateUnknownJob(t *testing.T) {
	store := NewMemoryStore()

	err := store.Update(context.Background(), "missing", func(r *Record) {})
	if err == nil {
		t.Fatal("Update on unknown job must fail")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Upsert(ctx, &Record{JobID: "j1", Status: StatusPending}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	record, _ := store.Get(ctx, "j1")
	record.Status = StatusFailed

	reloaded, _ := store.Get(ctx, "j1")
	if reloaded.Status != StatusPending {
		t.Fatal("mutating a returned record must not affect the store")
	}
}

func TestNewPendingRecord(t *testing.T) {
	payload := &Payload{
		JobID:      "j1",
		DocumentID: "d1",
		Operation:  document.OperationMergePDFs,
	}
	record := NewPendingRecord(payload)
	if record.Status != StatusPending {
		t.Fatalf("status = %s, want pending", record.Status)
	}
	if record.Progress.Percent != 0 {
		t.Fatalf("pending progress = %d, want 0", record.Progress.Percent)
	}
	if record.Operation != "merge_pdfs" {
		t.Fatalf("operation = %s", record.Operation)
	}
}

func TestUpdateProgressClamps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Upsert(ctx, &Record{JobID: "j1", Status: StatusProcessing}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := UpdateProgress(ctx, store, "j1", 150, "process"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	record, _ := store.Get(ctx, "j1")
	if record.Progress.Percent != 100 {
		t.Fatalf("progress = %d, want clamped to 100", record.Progress.Percent)
	}

	if err := UpdateProgress(ctx, store, "j1", -5, "process"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	record, _ = store.Get(ctx, "j1")
	if record.Progress.Percent != 0 {
		t.Fatalf("progress = %d, want clamped to 0", record.Progress.Percent)
	}
}

func TestMarkCompletedForcesFullProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Upsert(ctx, &Record{JobID: "j1", Status: StatusProcessing, Progress: Progress{Percent: 40}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := MarkCompleted(ctx, store, "j1"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	record, _ := store.Get(ctx, "j1")
	if record.Status != StatusCompleted || record.Progress.Percent != 100 {
		t.Fatalf("record = %+v, want completed at 100", record)
	}
}

func TestMemoryQueueRunsHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)

	store := NewMemoryStore()
	queue := NewMemoryQueue(store, func(ctx context.Context, p *Payload) error {
		mu.Lock()
		seen[p.JobID]++
		mu.Unlock()
		return MarkCompleted(ctx, store, p.JobID)
	}, 2)
	queue.Start(ctx)

	for _, id := range []string{"j1", "j2", "j3"} {
		if err := queue.Enqueue(ctx, &Payload{JobID: id, DocumentID: "d1", Operation: document.OperationCompressPDF}); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	queue.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"j1", "j2", "j3"} {
		if seen[id] != 1 {
			t.Fatalf("job %s executed %d times, want 1", id, seen[id])
		}
		record, _ := store.Get(ctx, id)
		if record == nil || record.Status != StatusCompleted {
			t.Fatalf("job %s record = %#v, want completed", id, record)
		}
	}
}

func TestMemoryQueueEnqueueCreatesPendingRecordOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(store, func(ctx context.Context, p *Payload) error {
		if p.Attempt == 0 {
			return MarkProcessing(ctx, store, p.JobID, 1)
		}
		return nil
	}, 1)
	queue.Start(ctx)

	if err := queue.Enqueue(ctx, &Payload{JobID: "j1", DocumentID: "d1", Operation: document.OperationMergePDFs}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	queue.Wait()

	// 再試行の投入は既存レコードを pending に戻さない
	if err := queue.Enqueue(ctx, &Payload{JobID: "j1", DocumentID: "d1", Operation: document.OperationMergePDFs, Attempt: 1}); err != nil {
		t.Fatalf("Enqueue retry: %v", err)
	}
	queue.Wait()

	record, _ := store.Get(ctx, "j1")
	if record.Status != StatusProcessing {
		t.Fatalf("record status = %s, retry enqueue must not reset it", record.Status)
	}
}

func TestMemoryQueueShutdownReleasesWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	store := NewMemoryStore()
	queue := NewMemoryQueue(store, func(ctx context.Context, p *Payload) error {
		<-block
		return nil
	}, 1)
	queue.Start(ctx)

	// 1件目はハンドラー内でブロックし、残りはチャネルに滞留する
	for _, id := range []string{"j1", "j2", "j3"} {
		if err := queue.Enqueue(ctx, &Payload{JobID: id, DocumentID: "d1", Operation: document.OperationCompressPDF}); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}

	cancel()
	close(block)

	// 停止時に滞留分が解放されるので Wait はタイムアウトに頼らず戻る
	done := make(chan struct{})
	go func() {
		queue.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after shutdown")
	}

	if err := queue.Enqueue(context.Background(), &Payload{JobID: "j4", DocumentID: "d1", Operation: document.OperationCompressPDF}); err == nil {
		t.Fatal("enqueue after shutdown must be rejected")
	}
}

func TestMemoryQueueRejectsEmptyJobID(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(store, func(ctx context.Context, p *Payload) error { return nil }, 1)

	if err := queue.Enqueue(context.Background(), &Payload{}); err == nil {
		t.Fatal("payload without jobID must be rejected")
	}
}
