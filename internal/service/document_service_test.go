package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/yourusername/doc-forge/internal/apperr"
	"github.com/yourusername/doc-forge/internal/document"
	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/storage"
	"github.com/yourusername/doc-forge/internal/worker"
)

type recordingQueue struct {
	store  jobs.ResultStore
	queued []*jobs.Payload
	err    error
}

func (q *recordingQueue) Enqueue(ctx context.Context, payload *jobs.Payload) error {
	if q.err != nil {
		return q.err
	}
	if payload.Attempt == 0 {
		if err := q.store.Upsert(ctx, jobs.NewPendingRecord(payload)); err != nil {
			return err
		}
	}
	q.queued = append(q.queued, payload)
	return nil
}

func (q *recordingQueue) Result(ctx context.Context, jobID string) (*jobs.Record, error) {
	return q.store.Get(ctx, jobID)
}

func newTestService(t *testing.T) (*DocumentService, *recordingQueue, *document.MemoryCatalog, storage.Storage) {
	t.Helper()
	catalog := document.NewMemoryCatalog()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	queue := &recordingQueue{store: jobs.NewMemoryStore()}
	svc := NewDocumentService(catalog, queue, store, nil)
	return svc, queue, catalog, store
}

func TestUploadDocument(t *testing.T) {
	ctx := context.Background()
	svc, _, _, store := newTestService(t)

	doc, err := svc.UploadDocument(ctx, "paper.pdf", "application/pdf", []byte("%PDF-1.4"), "alice")
	if err != nil {
		t.Fatalf("UploadDocument returned error: %v", err)
	}
	if doc.Status != document.StatusPending {
		t.Fatalf("new document status = %s, want pending", doc.Status)
	}
	if doc.Size != 8 {
		t.Fatalf("document size = %d, want 8", doc.Size)
	}

	data, err := store.Get(ctx, doc.ID+"/paper.pdf")
	if err != nil {
		t.Fatalf("uploaded bytes not stored: %v", err)
	}
	if !bytes.Equal(data, []byte("%PDF-1.4")) {
		t.Fatalf("stored bytes = %q", data)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.GetDocument(context.Background(), "missing")
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestListDocumentsFiltersByUser(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	if _, err := svc.CreateDocument(ctx, "a.pdf", "application/pdf", 1, "alice"); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := svc.CreateDocument(ctx, "b.pdf", "application/pdf", 1, "bob"); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	list, err := svc.ListDocuments(ctx, "alice")
	if err != nil {
		t.Fatalf("ListDocuments returned error: %v", err)
	}
	if len(list) != 1 || list[0].Name != "a.pdf" {
		t.Fatalf("unexpected list: %#v", list)
	}

	all, err := svc.ListDocuments(ctx, "")
	if err != nil {
		t.Fatalf("ListDocuments returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered list length = %d, want 2", len(all))
	}
}

func TestProcessDocumentRejectsUnknownOperation(t *testing.T) {
	ctx := context.Background()
	svc, queue, _, _ := newTestService(t)

	doc, err := svc.CreateDocument(ctx, "a.pdf", "application/pdf", 1, "")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	_, err = svc.ProcessDocument(ctx, doc.ID, document.Operation("rotate_pages"), document.ProcessParams{})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if len(queue.queued) != 0 {
		t.Fatal("invalid operation must not reach the queue")
	}
}

func TestProcessDocumentUnknownDocument(t *testing.T) {
	svc, queue, _, _ := newTestService(t)

	_, err := svc.ProcessDocument(context.Background(), "missing", document.OperationMergePDFs, document.ProcessParams{})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if len(queue.queued) != 0 {
		t.Fatal("unknown document must not reach the queue")
	}
}

func TestProcessDocumentEnqueuesPendingJob(t *testing.T) {
	ctx := context.Background()
	svc, queue, _, _ := newTestService(t)

	doc, err := svc.CreateDocument(ctx, "a.pdf", "application/pdf", 1, "")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	result, err := svc.ProcessDocument(ctx, doc.ID, document.OperationMergePDFs, document.ProcessParams{
		Sources: []string{"k1", "k2"},
	})
	if err != nil {
		t.Fatalf("ProcessDocument returned error: %v", err)
	}
	if result.Status != jobs.StatusPending {
		t.Fatalf("accepted status = %s, want pending", result.Status)
	}
	if len(queue.queued) != 1 {
		t.Fatalf("queued jobs = %d, want exactly 1", len(queue.queued))
	}
	if queue.queued[0].JobID != result.JobID {
		t.Fatalf("queued job id %s != accepted job id %s", queue.queued[0].JobID, result.JobID)
	}

	status, err := svc.GetJobStatus(ctx, result.JobID)
	if err != nil {
		t.Fatalf("GetJobStatus returned error: %v", err)
	}
	if status.Status != jobs.StatusPending || status.Progress != 0 {
		t.Fatalf("fresh job status = %+v, want pending with progress 0", status)
	}
}

func TestProcessDocumentQueueFailure(t *testing.T) {
	ctx := context.Background()
	svc, queue, _, _ := newTestService(t)
	queue.err = errors.New("broker unreachable")

	doc, err := svc.CreateDocument(ctx, "a.pdf", "application/pdf", 1, "")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	_, err = svc.ProcessDocument(ctx, doc.ID, document.OperationMergePDFs, document.ProcessParams{})
	if apperr.KindOf(err) != apperr.KindTransientQueue {
		t.Fatalf("expected TRANSIENT_QUEUE_ERROR, got %v", err)
	}
}

func TestGetJobStatusUnknownJob(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.GetJobStatus(context.Background(), "no-such-job")
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestOpenResultRequiresCompletion(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	doc, err := svc.CreateDocument(ctx, "a.pdf", "application/pdf", 1, "")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	_, _, err = svc.OpenResult(ctx, doc.ID)
	if !apperr.IsNotFound(err) {
		t.Fatalf("pending document must have no result, got %v", err)
	}
}

type concatTransformer struct{}

func (concatTransformer) Merge(ctx context.Context, inputs []string, output string) error {
	var buf bytes.Buffer
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return os.WriteFile(output, buf.Bytes(), 0o640)
}

func (concatTransformer) Compress(ctx context.Context, input, output string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0o640)
}

func (concatTransformer) ConvertToPDF(ctx context.Context, input, output string) error {
	return concatTransformer{}.Compress(ctx, input, output)
}

// アップロードから結合完了までをメモリキューで通しで動かす。
func TestMergePipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := document.NewMemoryCatalog()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	results := jobs.NewMemoryStore()

	executor := worker.New(worker.Options{
		Catalog:   catalog,
		Storage:   store,
		Transform: concatTransformer{},
		Results:   results,
		WorkDir:   t.TempDir(),
	})
	queue := jobs.NewMemoryQueue(results, executor.Execute, 2)
	executor.Bind(queue)
	queue.Start(ctx)

	svc := NewDocumentService(catalog, queue, store, nil)

	doc, err := svc.UploadDocument(ctx, "target.pdf", "application/pdf", []byte("HEAD"), "")
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if err := store.Put(ctx, doc.ID+"/tail.pdf", []byte("TAIL")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := svc.ProcessDocument(ctx, doc.ID, document.OperationMergePDFs, document.ProcessParams{
		Sources: []string{doc.ID + "/target.pdf", doc.ID + "/tail.pdf"},
	})
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	queue.Wait()

	status, err := svc.GetJobStatus(ctx, result.JobID)
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if status.Status != jobs.StatusCompleted || status.Progress != 100 {
		t.Fatalf("job status = %+v, want completed at 100%%", status)
	}

	data, _, err := svc.OpenResult(ctx, doc.ID)
	if err != nil {
		t.Fatalf("OpenResult: %v", err)
	}
	if string(data) != "HEADTAIL" {
		t.Fatalf("merged result = %q, want %q", data, "HEADTAIL")
	}
}
