// Package service はカタログ・キュー・ストレージを束ねるオーケストレーション層です。
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/yourusername/doc-forge/internal/apperr"
	"github.com/yourusername/doc-forge/internal/document"
	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/storage"
)

// DocumentService はドキュメントの作成・照会と処理リクエストの投入を担います。
// 状態を持たないため複数のHTTPハンドラーから並行に呼び出せます。
type DocumentService struct {
	catalog document.Catalog
	queue   jobs.Queue
	store   storage.Storage
	logger  *slog.Logger
}

// NewDocumentService は DocumentService を作成します。キューはグローバルでは
// なく、ここで明示的に注入されます。
func NewDocumentService(catalog document.Catalog, queue jobs.Queue, store storage.Storage, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		catalog: catalog,
		queue:   queue,
		store:   store,
		logger:  logger,
	}
}

// CreateDocument は pending 状態の新しいドキュメントを割り当てます。
func (s *DocumentService) CreateDocument(ctx context.Context, name, fileType string, size int64, userID string) (*document.Document, error) {
	doc := &document.Document{
		ID:     uuid.NewString(),
		Name:   name,
		Type:   fileType,
		Size:   size,
		Status: document.StatusPending,
		UserID: userID,
	}
	created, err := s.catalog.Create(ctx, doc)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "failed to create document", err)
	}
	return created, nil
}

// UploadDocument はドキュメントレコードを作成し、バイト列を
// <documentID>/<name> のキーで保存します。
func (s *DocumentService) UploadDocument(ctx context.Context, name, fileType string, data []byte, userID string) (*document.Document, error) {
	doc, err := s.CreateDocument(ctx, name, fileType, int64(len(data)), userID)
	if err != nil {
		return nil, err
	}
	key := doc.ID + "/" + name
	if err := s.store.Put(ctx, key, data); err != nil {
		return nil, apperr.TransientStorage("failed to store uploaded file", err)
	}
	return doc, nil
}

// GetDocument はIDでドキュメントを取得します。
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	doc, err := s.catalog.Get(ctx, id)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return nil, apperr.NotFound("document %s not found", id)
		}
		return nil, apperr.New(apperr.KindInternal, "failed to load document", err)
	}
	return doc, nil
}

// ListDocuments は created_at 降順の一覧を返します。userID 指定で絞り込めます。
func (s *DocumentService) ListDocuments(ctx context.Context, userID string) ([]*document.Document, error) {
	list, err := s.catalog.List(ctx, document.ListFilter{UserID: userID})
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "failed to list documents", err)
	}
	return list, nil
}

// ProcessResult は処理リクエスト受理時の応答です。
type ProcessResult struct {
	JobID  string      `json:"jobId"`
	Status jobs.Status `json:"status"`
}

// ProcessDocument は操作を検証し、ジョブをちょうど1件キューへ投入して
// 即座に返ります。完了は GetJobStatus かドキュメント状態で観測します。
func (s *DocumentService) ProcessDocument(ctx context.Context, documentID string, op document.Operation, params document.ProcessParams) (*ProcessResult, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if !document.ValidOperation(op) {
		return nil, apperr.Validation("unsupported operation: %s", op)
	}

	payload := &jobs.Payload{
		JobID:      uuid.NewString(),
		DocumentID: documentID,
		Operation:  op,
		Params:     params,
	}
	if err := s.queue.Enqueue(ctx, payload); err != nil {
		return nil, apperr.TransientQueue("failed to enqueue processing job", err)
	}

	s.logger.Info("processing job enqueued", "job_id", payload.JobID, "document_id", documentID, "operation", op)
	return &ProcessResult{JobID: payload.JobID, Status: jobs.StatusPending}, nil
}

// JobStatus は get_job_status の応答です。
type JobStatus struct {
	JobID    string      `json:"jobId"`
	Status   jobs.Status `json:"status"`
	Progress int         `json:"progress"`
}

// GetJobStatus はジョブの最新状態を結果ストア経由で読み取ります。
func (s *DocumentService) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	record, err := s.queue.Result(ctx, jobID)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "failed to load job status", err)
	}
	if record == nil {
		return nil, apperr.NotFound("job %s not found", jobID)
	}
	return &JobStatus{
		JobID:    record.JobID,
		Status:   record.Status,
		Progress: record.Progress.Percent,
	}, nil
}

// OpenResult は完了済みドキュメントの成果物バイト列を返します。
func (s *DocumentService) OpenResult(ctx context.Context, documentID string) ([]byte, string, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	if doc.Status != document.StatusCompleted || doc.URL == "" {
		return nil, "", apperr.NotFound("document %s has no result artifact", documentID)
	}
	data, err := s.store.Get(ctx, doc.URL)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", apperr.NotFound("result artifact missing for document %s", documentID)
		}
		return nil, "", apperr.TransientStorage(fmt.Sprintf("failed to fetch result for document %s", documentID), err)
	}
	return data, doc.Name, nil
}
