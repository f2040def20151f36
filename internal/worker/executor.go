// Package worker はキューから渡されたジョブを実行し、ドキュメントの
// 状態機械を駆動します。
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/doc-forge/internal/apperr"
	"github.com/yourusername/doc-forge/internal/document"
	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/storage"
)

// DefaultMaxRetries は一時的な失敗に対する通算実行回数の上限です。
const DefaultMaxRetries = 3

// Transformer は操作ごとの変換能力です。入出力はワークスペース上の
// ローカルファイルパスで受け渡します。
type Transformer interface {
	Merge(ctx context.Context, inputs []string, output string) error
	Compress(ctx context.Context, input, output string) error
	ConvertToPDF(ctx context.Context, input, output string) error
}

// Executor は1つのジョブを終端状態まで実行します。
// 状態遷移は操作の副作用より先にカタログへコミットされるため、実行途中の
// クラッシュは「processing のまま」として観測できます。
type Executor struct {
	catalog    document.Catalog
	store      storage.Storage
	transform  Transformer
	results    jobs.ResultStore
	queue      jobs.Queue
	maxRetries int
	workDir    string
	logger     *slog.Logger
}

// Options は Executor の構成です。
type Options struct {
	Catalog    document.Catalog
	Storage    storage.Storage
	Transform  Transformer
	Results    jobs.ResultStore
	MaxRetries int
	WorkDir    string
	Logger     *slog.Logger
}

// New は Executor を作成します。再試行の再投入先キューは相互参照になるため
// Bind で後から設定します。
func New(opts Options) *Executor {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "doc-forge")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		catalog:    opts.Catalog,
		store:      opts.Storage,
		transform:  opts.Transform,
		results:    opts.Results,
		maxRetries: maxRetries,
		workDir:    workDir,
		logger:     logger,
	}
}

// Bind は再試行の再投入に使うキューを設定します。
func (e *Executor) Bind(queue jobs.Queue) {
	e.queue = queue
}

// SetResults はジョブ結果ストアを設定します。結果ストアはキューの実装と
// 対で選択されるため、Bind と同じく後から設定できます。
func (e *Executor) SetResults(results jobs.ResultStore) {
	e.results = results
}

// Execute は1ジョブを実行します。配送が at-least-once である前提で、
// 重複配送は副作用なしで受理されます。
func (e *Executor) Execute(ctx context.Context, p *jobs.Payload) error {
	start := time.Now()
	attempts := p.Attempt + 1
	logger := e.logger.With("job_id", p.JobID, "document_id", p.DocumentID, "operation", p.Operation, "attempt", attempts)

	doc, err := e.catalog.Get(ctx, p.DocumentID)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			// ドキュメント不在はロジックエラーであり再試行しない
			logger.Warn("document missing, failing job permanently")
			return e.failJob(ctx, p.JobID, attempts, apperr.NotFound("document %s not found", p.DocumentID))
		}
		return e.handleFailure(ctx, p, attempts, apperr.TransientStorage("failed to load document", err))
	}

	outcome, err := e.claim(ctx, p, doc)
	if err != nil {
		return e.handleFailure(ctx, p, attempts, err)
	}
	switch outcome {
	case claimDuplicate:
		logger.Info("duplicate delivery ignored", "status", doc.Status)
		return nil
	case claimLost:
		// 別のジョブがドキュメントを保持している。待たずにこのジョブを
		// 終端化し、呼び出し側が get_job_status で観測できるようにする。
		logger.Warn("document held by another job, failing without retry", "status", doc.Status)
		return e.failJob(ctx, p.JobID, attempts,
			apperr.Processing(fmt.Sprintf("document %s is being processed by another job", p.DocumentID), nil))
	}

	if err := jobs.MarkProcessing(ctx, e.results, p.JobID, attempts); err != nil {
		logger.Warn("failed to record processing state", "error", err)
	}

	outputKey, runErr := e.run(ctx, p)
	if runErr != nil {
		return e.handleFailure(ctx, p, attempts, runErr)
	}

	if err := e.commitSuccess(ctx, p, outputKey); err != nil {
		return e.handleFailure(ctx, p, attempts, err)
	}

	// 成果物の書き込みが確定した後にのみ入力を削除する。途中の試行で
	// 消してしまうと再試行が入力を失うため。失敗してもジョブは成功のまま。
	e.cleanupSources(ctx, p, logger)

	logger.Info("job completed", "output_key", outputKey, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// claimOutcome は claim の結果を分類します。
type claimOutcome int

const (
	// claimAcquired はドキュメントの所有権を確保できたことを示します。
	claimAcquired claimOutcome = iota
	// claimDuplicate は自ジョブが既に実行済みの重複配送であることを示します。
	claimDuplicate
	// claimLost は別のジョブがドキュメントを保持していることを示します。
	claimLost
)

// claim は条件付き遷移でジョブの所有権を取ります。
// 再試行(Attempt>0)は通常、前回の試行が残した processing を引き継ぎますが、
// 前回が確保前に失敗していた場合はドキュメントが pending のままなので、
// 初回配送と同じ条件付き遷移で確保します。初回配送では自ジョブの結果
// レコードを見て、完了済みジョブの重複配送と、終端状態のドキュメントへの
// 新規リクエストを区別します。終端状態から抜けられるのは後者だけです。
func (e *Executor) claim(ctx context.Context, p *jobs.Payload, doc *document.Document) (claimOutcome, error) {
	if p.Attempt > 0 {
		if doc.Status == document.StatusProcessing {
			return claimAcquired, nil
		}
		if doc.Status.Terminal() {
			// 再試行中に別のジョブがドキュメントを終端させた
			return claimLost, nil
		}
		return e.transition(ctx, p.DocumentID, doc.Status)
	}

	record, err := e.results.Get(ctx, p.JobID)
	if err != nil {
		return claimLost, apperr.TransientQueue("failed to load job record", err)
	}
	if record != nil && record.Status != jobs.StatusPending {
		// このジョブ自体は既に実行済み（at-least-once の重複配送）
		return claimDuplicate, nil
	}

	if doc.Status == document.StatusProcessing {
		// 別のジョブが同じドキュメントを実行中
		return claimLost, nil
	}
	return e.transition(ctx, p.DocumentID, doc.Status)
}

// transition は from から processing への条件付き遷移を試みます。
func (e *Executor) transition(ctx context.Context, docID string, from document.Status) (claimOutcome, error) {
	err := e.catalog.TransitionStatus(ctx, docID, from, document.StatusProcessing)
	if err == nil {
		return claimAcquired, nil
	}
	if errors.Is(err, document.ErrStatusConflict) {
		// 同じドキュメントを別ワーカーが先に確保した
		return claimLost, nil
	}
	if errors.Is(err, document.ErrNotFound) {
		return claimLost, apperr.NotFound("document %s not found", docID)
	}
	return claimLost, apperr.TransientStorage("failed to claim document", err)
}

// run は操作を実行し、成果物のストレージキーを返します。
func (e *Executor) run(ctx context.Context, p *jobs.Payload) (string, error) {
	ws, err := os.MkdirTemp(e.workDir, "job-")
	if err != nil {
		if mkErr := os.MkdirAll(e.workDir, 0o750); mkErr == nil {
			ws, err = os.MkdirTemp(e.workDir, "job-")
		}
		if err != nil {
			return "", apperr.TransientStorage("failed to create workspace", err)
		}
	}
	defer os.RemoveAll(ws)

	e.reportProgress(ctx, p.JobID, 10, "load")

	inputs, err := e.fetchSources(ctx, ws, p.Params.Sources)
	if err != nil {
		return "", err
	}

	outputName, err := resolveOutputName(p.Operation, p.Params)
	if err != nil {
		return "", err
	}
	outputPath := filepath.Join(ws, outputName)

	e.reportProgress(ctx, p.JobID, 40, "process")

	switch p.Operation {
	case document.OperationMergePDFs:
		if len(inputs) < 2 {
			return "", apperr.Validation("merge_pdfs requires at least two source files")
		}
		err = e.transform.Merge(ctx, inputs, outputPath)
	case document.OperationCompressPDF:
		if len(inputs) != 1 {
			return "", apperr.Validation("compress_pdf requires exactly one source file")
		}
		err = e.transform.Compress(ctx, inputs[0], outputPath)
	case document.OperationConvertToPDF:
		if len(inputs) != 1 {
			return "", apperr.Validation("convert_to_pdf requires exactly one source file")
		}
		err = e.transform.ConvertToPDF(ctx, inputs[0], outputPath)
	default:
		err = apperr.Validation("unsupported operation: %s", p.Operation)
	}
	if err != nil {
		return "", err
	}

	output, err := os.ReadFile(outputPath)
	if err != nil {
		return "", apperr.Processing("failed to read transform output", err)
	}

	e.reportProgress(ctx, p.JobID, 80, "store")

	// 成果物キーはドキュメントIDから導出する。再配送時の二重書き込みは
	// 同一キーへの上書きなので安全。
	outputKey := p.DocumentID + "/" + outputName
	if err := e.store.Put(ctx, outputKey, output); err != nil {
		return "", apperr.TransientStorage("failed to store output artifact", err)
	}
	return outputKey, nil
}

// fetchSources は入力アーティファクトをワークスペースへ取り出します。
func (e *Executor) fetchSources(ctx context.Context, ws string, sources []string) ([]string, error) {
	if len(sources) == 0 {
		return nil, apperr.Validation("at least one source storage key is required")
	}
	inDir := filepath.Join(ws, "in")
	if err := os.MkdirAll(inDir, 0o750); err != nil {
		return nil, apperr.TransientStorage("failed to create input dir", err)
	}

	inputs := make([]string, 0, len(sources))
	for i, key := range sources {
		data, err := e.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// 入力の欠落は再試行で直らない
				return nil, apperr.Processing(fmt.Sprintf("source artifact missing: %s", key), err)
			}
			return nil, apperr.TransientStorage(fmt.Sprintf("failed to fetch source %s", key), err)
		}
		path := filepath.Join(inDir, fmt.Sprintf("src-%03d%s", i, filepath.Ext(key)))
		if err := os.WriteFile(path, data, 0o640); err != nil {
			return nil, apperr.TransientStorage("failed to materialize source", err)
		}
		inputs = append(inputs, path)
	}
	return inputs, nil
}

// commitSuccess は成果物キーをドキュメントへ記録し completed へ遷移させます。
func (e *Executor) commitSuccess(ctx context.Context, p *jobs.Payload, outputKey string) error {
	// await 境界をまたいだ古いコピーを使わず、必ず読み直す
	doc, err := e.catalog.Get(ctx, p.DocumentID)
	if err != nil {
		return apperr.TransientStorage("failed to reload document", err)
	}
	doc.URL = outputKey
	doc.Status = document.StatusCompleted
	if _, err := e.catalog.Update(ctx, doc); err != nil {
		return apperr.TransientStorage("failed to record completion", err)
	}
	return jobs.MarkCompleted(ctx, e.results, p.JobID)
}

// handleFailure は失敗を分類し、再試行または終端化を行います。
func (e *Executor) handleFailure(ctx context.Context, p *jobs.Payload, attempts int, cause error) error {
	logger := e.logger.With("job_id", p.JobID, "document_id", p.DocumentID, "attempt", attempts)

	if apperr.IsRetryable(cause) && attempts < e.maxRetries && e.queue != nil {
		retry := *p
		retry.Attempt = attempts
		if err := e.queue.Enqueue(ctx, &retry); err == nil {
			// ドキュメントは processing のまま次の試行を待つ
			if uerr := e.results.Update(ctx, p.JobID, func(r *jobs.Record) {
				r.Attempts = attempts
				r.Progress.Stage = "retrying"
			}); uerr != nil {
				logger.Warn("failed to record retry", "error", uerr)
			}
			logger.Warn("transient failure, job re-enqueued", "error", cause)
			return nil
		}
		logger.Error("failed to re-enqueue job, failing permanently", "error", cause)
	}

	if err := e.catalog.TransitionStatus(ctx, p.DocumentID, document.StatusProcessing, document.StatusFailed); err != nil {
		// pending のまま掴めていなかった場合も failed にしておく
		if errors.Is(err, document.ErrStatusConflict) {
			_ = e.catalog.TransitionStatus(ctx, p.DocumentID, document.StatusPending, document.StatusFailed)
		}
	}
	logger.Error("job failed", "error", cause)
	return e.failJob(ctx, p.JobID, attempts, cause)
}

func (e *Executor) failJob(ctx context.Context, jobID string, attempts int, cause error) error {
	info := &jobs.ErrorInfo{
		Code:    string(apperr.KindOf(cause)),
		Message: cause.Error(),
	}
	if err := jobs.MarkFailed(ctx, e.results, jobID, attempts, info); err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	return nil
}

// cleanupSources は入力アーティファクトを削除します。ベストエフォートであり、
// 失敗してもジョブの結果には影響しません（明示的な契約）。
func (e *Executor) cleanupSources(ctx context.Context, p *jobs.Payload, logger *slog.Logger) {
	if p.Operation != document.OperationMergePDFs {
		return
	}
	for _, key := range p.Params.Sources {
		if err := e.store.Delete(ctx, key); err != nil {
			logger.Warn("source cleanup failed", "key", key, "error", err)
		}
	}
}

func (e *Executor) reportProgress(ctx context.Context, jobID string, percent int, stage string) {
	if err := jobs.UpdateProgress(ctx, e.results, jobID, percent, stage); err != nil {
		e.logger.Debug("failed to update progress", "job_id", jobID, "error", err)
	}
}

func resolveOutputName(op document.Operation, params document.ProcessParams) (string, error) {
	if params.Output != "" {
		cleaned := filepath.Base(filepath.Clean(params.Output))
		if cleaned == "." || cleaned == ".." || cleaned == string(filepath.Separator) {
			return "", apperr.Validation("invalid output name: %s", params.Output)
		}
		return cleaned, nil
	}
	switch op {
	case document.OperationMergePDFs:
		return "merged.pdf", nil
	case document.OperationCompressPDF:
		return "compressed.pdf", nil
	case document.OperationConvertToPDF:
		return "converted.pdf", nil
	default:
		return "", apperr.Validation("unsupported operation: %s", op)
	}
}
