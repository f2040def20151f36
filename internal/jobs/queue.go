package jobs

import "context"

// Handler はワーカー側のジョブ実行関数です。配送は at-least-once であり、
// 同じペイロードが複数回渡されても副作用が壊れないことが前提です。
type Handler func(ctx context.Context, payload *Payload) error

// Queue はジョブの投入口です。Enqueue は即座に返り、完了は
// Result（ジョブIDでの照会）またはドキュメント状態で観測します。
type Queue interface {
	// Enqueue はジョブを永続的に引き渡します。Attempt が 0 の場合のみ
	// pending の結果レコードを新規作成します（再試行では既存レコードを保ちます）。
	Enqueue(ctx context.Context, payload *Payload) error
	// Result は最新の既知状態を返します。未知のジョブIDでは (nil, nil) です。
	Result(ctx context.Context, jobID string) (*Record, error)
}

// ResultStore はジョブ結果の永続ストアです。
type ResultStore interface {
	// Get は見つからない場合 (nil, nil) を返します。
	Get(ctx context.Context, jobID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	// Update は既存レコードを read-modify-write で部分更新します。
	Update(ctx context.Context, jobID string, mutate func(*Record)) error
}

// NewPendingRecord は投入直後のレコードを作成します。
func NewPendingRecord(payload *Payload) *Record {
	return &Record{
		JobID:      payload.JobID,
		DocumentID: payload.DocumentID,
		Operation:  string(payload.Operation),
		Status:     StatusPending,
		Progress:   Progress{Percent: 0, Stage: "queued"},
	}
}

// MarkProcessing はジョブを実行中として記録します。attempts は通算実行回数です。
func MarkProcessing(ctx context.Context, store ResultStore, jobID string, attempts int) error {
	return store.Update(ctx, jobID, func(r *Record) {
		r.Status = StatusProcessing
		r.Attempts = attempts
		r.Progress = Progress{Percent: 0, Stage: "load"}
		r.Error = nil
	})
}

// UpdateProgress は進捗のみ更新します。
func UpdateProgress(ctx context.Context, store ResultStore, jobID string, percent int, stage string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return store.Update(ctx, jobID, func(r *Record) {
		r.Progress = Progress{Percent: percent, Stage: stage}
	})
}

// MarkCompleted はジョブ成功を記録します。progress は必ず 100 になります。
func MarkCompleted(ctx context.Context, store ResultStore, jobID string) error {
	return store.Update(ctx, jobID, func(r *Record) {
		r.Status = StatusCompleted
		r.Progress = Progress{Percent: 100, Stage: "completed"}
		r.Error = nil
	})
}

// MarkFailed はジョブ失敗を記録します。attempts は通算実行回数です。
func MarkFailed(ctx context.Context, store ResultStore, jobID string, attempts int, errInfo *ErrorInfo) error {
	return store.Update(ctx, jobID, func(r *Record) {
		r.Status = StatusFailed
		r.Attempts = attempts
		if errInfo != nil {
			r.Error = errInfo
		}
	})
}
