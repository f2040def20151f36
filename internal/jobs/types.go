// Package jobs はドキュメント処理ジョブのキュー投入と結果管理を提供します。
package jobs

import (
	"time"

	"github.com/yourusername/doc-forge/internal/document"
)

// Status はジョブの実行状態を表します。ドキュメント状態と同じ語彙を使います。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Progress は進捗の補足情報を表します。Percent は 0〜100 で、
// 100 になるのは成功時だけです。
type Progress struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態です。ワーカーの最後のコミット済み遷移を反映し、
// ワーカーの再起動後も参照できるよう結果ストアに永続化されます。
type Record struct {
	JobID      string     `json:"jobId"`
	DocumentID string     `json:"documentId"`
	Operation  string     `json:"operation"`
	Status     Status     `json:"status"`
	Progress   Progress   `json:"progress"`
	Attempts   int        `json:"attempts"`
	Error      *ErrorInfo `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ExpiresAt  time.Time  `json:"expiresAt,omitempty"`
}

// Payload はキューを流れるジョブの内容です。再試行では同じ JobID のまま
// Attempt だけが進みます。
type Payload struct {
	JobID      string                 `json:"jobId"`
	DocumentID string                 `json:"documentId"`
	Operation  document.Operation     `json:"operation"`
	Params     document.ProcessParams `json:"params"`
	Attempt    int                    `json:"attempt"`
}
