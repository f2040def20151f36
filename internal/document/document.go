// Package document はドキュメントのライフサイクル管理と処理の起点を提供します。
package document

import "time"

// Status はドキュメントの処理状態を表します。
// 遷移は pending → processing → completed | failed の一方向のみです。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態（completed / failed）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Operation はドキュメント変換の種別を表します。
type Operation string

const (
	OperationMergePDFs    Operation = "merge_pdfs"
	OperationCompressPDF  Operation = "compress_pdf"
	OperationConvertToPDF Operation = "convert_to_pdf"
)

// ValidOperation は operation が定義済みの種別かどうかを返します。
func ValidOperation(op Operation) bool {
	switch op {
	case OperationMergePDFs, OperationCompressPDF, OperationConvertToPDF:
		return true
	default:
		return false
	}
}

// ProcessParams は処理リクエストの操作別パラメータです。
type ProcessParams struct {
	// Sources は入力アーティファクトのストレージキーです。
	// merge_pdfs では指定順がそのまま結合順になります。
	Sources []string `json:"sources,omitempty"`
	// Output は成果物のファイル名です。省略時は操作ごとの既定名を使います。
	Output string `json:"output,omitempty"`
}

// Document はカタログに保存されるドキュメントレコードです。
type Document struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Size      int64             `json:"size"`
	Status    Status            `json:"status"`
	URL       string            `json:"url,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Clone はカタログ外へ渡しても安全な複製を返します。
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	copied := *d
	if d.Metadata != nil {
		copied.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}
