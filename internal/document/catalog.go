package document

import (
	"context"
	"errors"
)

var (
	// ErrNotFound は指定IDのドキュメントが存在しないことを表します。
	ErrNotFound = errors.New("document not found")
	// ErrStatusConflict は条件付き状態遷移が他の書き込みに負けたことを表します。
	ErrStatusConflict = errors.New("document status conflict")
)

// ListFilter は List の絞り込み条件です。ゼロ値は全件を意味します。
type ListFilter struct {
	UserID string
}

// Catalog はドキュメントレコードの唯一の永続先です。
// ワーカーとサービスはここを経由してのみ状態を変更します。
type Catalog interface {
	Create(ctx context.Context, doc *Document) (*Document, error)
	// Get は見つからない場合 ErrNotFound を返します。
	Get(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, doc *Document) (*Document, error)
	// List は created_at 降順で返します。
	List(ctx context.Context, filter ListFilter) ([]*Document, error)
	// TransitionStatus は現在の状態が from の場合にのみ to へ遷移させます。
	// 並行するワーカーが同じドキュメントを同時に processing にしないための
	// 条件付き書き込みです。負けた側には ErrStatusConflict が返ります。
	TransitionStatus(ctx context.Context, id string, from, to Status) error
}
