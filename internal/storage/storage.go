// Package storage はアーティファクトのバイト列永続化を抽象化します。
// ローカルディスクとオブジェクトストレージ（MinIO）は同一インターフェースの
// 交換可能な実装です。
package storage

import (
	"context"
	"errors"
)

// ErrNotFound は指定キーのオブジェクトが存在しないことを表します。
var ErrNotFound = errors.New("object not found")

// Storage はキー指定のバイト列ストアです。
// 同一キーへの書き込みは上書きであり、リトライ時に重複実行しても安全です。
type Storage interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get は見つからない場合 ErrNotFound を返します。
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
