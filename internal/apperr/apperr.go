// Package apperr はアプリケーション共通のエラー分類を提供します。
package apperr

import (
	"errors"
	"fmt"
)

// Kind はエラーの分類を表します。再試行の可否はこの分類で決まります。
type Kind string

const (
	// KindValidation は入力不正です。再試行しても解決しません。
	KindValidation Kind = "VALIDATION_ERROR"
	// KindNotFound は対象リソースが存在しないことを表します。
	KindNotFound Kind = "NOT_FOUND"
	// KindTransientStorage はストレージ入出力の一時的な失敗です。
	KindTransientStorage Kind = "TRANSIENT_STORAGE_ERROR"
	// KindTransientQueue はキュー/ブローカーの一時的な失敗です。
	KindTransientQueue Kind = "TRANSIENT_QUEUE_ERROR"
	// KindProcessing は処理固有の失敗（破損した入力など）です。
	KindProcessing Kind = "PROCESSING_ERROR"
	// KindInternal は上記に分類できない失敗です。
	KindInternal Kind = "INTERNAL_ERROR"
)

// Error はコードとメッセージを持つ構造化エラーです。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New は指定した分類のエラーを作成します。
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation は入力不正エラーを作成します。
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound は未検出エラーを作成します。
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// TransientStorage はストレージの一時的な失敗を作成します。
func TransientStorage(message string, cause error) *Error {
	return &Error{Kind: KindTransientStorage, Message: message, Err: cause}
}

// TransientQueue はキューの一時的な失敗を作成します。
func TransientQueue(message string, cause error) *Error {
	return &Error{Kind: KindTransientQueue, Message: message, Err: cause}
}

// Processing は処理固有の失敗を作成します。恒久的な失敗として扱われます。
func Processing(message string, cause error) *Error {
	return &Error{Kind: KindProcessing, Message: message, Err: cause}
}

// KindOf はエラーの分類を返します。分類できない場合は KindInternal です。
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsRetryable は再試行で解決しうるエラーかどうかを返します。
// 明示的に一時的と分類されたものだけが再試行されます。
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientStorage, KindTransientQueue:
		return true
	default:
		return false
	}
}

// IsNotFound は未検出エラーかどうかを返します。
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsValidation は入力不正エラーかどうかを返します。
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
