// Package api はHTTPハンドラー群を提供します。処理の実体はサービス層にあり、
// ここはリクエスト/レスポンスの変換だけを行う薄い層です。
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/doc-forge/internal/apperr"
	"github.com/yourusername/doc-forge/internal/document"
	"github.com/yourusername/doc-forge/internal/service"
)

// DocumentService はハンドラーが依存するサービス契約です。
type DocumentService interface {
	UploadDocument(ctx context.Context, name, fileType string, data []byte, userID string) (*document.Document, error)
	GetDocument(ctx context.Context, id string) (*document.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]*document.Document, error)
	ProcessDocument(ctx context.Context, documentID string, op document.Operation, params document.ProcessParams) (*service.ProcessResult, error)
	GetJobStatus(ctx context.Context, jobID string) (*service.JobStatus, error)
	OpenResult(ctx context.Context, documentID string) ([]byte, string, error)
}

var allowedUploadTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
	"image/tiff":      {},
	"image/webp":      {},
}

// UploadHandler は multipart のファイルを受け取りドキュメントを登録します。
func UploadHandler(svc DocumentService, maxFileSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "file フィールドでファイルを送ってください。",
			})
			return
		}
		if maxFileSize > 0 && fileHeader.Size > maxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    "FILE_TOO_LARGE",
				"message": fmt.Sprintf("ファイルサイズが上限(%dバイト)を超えています。", maxFileSize),
			})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			respondWithError(c, apperr.New(apperr.KindInternal, "failed to open upload", err))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			respondWithError(c, apperr.New(apperr.KindInternal, "failed to read upload", err))
			return
		}

		detected := mimetype.Detect(data)
		if _, ok := allowedUploadTypes[detected.String()]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "UNSUPPORTED_TYPE",
				"message": fmt.Sprintf("このファイル形式には対応していません: %s", detected.String()),
			})
			return
		}

		name := filepath.Base(fileHeader.Filename)
		doc, err := svc.UploadDocument(c.Request.Context(), name, detected.String(), data, userFrom(c))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"documentId": doc.ID,
			"name":       doc.Name,
			"size":       doc.Size,
			"status":     doc.Status,
		})
	}
}

// ListDocumentsHandler はドキュメント一覧を返します。
func ListDocumentsHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := svc.ListDocuments(c.Request.Context(), c.Query("userId"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs})
	}
}

// GetDocumentHandler は単一ドキュメントを返します。
func GetDocumentHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := svc.GetDocument(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

type processRequest struct {
	DocumentID string                 `json:"documentId" binding:"required"`
	Operation  string                 `json:"operation" binding:"required"`
	Params     document.ProcessParams `json:"params"`
}

// ProcessHandler は処理リクエストを受理しジョブIDを返します（非同期境界）。
func ProcessHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req processRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "documentId と operation を JSON で送ってください。",
			})
			return
		}

		result, err := svc.ProcessDocument(c.Request.Context(), req.DocumentID, document.Operation(req.Operation), req.Params)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, result)
	}
}

// JobStatusHandler はジョブの状態を返します。
func JobStatusHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}
		status, err := svc.GetJobStatus(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// DownloadHandler は完了済みドキュメントの成果物を返します。
func DownloadHandler(svc DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, name, err := svc.OpenResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondWithError(c, err)
			return
		}
		encodedName := url.PathEscape(name)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", name, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "application/pdf", data)
	}
}

// respondWithError はエラー分類をHTTPステータスへ対応付けます。
func respondWithError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    string(apperr.KindInternal),
			"message": "予期しないエラーが発生しました。",
		})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindTransientStorage, apperr.KindTransientQueue:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"code":    string(appErr.Kind),
		"message": appErr.Message,
	})
}

func userFrom(c *gin.Context) string {
	if user, ok := c.Get("auth.user"); ok {
		if name, ok := user.(string); ok {
			return name
		}
	}
	return ""
}
