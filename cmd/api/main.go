// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/doc-forge/internal/api"
	"github.com/yourusername/doc-forge/internal/auth"
	"github.com/yourusername/doc-forge/internal/config"
	"github.com/yourusername/doc-forge/internal/document"
	"github.com/yourusername/doc-forge/internal/jobs"
	"github.com/yourusername/doc-forge/internal/pdf"
	"github.com/yourusername/doc-forge/internal/service"
	"github.com/yourusername/doc-forge/internal/storage"
	"github.com/yourusername/doc-forge/internal/worker"
	"github.com/yourusername/doc-forge/pkg/logger"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// ドキュメントカタログ（DATABASE_URL が空ならメモリ実装で動作）
	catalog, closeCatalog, err := setupCatalog(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up document catalog: %v", err)
	}
	defer closeCatalog()

	// オブジェクトストレージ（MINIO_ENDPOINT が空ならローカルディスク）
	store, err := setupStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up storage: %v", err)
	}

	// ワーカー（変換の実体は pdf.Engine）
	engine := pdf.NewEngine(cfg.GhostscriptPath, pdf.CompressPreset(cfg.CompressPreset))
	executor := worker.New(worker.Options{
		Catalog:    catalog,
		Storage:    store,
		Transform:  engine,
		MaxRetries: cfg.MaxRetries,
		WorkDir:    cfg.WorkDir,
		Logger:     slogger,
	})

	// ジョブキュー（QUEUE_REDIS_URL が空ならインプロセスのメモリキュー）
	queue, shutdownQueue, err := setupQueue(ctx, cfg, executor, slogger)
	if err != nil {
		log.Fatalf("Failed to set up job queue: %v", err)
	}
	executor.Bind(queue)

	docService := service.NewDocumentService(catalog, queue, store, slogger)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, docService, catalog, queue)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slogger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("server shutdown failed", "error", err)
	}
	shutdownQueue(shutdownCtx)
}

// setupCatalog はドキュメントカタログの実装を選択します。
func setupCatalog(ctx context.Context, cfg *config.Config) (document.Catalog, func(), error) {
	if cfg.DatabaseURL == "" {
		return document.NewMemoryCatalog(), func() {}, nil
	}

	pool, err := document.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	catalog := document.NewPostgresCatalog(pool)
	if err := catalog.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return catalog, pool.Close, nil
}

// setupStorage はオブジェクトストレージの実装を選択します。
func setupStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.MinioEndpoint == "" {
		return storage.NewLocal(cfg.StorageDir)
	}

	m, err := storage.NewMinio(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := m.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// healthHandler はヘルスチェックのハンドラーを返します。カタログとキューの
// 疎通を存在しないIDの照会で確認します（不在は正常応答）。
func healthHandler(catalog document.Catalog, queue jobs.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		catalogOK := true
		if _, err := catalog.Get(ctx, "healthcheck"); err != nil && !errors.Is(err, document.ErrNotFound) {
			catalogOK = false
		}
		queueOK := true
		if _, err := queue.Result(ctx, "healthcheck"); err != nil {
			queueOK = false
		}

		status := http.StatusOK
		overall := "ok"
		if !catalogOK || !queueOK {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		c.JSON(status, gin.H{
			"status":  overall,
			"service": "doc-forge-api",
			"version": "0.1.0",
			"catalog": catalogOK,
			"queue":   queueOK,
		})
	}
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, docService *service.DocumentService, catalog document.Catalog, queue jobs.Queue) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", healthHandler(catalog, queue))

	authManager := auth.NewManager(cfg)

	apiGroup := router.Group("/api")
	{
		authRoutes := apiGroup.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := apiGroup.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			protected.POST("/documents/upload", api.UploadHandler(docService, cfg.MaxFileSize))
			protected.GET("/documents", api.ListDocumentsHandler(docService))
			protected.GET("/documents/:id", api.GetDocumentHandler(docService))
			protected.GET("/documents/:id/download", api.DownloadHandler(docService))
			protected.POST("/documents/process", api.ProcessHandler(docService))
			protected.GET("/jobs/:id", api.JobStatusHandler(docService))
		}
	}
}
