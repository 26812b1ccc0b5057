// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/yourusername/pdf-engine/internal/auth"
	"github.com/yourusername/pdf-engine/internal/config"
	"github.com/yourusername/pdf-engine/internal/jobs"
	"github.com/yourusername/pdf-engine/internal/pdf"
	"github.com/yourusername/pdf-engine/internal/storage"
	"github.com/yourusername/pdf-engine/internal/store"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// リレーショナルストアへ接続（スキーマ初期化込み）
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	// アップロード・成果物ディレクトリの初期化
	files, err := storage.NewManager(cfg.UploadDir, cfg.ProcessedDir)
	if err != nil {
		log.Fatalf("Failed to init storage: %v", err)
	}

	pdfService := pdf.NewService(cfg, files)

	authManager := auth.NewManager(cfg, db, log.Default())
	if err := authManager.EnsureDefaultAdmin(context.Background()); err != nil {
		log.Fatalf("Failed to ensure default admin: %v", err)
	}

	jobManager, err := setupJobs(cfg, db, pdfService, files)
	if err != nil {
		log.Fatalf("Failed to init job manager: %v", err)
	}
	if err := jobManager.StartWorkers(); err != nil {
		log.Fatalf("Failed to start job workers: %v", err)
	}
	defer jobManager.Shutdown()

	// 保持期限を過ぎたファイルを毎時回収する
	sweeper := cron.New()
	retention := time.Duration(cfg.FileRetentionHours) * time.Hour
	if _, err := sweeper.AddFunc("@hourly", func() {
		removed, err := files.CleanupOlderThan(retention)
		if err != nil {
			log.Printf("File sweep failed: %v", err)
			return
		}
		if removed > 0 {
			log.Printf("File sweep removed %d files", removed)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule file sweep: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = cfg.MaxFileSize

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
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
		"X-API-Key",    // APIキー認証用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, db, authManager, pdfService, jobManager, files)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pdf-engine-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *store.Store,
	authManager *auth.Manager,
	pdfService *pdf.Service,
	jobManager *jobs.Manager,
	files *storage.Manager,
) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		api.GET("/health", handleHealth)

		authRoutes := api.Group("/auth")
		{
			// サインアップ・ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/signup", authManager.Signup)
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
			authRoutes.GET("/profile",
				authManager.RequireLogin(),
				authManager.Profile,
			)
			authRoutes.POST("/apikey",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.RegenerateAPIKey,
			)
		}

		// PDF操作系はAPIキー認証（プログラムからの利用を想定）
		protected := api.Group("")
		protected.Use(authManager.RequireAPIKey())
		{
			protected.POST("/upload", pdf.UploadHandler(pdfService))
			protected.POST("/pdf/merge", pdf.MergeHandler(jobManager))
			protected.POST("/pdf/split", pdf.SplitHandler(jobManager))
			protected.POST("/pdf/convert-to-images", pdf.ConvertHandler(jobManager))
			protected.POST("/pdf/compress", pdf.CompressHandler(jobManager))
			protected.POST("/pdf/metadata", pdf.MetadataHandler(pdfService))
			protected.GET("/jobs", jobsListHandler(db))
			protected.GET("/jobs/:id", jobStatusHandler(db, jobManager))
			protected.GET("/download/:filename", downloadHandler(db, files))
			protected.POST("/cleanup", cleanupHandler(cfg, files))
		}
	}
}
