// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// セッション/認証設定
	SessionSecret string // セッション署名用の秘密鍵
	AdminPassword string // 初期管理者ユーザーのパスワード（初回起動時のみ使用）

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// データベース設定
	DatabaseURL string // 接続URL（sqlite ファイルパス または postgres://...）

	// ファイル保存設定
	UploadDir          string // アップロードファイルの保存先
	ProcessedDir       string // 処理結果ファイルの保存先
	FileRetentionHours int    // ファイルの保持時間（時間）

	// ファイル制限
	MaxFileSize int64 // 単一ファイルの最大サイズ（バイト）
	MinFileSize int64 // 単一ファイルの最小サイズ（バイト）
	MaxPages    int   // 単一ファイルの最大ページ数

	// ジョブ/キュー設定
	QueueRedisURL       string // Asynq用Redis接続URL
	AsyncThresholdBytes int64  // 同期処理から非同期へ切り替えるサイズ閾値
	AsyncThresholdPages int    // 同期処理から非同期へ切り替えるページ閾値
	JobExpireMinutes    int    // Redis上の進捗レコードの有効期限（分）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// セッション/認証設定
		SessionSecret: getEnv("SESSION_SECRET", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// データベース設定
		DatabaseURL: getEnv("DATABASE_URL", "pdf_engine.db"),

		// ファイル保存設定
		UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
		ProcessedDir:       getEnv("PROCESSED_DIR", "processed"),
		FileRetentionHours: getEnvAsInt("FILE_RETENTION_HOURS", 24),

		// ファイル制限
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 52428800), // 50MB
		MinFileSize: getEnvAsInt64("MIN_FILE_SIZE", 1024),     // 1KB
		MaxPages:    getEnvAsInt("MAX_PAGES", 200),

		// ジョブ/キュー設定
		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		AsyncThresholdBytes: getEnvAsInt64("ASYNC_THRESHOLD_BYTES", 20*1024*1024), // 20MB
		AsyncThresholdPages: getEnvAsInt("ASYNC_THRESHOLD_PAGES", 120),
		JobExpireMinutes:    getEnvAsInt("JOB_EXPIRE_MINUTES", 10),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.MinFileSize < 0 || c.MinFileSize >= c.MaxFileSize {
		return fmt.Errorf("MIN_FILE_SIZE must be smaller than MAX_FILE_SIZE")
	}
	if c.UploadDir == "" || c.ProcessedDir == "" {
		return fmt.Errorf("UPLOAD_DIR and PROCESSED_DIR are required")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
