// Package store はユーザー・APIキー・ジョブレコードを保持するリレーショナルストアを提供します。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// Store はデータベース接続とクエリを集約します。
type Store struct {
	db     *sql.DB
	driver string
}

// Open は DATABASE_URL に応じてデータベースを開き、スキーマを初期化します。
// postgres:// で始まるURLは PostgreSQL、それ以外は SQLite のファイルパスとして扱います。
func Open(databaseURL string) (*Store, error) {
	driver := driverSQLite
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = driverPostgres
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// コネクションプールの設定
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB は既存の *sql.DB から Store を作成します（テスト用）。
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Close はデータベース接続を閉じます。
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	userPK := "INTEGER PRIMARY KEY AUTOINCREMENT"
	timestampType := "TIMESTAMP"
	if s.driver == driverPostgres {
		userPK = "BIGSERIAL PRIMARY KEY"
		timestampType = "TIMESTAMPTZ"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			api_key_hash TEXT NOT NULL UNIQUE,
			api_key_prefix TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at %s NOT NULL
		)`, userPK, timestampType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS jobs (
			id %s,
			user_id BIGINT NOT NULL REFERENCES users(id),
			operation TEXT NOT NULL,
			input_files TEXT NOT NULL DEFAULT '[]',
			output_files TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			created_at %s NOT NULL,
			completed_at %s
		)`, userPK, timestampType, timestampType),
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// rebind は `?` プレースホルダーを PostgreSQL の `$n` 形式に変換します。
// SQLite の場合は入力をそのまま返します。
func (s *Store) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
