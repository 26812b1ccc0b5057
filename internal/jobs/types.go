// Package jobs は非同期ジョブ管理機能を提供します。
// ジョブレコードの正本はリレーショナルストアにあり、Redis上のレコードは
// 実行中ジョブの進捗をTTL付きでキャッシュするためだけに使用します。
package jobs

import (
	"time"

	"github.com/yourusername/pdf-engine/internal/pdf"
	"github.com/yourusername/pdf-engine/internal/store"
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// Record はRedisに保存するジョブの進捗スナップショットです。
type Record struct {
	JobID     int64           `json:"jobId"`
	Operation string          `json:"operation"`
	Status    store.JobStatus `json:"status"`
	Progress  ProgressInfo    `json:"progress"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// TaskPayload はPDF操作ジョブのペイロードです。
type TaskPayload struct {
	JobID   int64        `json:"jobId"`
	UserID  int64        `json:"userId"`
	Request *pdf.Request `json:"request"`
}
