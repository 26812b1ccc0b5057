package store

import "time"

// User はサービス利用者を表します。APIキーはSHA-256ハッシュのみを保持します。
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	APIKeyHash   string
	APIKeyPrefix string
	IsActive     bool
	CreatedAt    time.Time
}

// JobStatus はジョブの実行状態を表します。
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal は状態が終端（以後更新されない）かどうかを返します。
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job はPDF処理ジョブのレコードです。入出力ファイル名はJSON配列として永続化されます。
type Job struct {
	ID           int64
	UserID       int64
	Operation    string
	InputFiles   []string
	OutputFiles  []string
	Status       JobStatus
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}
