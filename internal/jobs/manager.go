package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/pdf-engine/internal/config"
	"github.com/yourusername/pdf-engine/internal/pdf"
	"github.com/yourusername/pdf-engine/internal/storage"
	"github.com/yourusername/pdf-engine/internal/store"
)

const (
	taskTypePDF   = "pdf:process"
	queueName     = "pdf"
	workerCount   = 4
	maxTaskRetry  = 1
	taskRetention = 24 * time.Hour
)

// Manager はPDF操作ジョブの投入と実行を統括します。
// 閾値以下のリクエストはその場で同期実行し、それ以外はAsynq経由で
// ワーカーに委譲します。どちらの経路でもジョブ行の状態遷移は共通です。
type Manager struct {
	cfg     *config.Config
	db      *store.Store
	files   *storage.Manager
	service *pdf.Service
	records *RecordStore
	client  *asynq.Client
	server  *asynq.Server
	logger  *log.Logger
}

// NewManager はジョブマネージャーを初期化します。
func NewManager(cfg *config.Config, db *store.Store, service *pdf.Service, files *storage.Manager, logger *log.Logger) (*Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("jobs: parse redis url: %w", err)
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	}

	m := &Manager{
		cfg:     cfg,
		db:      db,
		files:   files,
		service: service,
		records: NewRecordStore(redis.NewClient(opt), time.Duration(cfg.JobExpireMinutes)*time.Minute),
		client:  asynq.NewClient(redisOpt),
		logger:  logger,
	}
	m.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: workerCount,
		Queues:      map[string]int{queueName: 1},
	})
	return m, nil
}

// Records はRedis上の進捗レコードストアを返します。
func (m *Manager) Records() *RecordStore {
	return m.records
}

// StartWorkers は非同期ワーカーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypePDF, m.handleTask)
	return m.server.Start(mux)
}

// Shutdown はワーカーとAsynqクライアントを停止します。
func (m *Manager) Shutdown() {
	m.server.Shutdown()
	if err := m.client.Close(); err != nil {
		m.logger.Printf("jobs: close asynq client: %v", err)
	}
}

// Submit は入力を検証してジョブ行を作成し、閾値に応じて同期実行または
// キュー投入を行います。pdf.JobSubmitter を実装します。
func (m *Manager) Submit(ctx context.Context, userID int64, req *pdf.Request) (*pdf.Submission, error) {
	inputs, err := m.service.DescribeInputs(req.Files)
	if err != nil {
		return nil, err
	}
	if err := m.service.ValidateRequest(req, inputs); err != nil {
		return nil, err
	}

	job := &store.Job{
		UserID:     userID,
		Operation:  string(req.Operation),
		Status:     store.JobPending,
		InputFiles: req.Files,
	}
	if err := m.db.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("jobs: create job: %w", err)
	}

	// 実行中の入力ファイルが定期クリーンアップに回収されないようリースを取る。
	m.files.Acquire(req.Files...)

	if !m.shouldAsync(inputs) {
		result, err := m.runJob(ctx, job.ID, req, nil)
		if err != nil {
			return nil, err
		}
		return &pdf.Submission{JobID: job.ID, Result: result}, nil
	}

	if _, err := m.records.Create(ctx, job.ID, job.Operation); err != nil {
		m.logger.Printf("jobs: create progress record for job %d: %v", job.ID, err)
	}

	payload, err := json.Marshal(TaskPayload{JobID: job.ID, UserID: userID, Request: req})
	if err != nil {
		m.abandonJob(ctx, job.ID, req.Files, "ジョブの投入に失敗しました。")
		return nil, fmt.Errorf("jobs: encode task payload: %w", err)
	}
	task := asynq.NewTask(taskTypePDF, payload)
	if _, err := m.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(maxTaskRetry),
		asynq.Retention(taskRetention),
	); err != nil {
		m.abandonJob(ctx, job.ID, req.Files, "ジョブの投入に失敗しました。")
		return nil, fmt.Errorf("jobs: enqueue task: %w", err)
	}

	return &pdf.Submission{JobID: job.ID, Async: true}, nil
}

// shouldAsync は入力の合計サイズとページ数から非同期実行すべきか判定します。
func (m *Manager) shouldAsync(inputs []pdf.InputInfo) bool {
	var totalSize int64
	var totalPages int
	for _, in := range inputs {
		totalSize += in.Size
		totalPages += in.Pages
	}
	return totalSize > m.cfg.AsyncThresholdBytes || totalPages > m.cfg.AsyncThresholdPages
}

// handleTask はAsynqワーカーが受け取ったPDF操作タスクを処理します。
// ジョブ行の状態遷移は runJob 側で完結するため、リトライによる
// 二重実行を避ける目的で処理失敗時も nil を返します。
func (m *Manager) handleTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("jobs: decode task payload: %w", err)
	}
	if payload.Request == nil {
		return errors.New("jobs: task payload has no request")
	}

	reporter := func(stage string, percent int) {
		if err := m.records.UpdateProgress(ctx, payload.JobID, stage, percent); err != nil {
			m.logger.Printf("jobs: update progress for job %d: %v", payload.JobID, err)
		}
	}
	if _, err := m.runJob(ctx, payload.JobID, payload.Request, reporter); err != nil {
		m.logger.Printf("jobs: job %d failed: %v", payload.JobID, err)
	}
	return nil
}

// runJob はジョブ本体を実行し、結果に応じてジョブ行を終端状態へ遷移させます。
// 入力ファイルのリースは実行経路にかかわらずここで解放します。
func (m *Manager) runJob(ctx context.Context, jobID int64, req *pdf.Request, reporter pdf.ProgressReporter) (*pdf.Result, error) {
	defer m.files.Release(req.Files...)

	if err := m.db.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrJobFinished) {
			m.logger.Printf("jobs: job %d already finished, skipping", jobID)
			return nil, err
		}
		return nil, fmt.Errorf("jobs: mark job %d processing: %w", jobID, err)
	}
	if err := m.records.MarkProcessing(ctx, jobID); err != nil {
		m.logger.Printf("jobs: update record for job %d: %v", jobID, err)
	}

	result, err := m.service.Run(ctx, req, reporter)
	if err != nil {
		m.failJob(ctx, jobID, err)
		return nil, err
	}

	if err := m.db.MarkCompleted(ctx, jobID, result.OutputFiles); err != nil && !errors.Is(err, store.ErrJobFinished) {
		return nil, fmt.Errorf("jobs: mark job %d completed: %w", jobID, err)
	}
	if err := m.records.MarkCompleted(ctx, jobID); err != nil {
		m.logger.Printf("jobs: update record for job %d: %v", jobID, err)
	}
	return result, nil
}

func (m *Manager) failJob(ctx context.Context, jobID int64, cause error) {
	message := failureMessage(cause)
	if err := m.db.MarkFailed(ctx, jobID, message); err != nil && !errors.Is(err, store.ErrJobFinished) {
		m.logger.Printf("jobs: mark job %d failed: %v", jobID, err)
	}
	if err := m.records.MarkFailed(ctx, jobID, message); err != nil {
		m.logger.Printf("jobs: update record for job %d: %v", jobID, err)
	}
}

// abandonJob はキュー投入前に失敗したジョブを終端状態へ落とし、リースを解放します。
func (m *Manager) abandonJob(ctx context.Context, jobID int64, files []string, message string) {
	m.files.Release(files...)
	if err := m.db.MarkFailed(ctx, jobID, message); err != nil && !errors.Is(err, store.ErrJobFinished) {
		m.logger.Printf("jobs: mark job %d failed: %v", jobID, err)
	}
	if err := m.records.MarkFailed(ctx, jobID, message); err != nil {
		m.logger.Printf("jobs: update record for job %d: %v", jobID, err)
	}
}

// failureMessage はジョブ行に保存するエラーメッセージを導出します。
// ドメインエラーは利用者向けメッセージを、それ以外は汎用メッセージを使います。
func failureMessage(err error) string {
	var apiErr *pdf.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "処理が中断されました。"
	}
	return "サーバー内部でエラーが発生しました。"
}
