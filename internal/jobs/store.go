package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/pdf-engine/internal/store"
)

const recordKeyPrefix = "job:"

// ErrRecordNotFound はRedis上にジョブレコードが存在しない場合のエラーです。
var ErrRecordNotFound = errors.New("jobs: record not found")

// RecordStore はRedisを使ったジョブ進捗レコードの保存機構です。
type RecordStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRecordStore はRedisクライアントとTTLからレコードストアを生成します。
func NewRecordStore(client *redis.Client, ttl time.Duration) *RecordStore {
	return &RecordStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func recordKey(jobID int64) string {
	return recordKeyPrefix + strconv.FormatInt(jobID, 10)
}

// Create は新規ジョブの進捗レコードを登録します。
func (s *RecordStore) Create(ctx context.Context, jobID int64, operation string) (*Record, error) {
	now := s.now().UTC()
	record := &Record{
		JobID:     jobID,
		Operation: operation,
		Status:    store.JobPending,
		Progress:  ProgressInfo{Percent: 0, Stage: "queued"},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.write(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Get はジョブIDに対応する進捗レコードを取得します。
func (s *RecordStore) Get(ctx context.Context, jobID int64) (*Record, error) {
	data, err := s.client.Get(ctx, recordKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("jobs: decode record: %w", err)
	}
	return &record, nil
}

// UpdateProgress は実行中ジョブの進捗を更新します。
func (s *RecordStore) UpdateProgress(ctx context.Context, jobID int64, stage string, percent int) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.Status = store.JobProcessing
		record.Progress = ProgressInfo{Percent: percent, Stage: stage}
	})
}

// MarkProcessing はジョブを処理中状態に遷移させます。
func (s *RecordStore) MarkProcessing(ctx context.Context, jobID int64) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.Status = store.JobProcessing
		record.Progress = ProgressInfo{Percent: 0, Stage: "starting"}
	})
}

// MarkCompleted はジョブを完了状態に遷移させます。
func (s *RecordStore) MarkCompleted(ctx context.Context, jobID int64) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.Status = store.JobCompleted
		record.Progress = ProgressInfo{Percent: 100, Stage: "done"}
	})
}

// MarkFailed はジョブを失敗状態に遷移させ、エラーメッセージを記録します。
func (s *RecordStore) MarkFailed(ctx context.Context, jobID int64, message string) error {
	return s.update(ctx, jobID, func(record *Record) {
		record.Status = store.JobFailed
		record.Progress.Message = message
	})
}

// update は楽観ロック付きでレコードを部分更新します。
// レコードが存在しない場合は何もせず成功扱いとします(TTL失効後の更新を許容)。
func (s *RecordStore) update(ctx context.Context, jobID int64, apply func(*Record)) error {
	key := recordKey(jobID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		apply(&record)
		record.UpdatedAt = s.now().UTC()

		encoded, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("jobs: update record: %w", err)
	}
	return fmt.Errorf("jobs: update record %d: too many conflicts", jobID)
}

func (s *RecordStore) write(ctx context.Context, record *Record) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("jobs: encode record: %w", err)
	}
	if err := s.client.Set(ctx, recordKey(record.JobID), encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("jobs: save record: %w", err)
	}
	return nil
}
