package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrJobFinished は終端状態のジョブを更新しようとした場合に返されます。
var ErrJobFinished = errors.New("job already in terminal state")

// CreateJob はジョブレコードを pending 状態で作成し、採番されたIDを設定します。
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	inputs, err := encodeFileList(job.InputFiles)
	if err != nil {
		return err
	}
	outputs, err := encodeFileList(job.OutputFiles)
	if err != nil {
		return err
	}

	if s.driver == driverPostgres {
		query := s.rebind(`INSERT INTO jobs
			(user_id, operation, input_files, output_files, status, error_message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
		err := s.db.QueryRowContext(ctx, query,
			job.UserID, job.Operation, inputs, outputs, job.Status, job.ErrorMessage, job.CreatedAt,
		).Scan(&job.ID)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO jobs
		(user_id, operation, input_files, output_files, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.UserID, job.Operation, inputs, outputs, job.Status, job.ErrorMessage, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	job.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted job id: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, operation, input_files, output_files, status, error_message, created_at, completed_at`

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var (
		j           Job
		inputs      string
		outputs     string
		completedAt sql.NullTime
	)
	err := scan(&j.ID, &j.UserID, &j.Operation, &inputs, &outputs,
		&j.Status, &j.ErrorMessage, &j.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if j.InputFiles, err = decodeFileList(inputs); err != nil {
		return nil, err
	}
	if j.OutputFiles, err = decodeFileList(outputs); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// GetJob はIDでジョブを取得します。存在しない場合は nil を返します。
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	return scanJob(row.Scan)
}

// ListJobsByUser はユーザーのジョブを新しい順に最大 limit 件返します。
func (s *Store) ListJobsByUser(ctx context.Context, userID int64, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkProcessing はジョブを pending から processing に遷移させます。
func (s *Store) MarkProcessing(ctx context.Context, id int64) error {
	return s.transition(ctx,
		s.rebind(`UPDATE jobs SET status = ? WHERE id = ? AND status IN (?, ?)`),
		JobProcessing, id, JobPending, JobProcessing)
}

// MarkCompleted はジョブを completed に遷移させ、出力ファイルと完了時刻を記録します。
// 終端状態のジョブに対しては ErrJobFinished を返します（終端状態は上書き不可）。
func (s *Store) MarkCompleted(ctx context.Context, id int64, outputFiles []string) error {
	outputs, err := encodeFileList(outputFiles)
	if err != nil {
		return err
	}
	return s.transition(ctx,
		s.rebind(`UPDATE jobs SET status = ?, output_files = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`),
		JobCompleted, outputs, time.Now().UTC(), id, JobPending, JobProcessing)
}

// MarkFailed はジョブを failed に遷移させ、エラーメッセージと完了時刻を記録します。
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.transition(ctx,
		s.rebind(`UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`),
		JobFailed, message, time.Now().UTC(), id, JobPending, JobProcessing)
}

func (s *Store) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrJobFinished
	}
	return nil
}

// OutputBelongsToUser はファイル名がユーザーのジョブの出力に含まれるかを判定します。
// ダウンロード時の所有権チェックに使用します。保存名には LIKE のワイルドカードに
// 一致する文字（アンダースコア）が含まれるため、JSON配列を復元して完全一致で比較します。
func (s *Store) OutputBelongsToUser(ctx context.Context, userID int64, filename string) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT output_files FROM jobs WHERE user_id = ? AND status = ?`),
		userID, JobCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to check output ownership: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return false, fmt.Errorf("failed to scan output files: %w", err)
		}
		files, err := decodeFileList(encoded)
		if err != nil {
			return false, err
		}
		for _, f := range files {
			if f == filename {
				return true, nil
			}
		}
	}
	return false, rows.Err()
}

func encodeFileList(files []string) (string, error) {
	if files == nil {
		files = []string{}
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to encode file list: %w", err)
	}
	return string(data), nil
}

func decodeFileList(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var files []string
	if err := json.Unmarshal([]byte(data), &files); err != nil {
		return nil, fmt.Errorf("failed to decode file list: %w", err)
	}
	return files, nil
}
