package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, driverSQLite), mock
}

func TestCreateJobAssignsID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(int64(5), "merge", `["a.pdf","b.pdf"]`, "[]", JobPending, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))

	job := &Job{UserID: 5, Operation: "merge", InputFiles: []string{"a.pdf", "b.pdf"}}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID != 42 {
		t.Fatalf("job.ID = %d, want 42", job.ID)
	}
	if job.Status != JobPending {
		t.Fatalf("job.Status = %s, want pending", job.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetJobDecodesFileLists(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	done := created.Add(time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "operation", "input_files", "output_files",
		"status", "error_message", "created_at", "completed_at",
	}).AddRow(int64(9), int64(5), "split", `["doc.pdf"]`, `["doc_page_1_x.pdf","doc_page_2_x.pdf"]`,
		JobCompleted, "", created, done)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").WithArgs(int64(9)).WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job == nil {
		t.Fatal("job is nil")
	}
	if len(job.OutputFiles) != 2 || job.OutputFiles[0] != "doc_page_1_x.pdf" {
		t.Fatalf("output files not decoded: %#v", job.OutputFiles)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(done) {
		t.Fatalf("completedAt = %v, want %v", job.CompletedAt, done)
	}
}

func TestGetJobMissingReturnsNil(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "operation", "input_files", "output_files",
		"status", "error_message", "created_at", "completed_at",
	})
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").WithArgs(int64(404)).WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), 404)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job != nil {
		t.Fatalf("job = %#v, want nil", job)
	}
}

func TestMarkCompletedGuardsTerminalState(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(JobCompleted, `["out.pdf"]`, sqlmock.AnyArg(), int64(3), JobPending, JobProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkCompleted(context.Background(), 3, []string{"out.pdf"})
	if !errors.Is(err, ErrJobFinished) {
		t.Fatalf("error = %v, want ErrJobFinished", err)
	}
}

func TestMarkFailedUpdatesRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(JobFailed, "処理が中断されました。", sqlmock.AnyArg(), int64(3), JobPending, JobProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkFailed(context.Background(), 3, "処理が中断されました。"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestOutputBelongsToUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT output_files FROM jobs").
		WithArgs(int64(5), JobCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"output_files"}).
			AddRow(`["merged_20250601_120000_ab12cd34.pdf"]`).
			AddRow(`["doc_page_1_x.pdf","doc_page_2_x.pdf"]`))

	owned, err := s.OutputBelongsToUser(context.Background(), 5, "doc_page_2_x.pdf")
	if err != nil {
		t.Fatalf("OutputBelongsToUser: %v", err)
	}
	if !owned {
		t.Fatal("expected ownership")
	}

	mock.ExpectQuery("SELECT output_files FROM jobs").
		WithArgs(int64(5), JobCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"output_files"}).
			AddRow(`["doc_page_1_x.pdf"]`))

	owned, err = s.OutputBelongsToUser(context.Background(), 5, "other.pdf")
	if err != nil {
		t.Fatalf("OutputBelongsToUser: %v", err)
	}
	if owned {
		t.Fatal("expected no ownership")
	}
}

func TestOutputBelongsToUserExactMatchOnly(t *testing.T) {
	s, mock := newMockStore(t)

	// 保存名のアンダースコアが別ファイル名に一致してはならない
	mock.ExpectQuery("SELECT output_files FROM jobs").
		WithArgs(int64(5), JobCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"output_files"}).
			AddRow(`["docXpage.pdf"]`))

	owned, err := s.OutputBelongsToUser(context.Background(), 5, "doc_page.pdf")
	if err != nil {
		t.Fatalf("OutputBelongsToUser: %v", err)
	}
	if owned {
		t.Fatal("ownership must require an exact filename match")
	}
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	s := &Store{driver: driverPostgres}
	got := s.rebind(`UPDATE jobs SET status = ? WHERE id = ? AND status IN (?, ?)`)
	want := `UPDATE jobs SET status = $1 WHERE id = $2 AND status IN ($3, $4)`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}

	s = &Store{driver: driverSQLite}
	query := `SELECT * FROM jobs WHERE id = ?`
	if got := s.rebind(query); got != query {
		t.Fatalf("sqlite rebind should be identity, got %q", got)
	}
}
