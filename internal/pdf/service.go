// Package pdf はPDF操作機能を提供します。
// バイト列の解析・描画は pdfcpu と go-fitz に委譲し、このパッケージは
// 入力の検証と出力ファイルの配置のみを担います。
package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/pdf-engine/internal/config"
	"github.com/yourusername/pdf-engine/internal/storage"
)

// Service はPDF操作の実行を担います。
type Service struct {
	cfg   *config.Config
	files *storage.Manager
	now   func() time.Time
}

// NewService は Service を初期化します。
func NewService(cfg *config.Config, files *storage.Manager) *Service {
	return &Service{
		cfg:   cfg,
		files: files,
		now:   time.Now,
	}
}

// UploadInfo はアップロード完了時に返すファイル情報です。
type UploadInfo struct {
	StoredName string `json:"filename"`
	Size       int64  `json:"size"`
	Pages      int    `json:"pages"`
}

// StoreUpload はアップロードされたPDFを検証して保存します。
// 拡張子・サイズ・MIMEシグネチャ・pdfcpuによる構造検証・ページ数上限を確認し、
// いずれかに失敗した場合は保存済みファイルを削除してエラーを返します。
func (s *Service) StoreUpload(ctx context.Context, file *multipart.FileHeader) (*UploadInfo, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".pdf") {
		return nil, newError("INVALID_INPUT", "PDFファイル（.pdf）のみアップロードできます。", nil)
	}
	if file.Size > s.cfg.MaxFileSize {
		return nil, newError("LIMIT_EXCEEDED",
			fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", s.cfg.MaxFileSize/(1024*1024)), nil)
	}
	if file.Size < s.cfg.MinFileSize {
		return nil, newError("INVALID_INPUT", "ファイルが小さすぎます。有効なPDFか確認してください。", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	storedName, size, err := s.files.SaveUpload(src, file.Filename)
	if err != nil {
		return nil, err
	}

	info, err := s.validateStored(storedName, size)
	if err != nil {
		s.discardUpload(storedName)
		return nil, err
	}
	return info, nil
}

func (s *Service) validateStored(storedName string, size int64) (*UploadInfo, error) {
	path, err := s.files.ResolveUpload(storedName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stored upload: %w", err)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return nil, newError("INVALID_INPUT",
			fmt.Sprintf("PDFとして認識できないファイルです（detected: %s）。", mtype.String()), nil)
	}

	if err := pdfapi.ValidateFile(path, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの検証に失敗しました。ファイルが破損していないか確認してください。", err)
	}

	pages, err := pdfapi.PageCountFile(path)
	if err != nil {
		return nil, newError("UNSUPPORTED_PDF", "ページ数の取得に失敗しました。", err)
	}
	if pages == 0 {
		return nil, newError("INVALID_INPUT", "PDFにページが含まれていません。", nil)
	}
	if s.cfg.MaxPages > 0 && pages > s.cfg.MaxPages {
		return nil, newError("LIMIT_EXCEEDED",
			fmt.Sprintf("ページ数が上限（%dページ）を超えています。", s.cfg.MaxPages), nil)
	}

	return &UploadInfo{StoredName: storedName, Size: size, Pages: pages}, nil
}

func (s *Service) discardUpload(storedName string) {
	if path, err := s.files.ResolveUpload(storedName); err == nil {
		_ = os.Remove(path)
	}
}

// inputFile は解決済みの入力ファイルです。
type inputFile struct {
	name  string
	path  string
	size  int64
	pages int
}

func (f inputFile) sourceMeta() SourceFileMeta {
	return SourceFileMeta{Name: f.name, Size: f.size, Pages: f.pages}
}

// resolveInputs は保存名の一覧をアップロードディレクトリ内のファイルに解決します。
// 存在しない・ディレクトリ外を指す名前は INVALID_INPUT として拒否します。
func (s *Service) resolveInputs(names []string) ([]inputFile, error) {
	if len(names) == 0 {
		return nil, newError("INVALID_INPUT", "対象のファイルを指定してください。", nil)
	}
	inputs := make([]inputFile, 0, len(names))
	for _, name := range names {
		path, err := s.files.ResolveUpload(name)
		if err != nil {
			return nil, newError("FILE_NOT_FOUND",
				fmt.Sprintf("ファイルが見つかりません: %s", name), err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat input file: %w", err)
		}
		pages, err := pdfapi.PageCountFile(path)
		if err != nil {
			return nil, newError("UNSUPPORTED_PDF",
				fmt.Sprintf("ページ数の取得に失敗しました: %s", name), err)
		}
		inputs = append(inputs, inputFile{name: name, path: path, size: info.Size(), pages: pages})
	}
	return inputs, nil
}

// DescribeInputs はリクエストの入力ファイルを検証し、その概要を返します。
// ジョブ投入前の存在確認と同期/非同期判定に使用します。
func (s *Service) DescribeInputs(names []string) ([]InputInfo, error) {
	inputs, err := s.resolveInputs(names)
	if err != nil {
		return nil, err
	}
	infos := make([]InputInfo, len(inputs))
	for i, in := range inputs {
		infos[i] = InputInfo{Name: in.name, Size: in.size, Pages: in.pages}
	}
	return infos, nil
}

// ValidateRequest は操作パラメータを入力ファイルに照らして検証します。
// ジョブレコードを作成する前に呼び出し、不正なリクエストを早期に弾きます。
func (s *Service) ValidateRequest(req *Request, inputs []InputInfo) error {
	if req == nil {
		return newError("INVALID_INPUT", "リクエストが空です。", nil)
	}

	switch req.Operation {
	case OperationMerge:
		if len(req.Files) < 2 {
			return newError("INVALID_INPUT", "結合には2つ以上のファイルを指定してください。", nil)
		}
		if req.Order != nil {
			if err := validateOrder(req.Order, len(req.Files)); err != nil {
				return err
			}
		}
	case OperationSplit:
		if len(req.Files) != 1 {
			return newError("INVALID_INPUT", "分割対象のファイルを1つ指定してください。", nil)
		}
		if req.Range != nil {
			if _, err := normalizeRange(req.Range, inputs[0].Pages); err != nil {
				return err
			}
		}
	case OperationConvert:
		if len(req.Files) != 1 {
			return newError("INVALID_INPUT", "変換対象のファイルを1つ指定してください。", nil)
		}
		if _, err := normalizeFormat(req.Format); err != nil {
			return err
		}
		if _, err := normalizeDPI(req.DPI); err != nil {
			return err
		}
	case OperationCompress:
		if len(req.Files) != 1 {
			return newError("INVALID_INPUT", "圧縮対象のファイルを1つ指定してください。", nil)
		}
		if _, err := normalizeQuality(req.Quality); err != nil {
			return err
		}
	default:
		return newError("INVALID_INPUT",
			fmt.Sprintf("未対応の操作です: %s", req.Operation), nil)
	}
	return nil
}

// Run はリクエストに対応するPDF処理を実行します。
// 出力は処理結果ディレクトリに書き込まれ、Result に保存名の一覧が入ります。
func (s *Service) Run(ctx context.Context, req *Request, progress ProgressReporter) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return nil, newError("INVALID_INPUT", "リクエストが空です。", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reportProgress(progress, "load", 10)
	inputs, err := s.resolveInputs(req.Files)
	if err != nil {
		return nil, err
	}

	switch req.Operation {
	case OperationMerge:
		return s.executeMerge(ctx, inputs, req.Order, progress)
	case OperationSplit:
		return s.executeSplit(ctx, inputs[0], req.Range, progress)
	case OperationConvert:
		return s.executeConvert(ctx, inputs[0], req.Format, req.DPI, progress)
	case OperationCompress:
		return s.executeCompress(ctx, inputs[0], req.Quality, progress)
	default:
		return nil, newError("INVALID_INPUT",
			fmt.Sprintf("未対応の操作です: %s", req.Operation), nil)
	}
}

// ProgressReporter はジョブ実行中の進捗通知を受け取るコールバックです。
// nil の場合、各処理は進捗を報告せずに実行されます。
type ProgressReporter func(stage string, percent int)

// reportProgress はコールバックへ進捗を通知します。percent は 0〜100 に丸められます。
func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// outputStamp は出力ファイル名に付与する一意な接尾辞です。
// 同一秒内の実行が処理結果ディレクトリ内で衝突しないよう、
// アップロード保存名と同じくタイムスタンプにUUIDの先頭8文字を加えます。
func (s *Service) outputStamp() string {
	return fmt.Sprintf("%s_%s",
		s.now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
}

// outputBase は入力の保存名から出力名のベース部分を取り出します。
func outputBase(storedName string) string {
	return strings.TrimSuffix(filepath.Base(storedName), filepath.Ext(storedName))
}

func outputFileInfo(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}
	return info.Size(), nil
}
