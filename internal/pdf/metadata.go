package pdf

import (
	"context"
	"fmt"
	"os"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// ExtractMetadata はアップロード済みPDFのドキュメント情報を抽出します。
// ジョブレコードは作成せず、同期的に応答します。
func (s *Service) ExtractMetadata(ctx context.Context, storedName string) (*Metadata, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	inputs, err := s.resolveInputs([]string{storedName})
	if err != nil {
		return nil, err
	}
	input := inputs[0]

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(input.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer file.Close()

	info, err := pdfapi.PDFInfo(file, input.name, nil, nil)
	if err != nil {
		return nil, newError("UNSUPPORTED_PDF", "メタデータの抽出に失敗しました。", err)
	}

	meta := &Metadata{
		Pages:            info.PageCount,
		FileSize:         input.size,
		Title:            info.Title,
		Author:           info.Author,
		Subject:          info.Subject,
		Creator:          info.Creator,
		Producer:         info.Producer,
		CreationDate:     info.CreationDate,
		ModificationDate: info.ModificationDate,
	}

	// 暗号化フラグと先頭ページ寸法はコンテキストから取得する
	pdfCtx, err := pdfapi.ReadContextFile(input.path)
	if err == nil {
		meta.Encrypted = pdfCtx.Encrypt != nil
		if dims, err := pdfCtx.PageDims(); err == nil && len(dims) > 0 {
			meta.PageWidth = dims[0].Width
			meta.PageHeight = dims[0].Height
		}
	}

	return meta, nil
}
