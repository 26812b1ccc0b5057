package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// executeSplit はPDFを1ページずつの個別ファイルに分割します。
// rng が指定された場合はその範囲のページのみ、省略時は全ページを対象にします。
func (s *Service) executeSplit(ctx context.Context, input inputFile, rng *PageRange, progress ProgressReporter) (*Result, error) {
	normalized, err := normalizeRange(rng, input.pages)
	if err != nil {
		return nil, err
	}

	base := outputBase(input.name)
	stamp := s.outputStamp()
	pageCount := normalized.End - normalized.Start + 1

	outputs := make([]string, 0, pageCount)
	parts := make([]SplitPart, 0, pageCount)

	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := normalized.Start + i
		partName := fmt.Sprintf("%s_page_%d_%s.pdf", base, page, stamp)
		partPath := filepath.Join(s.files.ProcessedDir(), partName)

		reportProgress(progress, "process", 10+(80*(i+1))/pageCount)

		if err := pdfapi.CollectFile(input.path, partPath, []string{strconv.Itoa(page)}, nil); err != nil {
			return nil, newError("UNSUPPORTED_PDF",
				fmt.Sprintf("ページ %d の生成に失敗しました。", page), err)
		}

		size, err := outputFileInfo(partPath)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, partName)
		parts = append(parts, SplitPart{Filename: partName, Page: page, Size: size})
	}

	reportProgress(progress, "completed", 100)

	return &Result{
		Operation:   OperationSplit,
		OutputFiles: outputs,
		Meta: &SplitMeta{
			Original: input.sourceMeta(),
			Range:    normalized,
			Parts:    parts,
		},
	}, nil
}

// normalizeRange は範囲指定を検証して補完します。nil は全ページを意味します。
// Start 省略時は 1、End 省略時は最終ページになります。
func normalizeRange(rng *PageRange, pageCount int) (PageRange, error) {
	if rng == nil {
		return PageRange{Start: 1, End: pageCount}, nil
	}

	start := rng.Start
	if start == 0 {
		start = 1
	}
	end := rng.End
	if end == 0 {
		end = pageCount
	}

	if start < 1 || end < start {
		return PageRange{}, newError("INVALID_INPUT", "ページ範囲の指定が正しくありません。", nil)
	}
	if end > pageCount {
		return PageRange{}, newError("INVALID_INPUT",
			fmt.Sprintf("ページ範囲がページ数（%dページ）を超えています。", pageCount), nil)
	}

	return PageRange{Start: start, End: end}, nil
}
