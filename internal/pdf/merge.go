package pdf

import (
	"context"
	"fmt"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// executeMerge は複数PDFを1つに結合します。
// order が指定された場合は入力ファイルの結合順を入れ替えます（0-based）。
func (s *Service) executeMerge(ctx context.Context, inputs []inputFile, order []int, progress ProgressReporter) (*Result, error) {
	if len(inputs) < 2 {
		return nil, newError("INVALID_INPUT", "結合には2つ以上のファイルを指定してください。", nil)
	}

	ordered := inputs
	if order != nil {
		if err := validateOrder(order, len(inputs)); err != nil {
			return nil, err
		}
		ordered = make([]inputFile, len(inputs))
		for i, idx := range order {
			ordered[i] = inputs[idx]
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths := make([]string, len(ordered))
	sources := make([]SourceFileMeta, len(ordered))
	totalPages := 0
	for i, in := range ordered {
		paths[i] = in.path
		sources[i] = in.sourceMeta()
		totalPages += in.pages
	}

	reportProgress(progress, "process", 40)

	outputName := fmt.Sprintf("merged_%s.pdf", s.outputStamp())
	outputPath := filepath.Join(s.files.ProcessedDir(), outputName)
	if err := pdfapi.MergeCreateFile(paths, outputPath, false, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの結合に失敗しました。ファイルが破損していないか確認してください。", err)
	}

	reportProgress(progress, "write", 90)

	if _, err := outputFileInfo(outputPath); err != nil {
		return nil, err
	}

	reportProgress(progress, "completed", 100)

	return &Result{
		Operation:   OperationMerge,
		OutputFiles: []string{outputName},
		Meta: &MergeMeta{
			TotalPages: totalPages,
			Sources:    sources,
		},
	}, nil
}

// validateOrder は order 配列が 0..n-1 の順列であることを検証します。
func validateOrder(order []int, count int) error {
	if len(order) != count {
		return newError("INVALID_INPUT", "order配列の長さがファイル数と一致していません。", nil)
	}

	seen := make([]bool, count)
	for _, idx := range order {
		if idx < 0 || idx >= count {
			return newError("INVALID_INPUT", "order配列に不正な番号が含まれています。", nil)
		}
		if seen[idx] {
			return newError("INVALID_INPUT", "order配列に重複した番号が含まれています。", nil)
		}
		seen[idx] = true
	}

	return nil
}
