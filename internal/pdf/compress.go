package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// executeCompress はpdfcpuの最適化処理でPDFを圧縮します。
// quality プリセットは記録用で、最適化自体はオブジェクトの重複排除と
// ストリームの再圧縮に委譲されます。
func (s *Service) executeCompress(ctx context.Context, input inputFile, quality Quality, progress ProgressReporter) (*Result, error) {
	quality, err := normalizeQuality(quality)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reportProgress(progress, "process", 40)

	outputName := fmt.Sprintf("%s_compressed_%s.pdf", outputBase(input.name), s.outputStamp())
	outputPath := filepath.Join(s.files.ProcessedDir(), outputName)
	if err := pdfapi.OptimizeFile(input.path, outputPath, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの圧縮に失敗しました。ファイルが破損していないか確認してください。", err)
	}

	reportProgress(progress, "write", 80)

	outputSize, err := outputFileInfo(outputPath)
	if err != nil {
		return nil, err
	}

	reportProgress(progress, "completed", 100)

	return &Result{
		Operation:   OperationCompress,
		OutputFiles: []string{outputName},
		Meta: &CompressMeta{
			OriginalSize: input.size,
			OutputSize:   outputSize,
			SavedBytes:   input.size - outputSize,
			SavedPercent: computeSavedPercent(input.size, outputSize),
			Quality:      quality,
			Source:       input.sourceMeta(),
		},
	}, nil
}

// normalizeQuality は品質プリセットを検証して補完します。省略時は medium です。
func normalizeQuality(q Quality) (Quality, error) {
	switch Quality(strings.ToLower(string(q))) {
	case "", QualityMedium:
		return QualityMedium, nil
	case QualityLow:
		return QualityLow, nil
	case QualityHigh:
		return QualityHigh, nil
	default:
		return "", newError("INVALID_INPUT",
			fmt.Sprintf("qualityには low / medium / high を指定してください (received: %s)", q), nil)
	}
}

func computeSavedPercent(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}
