package pdf

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	fitz "github.com/gen2brain/go-fitz"
	"golang.org/x/image/tiff"
)

const (
	defaultDPI  = 300
	minDPI      = 72
	maxDPI      = 600
	jpegQuality = 90
)

// executeConvert はPDFの各ページを画像としてレンダリングします。
// 描画は go-fitz（MuPDF）、エンコードは image/png・image/jpeg・x/image/tiff に委譲します。
func (s *Service) executeConvert(ctx context.Context, input inputFile, format ImageFormat, dpi int, progress ProgressReporter) (*Result, error) {
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	dpi, err = normalizeDPI(dpi)
	if err != nil {
		return nil, err
	}

	doc, err := fitz.New(input.path)
	if err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの読み込みに失敗しました。ファイルが破損していないか確認してください。", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, newError("INVALID_INPUT", "PDFにページが含まれていません。", nil)
	}

	base := outputBase(input.name)
	stamp := s.outputStamp()

	outputs := make([]string, 0, pageCount)
	pages := make([]ConvertPage, 0, pageCount)

	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, newError("UNSUPPORTED_PDF",
				fmt.Sprintf("ページ %d のレンダリングに失敗しました。", i+1), err)
		}

		name := fmt.Sprintf("%s_page_%d_%s.%s", base, i+1, stamp, format)
		path := filepath.Join(s.files.ProcessedDir(), name)
		if err := encodeImage(path, img, format); err != nil {
			return nil, err
		}

		size, err := outputFileInfo(path)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, name)
		pages = append(pages, ConvertPage{Filename: name, Page: i + 1, Size: size})

		reportProgress(progress, "process", 10+(80*(i+1))/pageCount)
	}

	reportProgress(progress, "completed", 100)

	return &Result{
		Operation:   OperationConvert,
		OutputFiles: outputs,
		Meta: &ConvertMeta{
			Original: input.sourceMeta(),
			Format:   format,
			DPI:      dpi,
			Pages:    pages,
		},
	}, nil
}

func encodeImage(path string, img image.Image, format ImageFormat) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("画像ファイルの作成に失敗しました: %w", err)
	}
	defer file.Close()

	switch format {
	case ImageFormatPNG:
		err = png.Encode(file, img)
	case ImageFormatJPEG:
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: jpegQuality})
	case ImageFormatTIFF:
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = fmt.Errorf("unsupported image format: %s", format)
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("画像のエンコードに失敗しました: %w", err)
	}
	return nil
}

// normalizeFormat は出力フォーマットを検証して補完します。省略時は PNG です。
func normalizeFormat(f ImageFormat) (ImageFormat, error) {
	switch ImageFormat(strings.ToLower(string(f))) {
	case "", ImageFormatPNG:
		return ImageFormatPNG, nil
	case ImageFormatJPEG, "jpg":
		return ImageFormatJPEG, nil
	case ImageFormatTIFF:
		return ImageFormatTIFF, nil
	default:
		return "", newError("INVALID_INPUT",
			fmt.Sprintf("formatには png / jpeg / tiff を指定してください (received: %s)", f), nil)
	}
}

// normalizeDPI は解像度を検証して補完します。省略時は 300 DPI です。
func normalizeDPI(dpi int) (int, error) {
	if dpi == 0 {
		return defaultDPI, nil
	}
	if dpi < minDPI || dpi > maxDPI {
		return 0, newError("INVALID_INPUT",
			fmt.Sprintf("dpiには %d〜%d の整数を指定してください。", minDPI, maxDPI), nil)
	}
	return dpi, nil
}
