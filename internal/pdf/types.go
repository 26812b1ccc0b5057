package pdf

// OperationType はPDF処理の種別を表します。
type OperationType string

const (
	OperationMerge    OperationType = "merge"
	OperationSplit    OperationType = "split"
	OperationConvert  OperationType = "convert_to_images"
	OperationCompress OperationType = "compress"
)

// ImageFormat は画像変換の出力フォーマットを表します。
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatTIFF ImageFormat = "tiff"
)

// Quality は圧縮品質プリセットの種類を表します。
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// PageRange は処理対象のページ範囲を表します（Start/Endは1-based, End>=Start）。
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Request はPDF操作一件分のパラメータです。ジョブペイロードとしてそのまま永続化されます。
type Request struct {
	Operation OperationType `json:"operation"`
	Files     []string      `json:"files"`
	Order     []int         `json:"order,omitempty"`
	Range     *PageRange    `json:"range,omitempty"`
	Format    ImageFormat   `json:"format,omitempty"`
	DPI       int           `json:"dpi,omitempty"`
	Quality   Quality       `json:"quality,omitempty"`
}

// InputInfo は保存済み入力ファイルの概要です。非同期判定の閾値計算に使用します。
type InputInfo struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// Result はPDF処理の成果を表します。出力は処理結果ディレクトリに保存済みです。
type Result struct {
	Operation   OperationType `json:"operation"`
	OutputFiles []string      `json:"outputFiles"`
	Meta        any           `json:"meta,omitempty"`
}

// SourceFileMeta は入力ファイルのメタデータです。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// MergeMeta は結合処理のメタデータです。
type MergeMeta struct {
	TotalPages int              `json:"totalPages"`
	Sources    []SourceFileMeta `json:"sources"`
}

// SplitPart は分割で生成された各PDFの情報です。
type SplitPart struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"`
	Size     int64  `json:"size"`
}

// SplitMeta は分割処理のメタデータです。
type SplitMeta struct {
	Original SourceFileMeta `json:"original"`
	Range    PageRange      `json:"range"`
	Parts    []SplitPart    `json:"parts"`
}

// ConvertPage は画像変換で生成された各画像の情報です。
type ConvertPage struct {
	Filename string `json:"filename"`
	Page     int    `json:"page"`
	Size     int64  `json:"size"`
}

// ConvertMeta は画像変換処理のメタデータです。
type ConvertMeta struct {
	Original SourceFileMeta `json:"original"`
	Format   ImageFormat    `json:"format"`
	DPI      int            `json:"dpi"`
	Pages    []ConvertPage  `json:"pages"`
}

// CompressMeta は圧縮処理のメタデータです。
type CompressMeta struct {
	OriginalSize int64          `json:"originalSize"`
	OutputSize   int64          `json:"outputSize"`
	SavedBytes   int64          `json:"savedBytes"`
	SavedPercent float64        `json:"savedPercent"`
	Quality      Quality        `json:"quality"`
	Source       SourceFileMeta `json:"source"`
}

// Metadata はPDFから抽出したドキュメント情報です。
type Metadata struct {
	Pages            int     `json:"pages"`
	FileSize         int64   `json:"fileSize"`
	Title            string  `json:"title,omitempty"`
	Author           string  `json:"author,omitempty"`
	Subject          string  `json:"subject,omitempty"`
	Creator          string  `json:"creator,omitempty"`
	Producer         string  `json:"producer,omitempty"`
	CreationDate     string  `json:"creationDate,omitempty"`
	ModificationDate string  `json:"modificationDate,omitempty"`
	Encrypted        bool    `json:"encrypted"`
	PageWidth        float64 `json:"pageWidth,omitempty"`
	PageHeight       float64 `json:"pageHeight,omitempty"`
}
