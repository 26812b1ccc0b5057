package pdf

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-engine/internal/auth"
)

// Submission はジョブ投入の結果です。同期実行の場合は Result が入ります。
type Submission struct {
	JobID  int64   `json:"jobId"`
	Async  bool    `json:"async"`
	Result *Result `json:"result,omitempty"`
}

// JobSubmitter はジョブレコードの作成と実行（同期または非同期）を担います。
type JobSubmitter interface {
	Submit(ctx context.Context, userID int64, req *Request) (*Submission, error)
}

// multipartOverheadBytes はボディ上限に加えるマルチパート境界・ヘッダー分の余裕です。
const multipartOverheadBytes = 64 << 10

// UploadHandler は POST /api/upload のハンドラーを返します。
// ボディ全体を MaxBytesReader で制限し、上限超過は受信しきる前に打ち切ります。
func UploadHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body,
			svc.cfg.MaxFileSize+multipartOverheadBytes)

		file, err := c.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"code":    "LIMIT_EXCEEDED",
					"message": fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", svc.cfg.MaxFileSize/(1024*1024)),
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data の file フィールドでPDFを送信してください。",
			})
			return
		}

		info, err := svc.StoreUpload(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":  "ファイルをアップロードしました。",
			"filename": info.StoredName,
			"size":     info.Size,
			"pages":    info.Pages,
		})
	}
}

type mergeRequest struct {
	Files []string `json:"files"`
	Order []int    `json:"order"`
}

// MergeHandler は POST /api/pdf/merge のハンドラーを返します。
func MergeHandler(submitter JobSubmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mergeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidJSON(c)
			return
		}
		submit(c, submitter, &Request{
			Operation: OperationMerge,
			Files:     req.Files,
			Order:     req.Order,
		})
	}
}

type splitRequest struct {
	File  string     `json:"file"`
	Pages *PageRange `json:"pages"`
}

// SplitHandler は POST /api/pdf/split のハンドラーを返します。
func SplitHandler(submitter JobSubmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req splitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidJSON(c)
			return
		}
		submit(c, submitter, &Request{
			Operation: OperationSplit,
			Files:     []string{req.File},
			Range:     req.Pages,
		})
	}
}

type convertRequest struct {
	File   string `json:"file"`
	Format string `json:"format"`
	DPI    int    `json:"dpi"`
}

// ConvertHandler は POST /api/pdf/convert-to-images のハンドラーを返します。
func ConvertHandler(submitter JobSubmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req convertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidJSON(c)
			return
		}
		submit(c, submitter, &Request{
			Operation: OperationConvert,
			Files:     []string{req.File},
			Format:    ImageFormat(req.Format),
			DPI:       req.DPI,
		})
	}
}

type compressRequest struct {
	File    string `json:"file"`
	Quality string `json:"quality"`
}

// CompressHandler は POST /api/pdf/compress のハンドラーを返します。
func CompressHandler(submitter JobSubmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req compressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidJSON(c)
			return
		}
		submit(c, submitter, &Request{
			Operation: OperationCompress,
			Files:     []string{req.File},
			Quality:   Quality(req.Quality),
		})
	}
}

type metadataRequest struct {
	File string `json:"file"`
}

// MetadataHandler は POST /api/pdf/metadata のハンドラーを返します。
// ジョブレコードを作成せず同期応答します。
func MetadataHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req metadataRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidJSON(c)
			return
		}

		meta, err := svc.ExtractMetadata(c.Request.Context(), req.File)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":  "メタデータを抽出しました。",
			"metadata": meta,
		})
	}
}

func submit(c *gin.Context, submitter JobSubmitter, req *Request) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "認証情報が見つかりません。",
		})
		return
	}

	sub, err := submitter.Submit(c.Request.Context(), userID, req)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if sub.Async {
		c.JSON(http.StatusAccepted, gin.H{
			"jobId":  sub.JobID,
			"status": "pending",
		})
		return
	}

	payload := gin.H{
		"jobId":       sub.JobID,
		"status":      "completed",
		"outputFiles": sub.Result.OutputFiles,
	}
	if sub.Result.Meta != nil {
		payload["meta"] = sub.Result.Meta
	}
	c.JSON(http.StatusOK, payload)
}

func respondInvalidJSON(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": "リクエストボディをJSONで送信してください。",
	})
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case "LIMIT_EXCEEDED":
			status = http.StatusRequestEntityTooLarge
		case "FILE_NOT_FOUND":
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
