package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-engine/internal/auth"
	"github.com/yourusername/pdf-engine/internal/config"
	"github.com/yourusername/pdf-engine/internal/jobs"
	"github.com/yourusername/pdf-engine/internal/pdf"
	"github.com/yourusername/pdf-engine/internal/storage"
	"github.com/yourusername/pdf-engine/internal/store"
)

const jobsListLimit = 50

func setupJobs(cfg *config.Config, db *store.Store, pdfService *pdf.Service, files *storage.Manager) (*jobs.Manager, error) {
	manager, err := jobs.NewManager(cfg, db, pdfService, files, log.Default())
	if err != nil {
		return nil, err
	}
	return manager, nil
}

// jobStatusHandler は GET /api/jobs/:id のハンドラーを返します。
// ジョブ行を正とし、実行中であればRedis上の進捗スナップショットを重ねます。
func jobStatusHandler(db *store.Store, manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId は数値で指定してください。",
			})
			return
		}
		userID, ok := auth.CurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "認証情報が確認できませんでした。",
			})
			return
		}

		job, err := db.GetJob(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if job == nil || job.UserID != userID {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		payload := gin.H{
			"jobId":     job.ID,
			"operation": job.Operation,
			"status":    job.Status,
			"createdAt": job.CreatedAt,
		}
		if len(job.InputFiles) > 0 {
			payload["inputFiles"] = job.InputFiles
		}
		if len(job.OutputFiles) > 0 {
			payload["outputFiles"] = job.OutputFiles
		}
		if job.ErrorMessage != "" {
			payload["error"] = gin.H{"message": job.ErrorMessage}
		}
		if job.CompletedAt != nil {
			payload["completedAt"] = job.CompletedAt
		}

		if !job.Status.IsTerminal() {
			record, err := manager.Records().Get(c.Request.Context(), job.ID)
			if err == nil {
				payload["progress"] = gin.H{
					"percent": record.Progress.Percent,
					"stage":   record.Progress.Stage,
				}
				payload["updatedAt"] = record.UpdatedAt
			} else if !errors.Is(err, jobs.ErrRecordNotFound) {
				log.Printf("Fetch progress record for job %d: %v", job.ID, err)
			}
		}

		c.JSON(http.StatusOK, payload)
	}
}

// jobsListHandler は GET /api/jobs のハンドラーを返します。
func jobsListHandler(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.CurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "認証情報が確認できませんでした。",
			})
			return
		}

		list, err := db.ListJobsByUser(c.Request.Context(), userID, jobsListLimit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ一覧の取得に失敗しました。",
			})
			return
		}

		items := make([]gin.H, 0, len(list))
		for _, job := range list {
			item := gin.H{
				"jobId":     job.ID,
				"operation": job.Operation,
				"status":    job.Status,
				"createdAt": job.CreatedAt,
			}
			if len(job.OutputFiles) > 0 {
				item["outputFiles"] = job.OutputFiles
			}
			if job.CompletedAt != nil {
				item["completedAt"] = job.CompletedAt
			}
			items = append(items, item)
		}
		c.JSON(http.StatusOK, gin.H{"jobs": items})
	}
}

// downloadHandler は GET /api/download/:filename のハンドラーを返します。
// 成果物は生成したユーザー本人のジョブに紐付くものだけを返します。
func downloadHandler(db *store.Store, files *storage.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := c.Param("filename")
		userID, ok := auth.CurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "認証情報が確認できませんでした。",
			})
			return
		}

		owned, err := db.OutputBelongsToUser(c.Request.Context(), userID, filename)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "成果物の取得に失敗しました。",
			})
			return
		}
		if !owned {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "FILE_NOT_FOUND",
				"message": "指定されたファイルは存在しません。",
			})
			return
		}

		path, err := files.ResolveProcessed(filename)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "FILE_NOT_FOUND",
				"message": "指定されたファイルは存在しません。",
			})
			return
		}

		encodedName := url.PathEscape(filename)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", filename, encodedName))
		c.Header("Cache-Control", "no-store")
		c.File(path)
	}
}

type cleanupRequest struct {
	Hours int `json:"hours"`
}

// cleanupHandler は POST /api/cleanup のハンドラーを返します。admin 専用です。
func cleanupHandler(cfg *config.Config, files *storage.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.CurrentUser(c)
		if !ok || user.Username != "admin" {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "この操作には管理者権限が必要です。",
			})
			return
		}

		req := cleanupRequest{Hours: cfg.FileRetentionHours}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "リクエストボディの形式が正しくありません。",
				})
				return
			}
		}
		if req.Hours <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "hours は1以上で指定してください。",
			})
			return
		}

		removed, err := files.CleanupOlderThan(time.Duration(req.Hours) * time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "クリーンアップに失敗しました。",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":      "クリーンアップが完了しました。",
			"removedFiles": removed,
			"olderThan":    fmt.Sprintf("%dh", req.Hours),
		})
	}
}
