package handlers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/api/middleware"
	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/jobs"
	"github.com/jhossain1509/email-database-manager/internal/pipeline"
)

var uploadExtensions = map[string]bool{".csv": true, ".txt": true}

// UploadBatch stores the file, creates a queued batch and enqueues its import.
func (h *Handler) UploadBatch(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !uploadExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .csv and .txt files are accepted"})
		return
	}

	tenantID := middleware.TenantID(c)
	isolated := middleware.Isolated(c)

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}
	consent, _ := strconv.ParseBool(c.DefaultPostForm("consent", "false"))

	if err := os.MkdirAll(h.files.UploadDir, 0o755); err != nil {
		h.logger.Error("Failed to create upload directory", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload"})
		return
	}

	now := time.Now()
	batch := &db.Batch{
		ID:        uuid.New().String(),
		Name:      name,
		Filename:  file.Filename,
		TenantID:  tenantID,
		Isolated:  isolated,
		Status:    db.BatchQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	path := filepath.Join(h.files.UploadDir, batch.ID+ext)
	if err := c.SaveUploadedFile(file, path); err != nil {
		h.logger.Error("Failed to save upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload"})
		return
	}

	if err := h.store.CreateBatch(c.Request.Context(), batch); err != nil {
		h.logger.Error("Failed to create batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create batch"})
		return
	}

	job, err := h.enqueue(c, db.JobImport, &batch.ID, jobs.ImportParams{
		BatchID:    batch.ID,
		SourcePath: path,
		Consent:    consent,
		Policy:     pipeline.PolicyName(isolated),
	})
	if err != nil {
		h.logger.Error("Failed to enqueue import", zap.String("batch_id", batch.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue import"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch":  batch,
		"job_id": job.ID,
	})
}

func (h *Handler) ListBatches(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	batches, err := h.store.ListBatches(c.Request.Context(), middleware.TenantID(c), limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("Failed to list batches", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"page":    page,
		"limit":   limit,
	})
}

func (h *Handler) GetBatch(c *gin.Context) {
	batch, ok := h.loadBatch(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, batch)
}

// DownloadRejected streams the batch's rejected lines as CSV.
func (h *Handler) DownloadRejected(c *gin.Context) {
	batch, ok := h.loadBatch(c, c.Param("id"))
	if !ok {
		return
	}

	entries, err := h.store.ListRejected(c.Request.Context(), batch.ID)
	if err != nil {
		h.logger.Error("Failed to list rejected entries", zap.String("batch_id", batch.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=rejected_%s.csv", batch.ID))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"Email", "Domain", "Reason", "Details", "Rejected At"})
	for _, e := range entries {
		_ = w.Write([]string{e.Email, e.Domain, e.Reason, e.Details, e.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.logger.Warn("Failed to write rejected csv", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

func (h *Handler) loadBatch(c *gin.Context, id string) (*db.Batch, bool) {
	batch, err := h.store.GetBatchForTenant(c.Request.Context(), id, middleware.TenantID(c))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return nil, false
		}
		h.logger.Error("Failed to get batch", zap.String("batch_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return batch, true
}
