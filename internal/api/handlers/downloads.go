package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/api/middleware"
	"github.com/jhossain1509/email-database-manager/internal/db"
)

func (h *Handler) ListDownloads(c *gin.Context) {
	history, err := h.store.ListDownloadHistory(c.Request.Context(), middleware.TenantID(c), middleware.Isolated(c))
	if err != nil {
		h.logger.Error("Failed to list download history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"downloads": history})
}

var contentTypes = map[string]string{
	".csv": "text/csv",
	".txt": "text/plain",
	".zip": "application/zip",
}

// DownloadFile streams an export artifact. Isolated tenants count repeat
// downloads on their own history row.
func (h *Handler) DownloadFile(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	isolated := middleware.Isolated(c)
	ctx := c.Request.Context()

	entry, err := h.store.GetDownloadHistory(ctx, c.Param("id"), tenantID, isolated)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Download not found"})
			return
		}
		h.logger.Error("Failed to get download history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rc, err := h.artifacts.Open(ctx, entry.Path)
	if err != nil {
		h.logger.Error("Failed to open export artifact", zap.String("download_id", entry.ID), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "Export file is no longer available"})
		return
	}
	defer rc.Close()

	if isolated {
		if err := h.store.IncrementTenantDownload(ctx, entry.ID, time.Now()); err != nil {
			h.logger.Warn("Failed to count tenant download", zap.String("download_id", entry.ID), zap.Error(err))
		}
	}

	contentType, ok := contentTypes[filepath.Ext(entry.Filename)]
	if !ok {
		contentType = "application/octet-stream"
	}
	size := entry.SizeBytes
	if size <= 0 {
		size = -1
	}
	c.DataFromReader(http.StatusOK, size, contentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%s", entry.Filename),
	})
}
