package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/smtpverify"
	"github.com/jhossain1509/email-database-manager/internal/validator"
)

type BulkSMTPRequest struct {
	Config string `json:"config" binding:"required"`
}

// AddSMTPEndpoints parses host|port|username|password lines. Valid lines are
// stored even when other lines fail.
func (h *Handler) AddSMTPEndpoints(c *gin.Context) {
	var req BulkSMTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	endpoints, lineErrs := smtpverify.ParseBulkConfig(req.Config)
	errs := make([]gin.H, 0, len(lineErrs))
	for _, le := range lineErrs {
		errs = append(errs, gin.H{"line": le.Line, "error": le.Err})
	}
	if len(endpoints) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no valid smtp endpoints", "errors": errs})
		return
	}

	if err := h.store.InsertSMTPEndpoints(c.Request.Context(), endpoints); err != nil {
		h.logger.Error("Failed to store smtp endpoints", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store smtp endpoints"})
		return
	}

	h.logger.Info("SMTP endpoints added", zap.Int("added", len(endpoints)), zap.Int("line_errors", len(lineErrs)))
	c.JSON(http.StatusCreated, gin.H{
		"added":     len(endpoints),
		"endpoints": endpoints,
		"errors":    errs,
	})
}

func (h *Handler) ListSMTPEndpoints(c *gin.Context) {
	endpoints, err := h.store.ListSMTPEndpoints(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list smtp endpoints", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

type ActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) SetSMTPEndpointActive(c *gin.Context) {
	var req ActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.store.SetSMTPEndpointActive(c.Request.Context(), id, *req.Active); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "SMTP endpoint not found"})
			return
		}
		h.logger.Error("Failed to update smtp endpoint", zap.String("endpoint_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

type SuppressionRequest struct {
	Emails []string `json:"emails" binding:"required,min=1"`
	Reason string   `json:"reason"`
}

func (h *Handler) AddSuppressions(c *gin.Context) {
	var req SuppressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	entries := make([]db.Suppression, 0, len(req.Emails))
	for _, email := range req.Emails {
		entries = append(entries, db.Suppression{Email: email, Reason: reason})
	}

	added, err := h.store.AddSuppressions(c.Request.Context(), entries)
	if err != nil {
		h.logger.Error("Failed to add suppressions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add suppressions"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": added})
}

func (h *Handler) ListIgnoreDomains(c *gin.Context) {
	domains, err := h.store.ListIgnoreDomains(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list ignore domains", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"domains": domains})
}

// IgnoreDomainsRequest takes domains separated by newlines or commas.
type IgnoreDomainsRequest struct {
	Domains string `json:"domains" binding:"required"`
}

func (h *Handler) AddIgnoreDomains(c *gin.Context) {
	var req IgnoreDomainsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	domains := validator.SplitDomainList(req.Domains)
	if len(domains) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no domains given"})
		return
	}

	added, err := h.store.AddIgnoreDomains(c.Request.Context(), domains)
	if err != nil {
		h.logger.Error("Failed to add ignore domains", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add ignore domains"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": added, "submitted": len(domains)})
}

func (h *Handler) DeleteIgnoreDomain(c *gin.Context) {
	domain := c.Param("domain")
	if err := h.store.DeleteIgnoreDomain(c.Request.Context(), domain); err != nil {
		h.logger.Error("Failed to delete ignore domain", zap.String("domain", domain), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}
