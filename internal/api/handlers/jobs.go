package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/api/middleware"
	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
	"github.com/jhossain1509/email-database-manager/internal/export"
	"github.com/jhossain1509/email-database-manager/internal/jobs"
	"github.com/jhossain1509/email-database-manager/internal/pipeline"
)

type ValidateRequest struct {
	BatchID       string   `json:"batch_id"`
	AllUnverified bool     `json:"all_unverified"`
	Domains       []string `json:"domains"`
	CheckMX       *bool    `json:"check_mx"`
	UseSMTP       bool     `json:"use_smtp"`
}

func (h *Handler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sel := pipeline.Selector{BatchID: req.BatchID, AllUnverified: req.AllUnverified, Domains: req.Domains}
	if err := sel.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var batchID *string
	if req.BatchID != "" {
		batch, ok := h.loadBatch(c, req.BatchID)
		if !ok {
			return
		}
		batchID = &batch.ID
	}

	checkMX := true
	if req.CheckMX != nil {
		checkMX = *req.CheckMX
	}

	job, err := h.enqueue(c, db.JobValidate, batchID, jobs.ValidateParams{
		BatchID:       req.BatchID,
		AllUnverified: req.AllUnverified,
		Domains:       req.Domains,
		CheckMX:       checkMX,
		UseSMTP:       req.UseSMTP,
		Policy:        pipeline.PolicyName(middleware.Isolated(c)),
	})
	if err != nil {
		h.logger.Error("Failed to enqueue validation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue validation"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

type ExportRequest struct {
	Bucket       string   `json:"bucket" binding:"required"`
	BatchID      string   `json:"batch_id"`
	Domains      []string `json:"domains"`
	DomainLimits string   `json:"domain_limits"`
	Ratings      []string `json:"ratings"`
	Sample       int      `json:"sample"`
	Format       string   `json:"format"`
	Fields       []string `json:"fields"`
	Split        bool     `json:"split"`
	SplitSize    int      `json:"split_size"`
}

func (h *Handler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limits, err := export.ParseDomainLimits(req.DomainLimits)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter := export.Filter{
		Bucket:       export.Bucket(req.Bucket),
		BatchID:      req.BatchID,
		Domains:      req.Domains,
		DomainLimits: limits,
		Ratings:      req.Ratings,
		Sample:       req.Sample,
	}
	if len(filter.DomainLimits) == 0 {
		filter.DomainLimits = nil
	}
	if err := filter.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var batchID *string
	if req.BatchID != "" {
		batch, ok := h.loadBatch(c, req.BatchID)
		if !ok {
			return
		}
		batchID = &batch.ID
	}

	splitSize := req.SplitSize
	if splitSize <= 0 {
		splitSize = h.files.SplitSize
	}
	format := export.Format{
		Kind:      export.Kind(req.Format),
		Fields:    req.Fields,
		Split:     req.Split,
		SplitSize: splitSize,
	}.Normalized()

	job, err := h.enqueue(c, db.JobExport, batchID, jobs.ExportParams{
		Filter: filter,
		Format: format,
		Policy: pipeline.PolicyName(middleware.Isolated(c)),
	})
	if err != nil {
		h.logger.Error("Failed to enqueue export", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue export"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// JobStatus is what pollers see of a job.
type JobStatus struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	Total           int        `json:"total"`
	Processed       int        `json:"processed"`
	Errors          int        `json:"errors"`
	ProgressPercent float64    `json:"progress_percent"`
	ResultMessage   string     `json:"result_message"`
	ErrorMessage    string     `json:"error_message"`
	ResultData      db.JSONB   `json:"result_data,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func statusOf(j *db.Job) JobStatus {
	return JobStatus{
		ID:              j.ID,
		Type:            string(j.Type),
		Status:          string(j.Status),
		Total:           j.Total,
		Processed:       j.Processed,
		Errors:          j.Errors,
		ProgressPercent: j.ProgressPercent,
		ResultMessage:   j.ResultMessage,
		ErrorMessage:    j.ErrorMessage,
		ResultData:      j.ResultData,
		CreatedAt:       j.CreatedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func (h *Handler) GetJob(c *gin.Context) {
	job, ok := h.loadJob(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, statusOf(job))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second

// JobProgress relays the job's progress channel over a websocket. The
// channel is subscribed before the status snapshot is read, so an event
// published in between is either in the snapshot or on the channel. The
// socket closes once the job finishes.
func (h *Handler) JobProgress(c *gin.Context) {
	job, ok := h.loadJob(c, c.Param("id"))
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("job_id", job.ID))

	if job.Status.Terminal() || h.progress == nil {
		if err := writeJSON(conn, statusOf(job)); err == nil && job.Status.Terminal() {
			closeNormal(conn, string(job.Status))
		}
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub := h.progress.Subscribe(ctx, job.ID)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		logger.Warn("Failed to subscribe to job progress", zap.Error(err))
		return
	}

	job, err = h.store.GetJobForTenant(ctx, job.ID, job.TenantID)
	if err != nil {
		logger.Error("Failed to reload job", zap.Error(err))
		return
	}
	if err := writeJSON(conn, statusOf(job)); err != nil {
		return
	}
	if job.Status.Terminal() {
		closeNormal(conn, string(job.Status))
		return
	}

	// client messages are ignored; a read error means the client went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var p events.Progress
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				logger.Warn("Dropping malformed progress event", zap.Error(err))
				continue
			}
			if err := writeJSON(conn, p); err != nil {
				logger.Debug("Websocket write failed", zap.Error(err))
				return
			}
			if db.JobStatus(p.Status).Terminal() {
				closeNormal(conn, p.Status)
				return
			}
		}
	}
}

func closeNormal(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(wsWriteWait))
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (h *Handler) loadJob(c *gin.Context, id string) (*db.Job, bool) {
	job, err := h.store.GetJobForTenant(c.Request.Context(), id, middleware.TenantID(c))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return nil, false
		}
		h.logger.Error("Failed to get job", zap.String("job_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return job, true
}
