package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/api/handlers"
	"github.com/jhossain1509/email-database-manager/internal/api/middleware"
)

// NewRouter wires every route. metricsHandler may be nil.
func NewRouter(h *handlers.Handler, jwtSecret string, metricsHandler http.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	api := router.Group("/api/v1")
	api.Use(middleware.AuthRequired(jwtSecret))
	{
		api.POST("/batches", h.UploadBatch)
		api.GET("/batches", h.ListBatches)
		api.GET("/batches/:id", h.GetBatch)
		api.GET("/batches/:id/rejected", h.DownloadRejected)

		api.POST("/validate", h.Validate)
		api.POST("/exports", h.Export)

		api.GET("/jobs/:id", h.GetJob)
		api.GET("/jobs/:id/ws", h.JobProgress)

		api.GET("/downloads", h.ListDownloads)
		api.GET("/downloads/:id/file", h.DownloadFile)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminRequired())
	{
		admin.GET("/smtp", h.ListSMTPEndpoints)
		admin.POST("/smtp/bulk", h.AddSMTPEndpoints)
		admin.PUT("/smtp/:id/active", h.SetSMTPEndpointActive)

		admin.POST("/suppressions", h.AddSuppressions)

		admin.GET("/ignore-domains", h.ListIgnoreDomains)
		admin.POST("/ignore-domains", h.AddIgnoreDomains)
		admin.DELETE("/ignore-domains/:domain", h.DeleteIgnoreDomain)
	}

	return router
}
