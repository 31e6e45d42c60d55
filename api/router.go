package api

import (
	"github.com/gin-gonic/gin"

	"lumina/config"
)

func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	r.GET("/health", h.handleHealth)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/jobs", h.handleUpload)
		v1.GET("/jobs", h.handleListJobs)
		v1.GET("/jobs/:jobId", h.handleGetJob)
		v1.PATCH("/jobs/:jobId/cancel", h.handleCancelJob)
		v1.GET("/jobs/:jobId/download", h.handleDownload)

		v1.POST("/preview", h.handlePreview)
	}
	return r
}
