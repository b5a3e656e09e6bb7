package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aerodocs/techpubs-backend/internal/handlers"
	"github.com/aerodocs/techpubs-backend/internal/platform/envutil"
)

type RouterConfig struct {
	ServiceName      string
	UploadsHandler   *handlers.UploadsHandler
	DocumentsHandler *handlers.DocumentsHandler
	JobsHandler      *handlers.JobsHandler
	SearchHandler    *handlers.SearchHandler
	LookupsHandler   *handlers.LookupsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.ServiceName))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Uploads
		api.POST("/uploads/request-url", cfg.UploadsHandler.RequestURL)
		api.POST("/uploads/complete", cfg.UploadsHandler.Complete)
		// Documents
		api.GET("/documents", cfg.DocumentsHandler.List)
		api.GET("/documents/:guid", cfg.DocumentsHandler.Get)
		api.GET("/documents/:guid/chunks", cfg.DocumentsHandler.Chunks)
		api.GET("/documents/:guid/download-url", cfg.DocumentsHandler.DownloadURL)
		api.POST("/documents/:guid/reprocess", cfg.DocumentsHandler.Reprocess)
		// Jobs
		api.GET("/jobs", cfg.JobsHandler.List)
		api.GET("/jobs/:id", cfg.JobsHandler.Get)
		api.POST("/jobs/:id/cancel", cfg.JobsHandler.Cancel)
		api.POST("/jobs/:id/requeue", cfg.JobsHandler.Requeue)
		api.POST("/jobs/queues/:queue/clear", cfg.JobsHandler.ClearQueue)
		// Search
		api.POST("/search", cfg.SearchHandler.Search)
		// Lookups
		api.GET("/aircraft-models", cfg.LookupsHandler.AircraftModels)
		api.GET("/categories", cfg.LookupsHandler.Categories)
		api.GET("/platforms", cfg.LookupsHandler.Platforms)
		api.GET("/document-types", cfg.LookupsHandler.DocumentTypes)
	}

	return router
}

func allowedOrigins() []string {
	raw := envutil.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173", nil)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
