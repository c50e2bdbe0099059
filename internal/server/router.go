package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/reelforge/reelforge-backend/internal/http/handlers"
	"github.com/reelforge/reelforge-backend/internal/http/middleware"
)

type RouterConfig struct {
	AllowOrigins   []string
	AuthMiddleware *middleware.AuthMiddleware
	JobHandler     *handlers.JobHandler
	EventsHandler  *handlers.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("reelforge"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	api.POST("/jobs", cfg.JobHandler.Create)
	api.GET("/jobs", cfg.JobHandler.List)
	api.GET("/jobs/:id", cfg.JobHandler.Get)
	api.GET("/jobs/:id/events", cfg.JobHandler.Events)
	api.GET("/jobs/:id/output", cfg.JobHandler.Output)
	api.GET("/jobs/:id/items", cfg.JobHandler.Items)
	api.POST("/jobs/:id/cancel", cfg.JobHandler.Cancel)
	api.POST("/jobs/:id/restart", cfg.JobHandler.Restart)

	api.GET("/events", cfg.EventsHandler.Stream)

	return router
}
