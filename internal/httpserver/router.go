package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifyhub/internal/api"
	"notifyhub/pkg/rbac"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	notificationHandler *api.NotificationHandler,
	adminHandler *api.AdminHandler,
	jwtSecret string,
	db *pgxpool.Pool,
) *Router {
	r := gin.Default()
	r.Use(TraceMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(jwtSecret))
	{
		v1.POST("/notifications",
			RequirePermission(rbac.PermissionSendNotification),
			notificationHandler.Send)

		read := v1.Group("/")
		read.Use(RequirePermission(rbac.PermissionReadNotification))
		{
			read.GET("/notifications/:id", notificationHandler.GetByID)
			read.GET("/users/:user_id/notifications", notificationHandler.GetByUser)
			read.GET("/correlations/:correlation_id/notifications", notificationHandler.GetByCorrelation)
		}
	}

	// Admin
	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(jwtSecret))
	{
		admin.GET("/outbox/failed",
			RequirePermission(rbac.PermissionReplayOutbox),
			adminHandler.ListFailedOutbox)
		admin.POST("/outbox/:id/replay",
			RequirePermission(rbac.PermissionReplayOutbox),
			adminHandler.ReplayOutbox)
		admin.GET("/dead-letters",
			RequirePermission(rbac.PermissionReadDeadLetter),
			adminHandler.ListDeadLetters)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
