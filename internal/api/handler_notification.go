package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/repository"
	"notifyhub/internal/service/notification"
	"notifyhub/pkg/workerpool"
)

// NotificationHandler exposes the admission pipeline over HTTP. Each
// admission runs on the bounded worker pool; a full queue is surfaced
// to the caller as a capacity error instead of unbounded queueing.
type NotificationHandler struct {
	service *notification.Service
	pool    *workerpool.Pool
	logger  *zap.Logger
}

func NewNotificationHandler(service *notification.Service, pool *workerpool.Pool, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		pool:    pool,
		logger:  logger,
	}
}

// Send handles POST /api/v1/notifications.
func (h *NotificationHandler) Send(c *gin.Context) {
	var req notification.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var (
		result *notification.Result
		admErr error
	)
	err := h.pool.SubmitWait(c.Request.Context(), func() {
		result, admErr = h.service.Admit(c.Request.Context(), &req)
	})
	if err != nil {
		if errors.Is(err, workerpool.ErrPoolSaturated) || errors.Is(err, workerpool.ErrPoolClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admission capacity exhausted, retry later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "admission interrupted"})
		return
	}

	if admErr != nil {
		h.writeAdmissionError(c, admErr)
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, gin.H{
			"notification": result.Notification,
			"duplicate":    true,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"notification": result.Notification,
		"duplicate":    false,
	})
}

func (h *NotificationHandler) writeAdmissionError(c *gin.Context, err error) {
	var rateErr *notification.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":         rateErr.Error(),
			"scope":         string(rateErr.Result.Scope),
			"current_count": rateErr.Result.CurrentCount,
			"max_allowed":   rateErr.Result.MaxAllowed,
		})
	case errors.Is(err, notification.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Admission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to admit notification"})
	}
}

// GetByID handles GET /api/v1/notifications/:id.
func (h *NotificationHandler) GetByID(c *gin.Context) {
	id := c.Param("id")

	n, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch notification"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notification": n})
}

// GetByUser handles GET /api/v1/users/:user_id/notifications.
func (h *NotificationHandler) GetByUser(c *gin.Context) {
	userID := c.Param("user_id")

	notifications, err := h.service.GetByUser(c.Request.Context(), userID, intQuery(c, "limit"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// GetByCorrelation handles GET /api/v1/correlations/:correlation_id/notifications.
func (h *NotificationHandler) GetByCorrelation(c *gin.Context) {
	correlationID := c.Param("correlation_id")

	notifications, err := h.service.GetByCorrelation(c.Request.Context(), correlationID, intQuery(c, "limit"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}
