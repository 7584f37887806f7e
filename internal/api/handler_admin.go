package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyhub/internal/repository"
	"notifyhub/pkg/outbox"
)

// AdminHandler exposes the operator surface: parked outbox events,
// manual replay, and the dead letter archive.
type AdminHandler struct {
	replay         *outbox.ReplayService
	deadLetterRepo *repository.DeadLetterRepository
	logger         *zap.Logger
}

func NewAdminHandler(replay *outbox.ReplayService, deadLetterRepo *repository.DeadLetterRepository, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		replay:         replay,
		deadLetterRepo: deadLetterRepo,
		logger:         logger,
	}
}

// ListFailedOutbox handles GET /admin/outbox/failed.
func (h *AdminHandler) ListFailedOutbox(c *gin.Context) {
	limit := intQuery(c, "limit")
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	events, err := h.replay.ListFailed(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list outbox events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list outbox events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ReplayOutbox handles POST /admin/outbox/:id/replay.
func (h *AdminHandler) ReplayOutbox(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	if err := h.replay.ReplayEvent(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to replay outbox event",
			zap.Int64("event_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": id, "status": "replayed"})
}

// ListDeadLetters handles GET /admin/dead-letters.
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit := intQuery(c, "limit")
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	letters, err := h.deadLetterRepo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list dead letters", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dead_letters": letters})
}

// intQuery parses an integer query parameter, 0 when absent or invalid.
func intQuery(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
