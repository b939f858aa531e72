package server

import (
	"errors"
	"net/http"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type lockResponsePayload struct {
	Lock locks.Lock `json:"lock"`
}

type lockStatusPayload struct {
	Locked bool        `json:"locked"`
	Lock   *locks.Lock `json:"lock,omitempty"`
}

func (h *httpHandler) handleLockAcquire(c *gin.Context) {
	lock, err := h.locks.Acquire(c.Request.Context(), c.Param("id"), c.GetString(sessionIDContextKey))
	if err != nil {
		h.writeLockError(c, "acquire", err)
		return
	}
	c.JSON(http.StatusOK, lockResponsePayload{Lock: lock})
}

func (h *httpHandler) handleLockRefresh(c *gin.Context) {
	lock, err := h.locks.Refresh(c.Request.Context(), c.Param("id"), c.GetString(sessionIDContextKey))
	if err != nil {
		h.writeLockError(c, "refresh", err)
		return
	}
	c.JSON(http.StatusOK, lockResponsePayload{Lock: lock})
}

func (h *httpHandler) handleLockRelease(c *gin.Context) {
	if err := h.locks.Release(c.Request.Context(), c.Param("id"), c.GetString(sessionIDContextKey)); err != nil {
		h.writeLockError(c, "release", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLockStatus(c *gin.Context) {
	lock, live, err := h.locks.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLockError(c, "status", err)
		return
	}
	response := lockStatusPayload{Locked: live}
	if live {
		response.Lock = &lock
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleLockStatusAll(c *gin.Context) {
	list, err := h.locks.StatusAll(c.Request.Context())
	if err != nil {
		h.writeLockError(c, "status_all", err)
		return
	}
	if list == nil {
		list = []locks.Lock{}
	}
	c.JSON(http.StatusOK, gin.H{"locks": list})
}

func (h *httpHandler) handleLockCleanup(c *gin.Context) {
	removed, err := h.locks.CleanupExpired(c.Request.Context())
	if err != nil {
		h.writeLockError(c, "cleanup_expired", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *httpHandler) writeLockError(c *gin.Context, operation string, err error) {
	var conflict *locks.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "lock_conflict", "lock": conflict.Holder})
	case errors.Is(err, locks.ErrLockNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "lock_not_found"})
	case isInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": serviceCode(err)})
	default:
		h.logger.Error("lock request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lock_failed"})
	}
}
