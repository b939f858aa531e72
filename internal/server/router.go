package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/auth"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/documents"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/series"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sessionIDContextKey = "canvas_session_id"

var (
	errMissingSessionExchange = errors.New("session exchange dependency required")
	errMissingValidator       = errors.New("session validator dependency required")
	errMissingLockService     = errors.New("lock service dependency required")
	errMissingDocumentService = errors.New("document service dependency required")
)

// SessionExchange trades the shared credential for a session grant.
type SessionExchange interface {
	Exchange(ctx context.Context, credential string) (auth.SessionGrant, error)
}

// SessionValidator authenticates requests carrying a session token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Sessions       SessionExchange
	Validator      SessionValidator
	Locks          *locks.Service
	Documents      *documents.Service
	Events         *locks.EventDispatcher
	Records        series.RecordSource
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionExchange
	}
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Locks == nil {
		return nil, errMissingLockService
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		validator: deps.Validator,
		locks:     deps.Locks,
		documents: deps.Documents,
		events:    deps.Events,
		records:   deps.Records,
		upgrader:  newUpgrader(deps.AllowedOrigins),
		logger:    logger,
	}

	router.POST("/sessions", handler.handleCreateSession)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/locks", handler.handleLockStatusAll)
	protected.POST("/locks/cleanup", handler.handleLockCleanup)
	protected.POST("/canvases/:id/lock", handler.handleLockAcquire)
	protected.PUT("/canvases/:id/lock", handler.handleLockRefresh)
	protected.DELETE("/canvases/:id/lock", handler.handleLockRelease)
	protected.GET("/canvases/:id/lock", handler.handleLockStatus)
	protected.GET("/canvases/:id/lock/events", handler.handleLockEvents)
	protected.GET("/canvases/:id/document", handler.handleDocumentLoad)
	protected.PUT("/canvases/:id/document", handler.handleDocumentSave)
	protected.POST("/canvases/:id/archive", handler.handleCanvasArchive)
	protected.DELETE("/canvases/:id", handler.handleCanvasDelete)
	protected.POST("/series/preview", handler.handleSeriesPreview)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	origins := normalizeOrigins(allowedOrigins)
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func normalizeOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type httpHandler struct {
	sessions  SessionExchange
	validator SessionValidator
	locks     *locks.Service
	documents *documents.Service
	events    *locks.EventDispatcher
	records   series.RecordSource
	upgrader  *websocket.Upgrader
	logger    *zap.Logger
}

type sessionRequestPayload struct {
	Credential string `json:"credential"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Credential) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	grant, err := h.sessions.Exchange(c.Request.Context(), request.Credential)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			h.logger.Info("session credential rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credential"})
			return
		}
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionIDContextKey, claims.SessionID)
	c.Next()
}

// serviceCode extracts the dotted code of a service error, if any.
func serviceCode(err error) string {
	var lockErr *locks.ServiceError
	if errors.As(err, &lockErr) {
		return lockErr.Code()
	}
	var documentErr *documents.ServiceError
	if errors.As(err, &documentErr) {
		return documentErr.Code()
	}
	return ""
}

func isInvalidInput(err error) bool {
	return strings.Contains(serviceCode(err), ".invalid_")
}
