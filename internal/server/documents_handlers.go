package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/documents"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/series"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type documentResponsePayload struct {
	CanvasID  string          `json:"canvas_id"`
	Name      string          `json:"name"`
	Version   int64           `json:"version"`
	Archived  bool            `json:"archived"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

type documentSaveRequestPayload struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

func (h *httpHandler) handleDocumentLoad(c *gin.Context) {
	document, err := h.documents.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeDocumentError(c, "load", err)
		return
	}
	state, decodeErr := canvas.Decode(document.Data)
	if decodeErr != nil {
		h.logger.Warn("stored canvas recovered with defaults", zap.String("canvas_id", document.CanvasID), zap.Error(decodeErr))
	}
	data, err := canvas.Encode(state)
	if err != nil {
		h.writeDocumentError(c, "load", err)
		return
	}
	c.JSON(http.StatusOK, newDocumentPayload(document, data))
}

func (h *httpHandler) handleDocumentSave(c *gin.Context) {
	var request documentSaveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	document, err := h.documents.Save(c.Request.Context(), documents.SaveRequest{
		CanvasID:  c.Param("id"),
		SessionID: c.GetString(sessionIDContextKey),
		Name:      strings.TrimSpace(request.Name),
		Data:      request.Data,
	})
	if err != nil {
		h.writeDocumentError(c, "save", err)
		return
	}
	c.JSON(http.StatusOK, newDocumentPayload(document, document.Data))
}

func (h *httpHandler) handleCanvasArchive(c *gin.Context) {
	if err := h.documents.Archive(c.Request.Context(), c.Param("id")); err != nil {
		h.writeDocumentError(c, "archive", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCanvasDelete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeDocumentError(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) writeDocumentError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, documents.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document_not_found"})
	case errors.Is(err, documents.ErrLocked) && operation == "save":
		c.JSON(http.StatusConflict, gin.H{"error": "lock_lost"})
	case errors.Is(err, documents.ErrLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "canvas_locked"})
	case errors.Is(err, documents.ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document"})
	case isInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": serviceCode(err)})
	default:
		h.logger.Error("document request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "document_failed"})
	}
}

func newDocumentPayload(document documents.CanvasDocument, data []byte) documentResponsePayload {
	return documentResponsePayload{
		CanvasID:  document.CanvasID,
		Name:      document.Name,
		Version:   document.Version,
		Archived:  document.Archived,
		UpdatedAt: document.UpdatedAt(),
		Data:      json.RawMessage(data),
	}
}

type previewRequestPayload struct {
	Series       canvas.Series   `json:"series"`
	Records      []series.Record `json:"records"`
	Count        int             `json:"count"`
	TournamentID string          `json:"tournament_id"`
}

func (h *httpHandler) handleSeriesPreview(c *gin.Context) {
	var request previewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	declaration := canvas.Normalize(canvas.State{ElementSeries: []canvas.Series{request.Series}}).ElementSeries[0]

	records := request.Records
	switch {
	case records != nil:
	case strings.TrimSpace(request.TournamentID) != "" && h.records != nil:
		loaded, err := h.records.RankedRecords(c.Request.Context(), series.Query{TournamentID: request.TournamentID})
		if err != nil {
			h.logger.Error("preview records failed", zap.String("tournament_id", request.TournamentID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "preview_failed"})
			return
		}
		records = loaded
	default:
		count := request.Count
		if count <= 0 {
			count = canvas.DefaultMockCount
		}
		records = series.MockRecords(count)
	}
	c.JSON(http.StatusOK, gin.H{"elements": series.Generate(declaration, records)})
}
