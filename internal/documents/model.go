package documents

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

var (
	// ErrDocumentNotFound indicates no document exists for the canvas.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrLocked indicates a live lock blocks the operation.
	ErrLocked = errors.New("documents: canvas is locked")
	// ErrInvalidDocument indicates the payload is not a canvas document.
	ErrInvalidDocument = errors.New("documents: invalid document")
)

// CanvasDocument is the persisted canvas blob.
type CanvasDocument struct {
	CanvasID    string         `gorm:"column:canvas_id;primaryKey;size:190;not null"`
	Name        string         `gorm:"column:name;size:190;not null;default:''"`
	Data        datatypes.JSON `gorm:"column:data;not null"`
	Archived    bool           `gorm:"column:archived;not null;default:false;index:idx_canvas_documents_archived"`
	UpdatedAtMs int64          `gorm:"column:updated_at_ms;not null"`
	Version     int64          `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (CanvasDocument) TableName() string {
	return "canvas_documents"
}

// UpdatedAt returns the last write time.
func (d CanvasDocument) UpdatedAt() time.Time {
	return time.UnixMilli(d.UpdatedAtMs).UTC()
}

// SaveRequest carries a document write from the session holding the lock.
type SaveRequest struct {
	CanvasID  string
	SessionID string
	Name      string
	Data      []byte
}
