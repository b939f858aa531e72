// Package documents persists canvas documents and enforces the lock guard on
// writes and destructive operations.
package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingLocks    = errors.New("lock status source is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "documents.service.new"
	opLoad       = "documents.load"
	opSave       = "documents.save"
	opArchive    = "documents.archive"
	opDelete     = "documents.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// LockStatus reports the live lock on a canvas.
type LockStatus interface {
	Status(ctx context.Context, canvasID string) (locks.Lock, bool, error)
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Database *gorm.DB
	Locks    LockStatus
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service reads and writes canvas documents.
type Service struct {
	db     *gorm.DB
	locks  LockStatus
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Locks == nil {
		return nil, newServiceError(opServiceNew, "missing_locks", errMissingLocks)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, locks: cfg.Locks, clock: clock, logger: logger}, nil
}

// Load returns the stored document.
func (s *Service) Load(ctx context.Context, canvasID string) (CanvasDocument, error) {
	canvasKey, err := canvas.NewCanvasID(canvasID)
	if err != nil {
		return CanvasDocument{}, newServiceError(opLoad, "invalid_canvas_id", err)
	}
	var document CanvasDocument
	err = s.db.WithContext(ctx).Where("canvas_id = ?", canvasKey.String()).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CanvasDocument{}, ErrDocumentNotFound
	}
	if err != nil {
		s.logError(opLoad, "query_failed", err, zap.String("canvas_id", canvasKey.String()))
		return CanvasDocument{}, newServiceError(opLoad, "query_failed", err)
	}
	return document, nil
}

// LoadState returns the decoded canvas. Corrupt stored data yields the
// recovered state alongside a *canvas.SerializationError.
func (s *Service) LoadState(ctx context.Context, canvasID string) (canvas.State, error) {
	document, err := s.Load(ctx, canvasID)
	if err != nil {
		return canvas.State{}, err
	}
	state, err := canvas.Decode(document.Data)
	if err != nil {
		s.logger.Warn("canvas document recovered with defaults",
			zap.String("canvas_id", document.CanvasID),
			zap.Error(err))
	}
	return state, err
}

// Save writes the document in canonical form. The caller must hold the live
// lock for the canvas.
func (s *Service) Save(ctx context.Context, request SaveRequest) (CanvasDocument, error) {
	canvasKey, err := canvas.NewCanvasID(request.CanvasID)
	if err != nil {
		return CanvasDocument{}, newServiceError(opSave, "invalid_canvas_id", err)
	}
	lock, live, err := s.locks.Status(ctx, canvasKey.String())
	if err != nil {
		s.logError(opSave, "lock_status_failed", err, zap.String("canvas_id", canvasKey.String()))
		return CanvasDocument{}, newServiceError(opSave, "lock_status_failed", err)
	}
	if !live || request.SessionID == "" || !lock.HeldBy(request.SessionID) {
		return CanvasDocument{}, ErrLocked
	}

	state, err := canvas.Decode(request.Data)
	var malformed *canvas.SerializationError
	if errors.As(err, &malformed) && malformed.Cause != nil {
		return CanvasDocument{}, fmt.Errorf("%w: %v", ErrInvalidDocument, malformed.Cause)
	}
	encoded, err := canvas.Encode(state)
	if err != nil {
		return CanvasDocument{}, newServiceError(opSave, "encode_failed", err)
	}

	var saved CanvasDocument
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing CanvasDocument
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("canvas_id = ?", canvasKey.String()).
			Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		saved = CanvasDocument{
			CanvasID:    canvasKey.String(),
			Name:        existing.Name,
			Data:        datatypes.JSON(encoded),
			Archived:    existing.Archived,
			UpdatedAtMs: s.clock().UTC().UnixMilli(),
			Version:     existing.Version + 1,
		}
		if request.Name != "" {
			saved.Name = request.Name
		}
		return tx.Save(&saved).Error
	})
	if txErr != nil {
		s.logError(opSave, "write_failed", txErr, zap.String("canvas_id", canvasKey.String()))
		return CanvasDocument{}, newServiceError(opSave, "write_failed", txErr)
	}
	return saved, nil
}

// Archive hides the document. It refuses while any session holds the lock.
func (s *Service) Archive(ctx context.Context, canvasID string) error {
	canvasKey, err := s.guardDestructive(ctx, opArchive, canvasID)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&CanvasDocument{}).
		Where("canvas_id = ?", canvasKey).
		Updates(map[string]any{"archived": true, "updated_at_ms": s.clock().UTC().UnixMilli()})
	if result.Error != nil {
		s.logError(opArchive, "write_failed", result.Error, zap.String("canvas_id", canvasKey))
		return newServiceError(opArchive, "write_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Delete removes the document. It refuses while any session holds the lock.
func (s *Service) Delete(ctx context.Context, canvasID string) error {
	canvasKey, err := s.guardDestructive(ctx, opDelete, canvasID)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Where("canvas_id = ?", canvasKey).Delete(&CanvasDocument{})
	if result.Error != nil {
		s.logError(opDelete, "write_failed", result.Error, zap.String("canvas_id", canvasKey))
		return newServiceError(opDelete, "write_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *Service) guardDestructive(ctx context.Context, operation, canvasID string) (string, error) {
	canvasKey, err := canvas.NewCanvasID(canvasID)
	if err != nil {
		return "", newServiceError(operation, "invalid_canvas_id", err)
	}
	_, live, err := s.locks.Status(ctx, canvasKey.String())
	if err != nil {
		s.logError(operation, "lock_status_failed", err, zap.String("canvas_id", canvasKey.String()))
		return "", newServiceError(operation, "lock_status_failed", err)
	}
	if live {
		return "", ErrLocked
	}
	return canvasKey.String(), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("documents service error", attrs...)
}
