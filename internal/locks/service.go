package locks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("lock store is required")
	noOpLogger      = zap.NewNop()
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
	opServiceNew     = "locks.service.new"
	opAcquire        = "locks.acquire"
	opRefresh        = "locks.refresh"
	opRelease        = "locks.release"
	opStatus         = "locks.status"
	opStatusAll      = "locks.status_all"
	opCleanupExpired = "locks.cleanup_expired"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Store  Store
	TTL    time.Duration
	Clock  func() time.Time
	Events *EventDispatcher
	Logger *zap.Logger
}

// Service is the authority for canvas edit locks.
type Service struct {
	store  Store
	ttl    time.Duration
	clock  func() time.Time
	events *EventDispatcher
	logger *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:  cfg.Store,
		ttl:    ttl,
		clock:  clock,
		events: cfg.Events,
		logger: logger,
	}, nil
}

// TTL returns the lifetime granted by acquire and refresh.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Acquire grants the lock unless another session holds a live one, in which
// case the returned error is a *ConflictError.
func (s *Service) Acquire(ctx context.Context, canvasID, sessionID string) (Lock, error) {
	canvasKey, holder, err := s.validate(opAcquire, canvasID, sessionID)
	if err != nil {
		return Lock{}, err
	}
	now := s.now()
	lock, err := s.store.Acquire(ctx, canvasKey, holder, now, s.ttl)
	if err != nil {
		if errors.Is(err, ErrLockConflict) {
			return Lock{}, err
		}
		s.logError(opAcquire, "store_failed", err, zap.String("canvas_id", canvasKey))
		return Lock{}, newServiceError(opAcquire, "store_failed", err)
	}
	s.publish(EventAcquired, lock, now)
	return lock, nil
}

// Refresh extends the caller's live lock. locked_at is left unchanged.
func (s *Service) Refresh(ctx context.Context, canvasID, sessionID string) (Lock, error) {
	canvasKey, holder, err := s.validate(opRefresh, canvasID, sessionID)
	if err != nil {
		return Lock{}, err
	}
	now := s.now()
	lock, err := s.store.Refresh(ctx, canvasKey, holder, now, s.ttl)
	if err != nil {
		if errors.Is(err, ErrLockConflict) || errors.Is(err, ErrLockNotFound) {
			return Lock{}, err
		}
		s.logError(opRefresh, "store_failed", err, zap.String("canvas_id", canvasKey))
		return Lock{}, newServiceError(opRefresh, "store_failed", err)
	}
	s.publish(EventRefreshed, lock, now)
	return lock, nil
}

// Release removes the caller's lock or a stale one. Releasing an absent lock
// or another session's live lock succeeds without effect. An empty session id
// removes the row unconditionally.
func (s *Service) Release(ctx context.Context, canvasID, sessionID string) error {
	canvasKey, err := canvas.NewCanvasID(canvasID)
	if err != nil {
		return newServiceError(opRelease, "invalid_canvas_id", err)
	}
	holder := ""
	if sessionID != "" {
		if holder, err = validateSessionID(sessionID); err != nil {
			return newServiceError(opRelease, "invalid_session_id", err)
		}
	}
	now := s.now()
	released, err := s.store.Release(ctx, canvasKey.String(), holder, now)
	if err != nil {
		s.logError(opRelease, "store_failed", err, zap.String("canvas_id", canvasKey.String()))
		return newServiceError(opRelease, "store_failed", err)
	}
	if released {
		s.publish(EventReleased, Lock{CanvasID: canvasKey.String(), SessionID: holder}, now)
	}
	return nil
}

// Status returns the live lock for the canvas, if any.
func (s *Service) Status(ctx context.Context, canvasID string) (Lock, bool, error) {
	canvasKey, err := canvas.NewCanvasID(canvasID)
	if err != nil {
		return Lock{}, false, newServiceError(opStatus, "invalid_canvas_id", err)
	}
	lock, ok, err := s.store.Get(ctx, canvasKey.String(), s.now())
	if err != nil {
		s.logError(opStatus, "store_failed", err, zap.String("canvas_id", canvasKey.String()))
		return Lock{}, false, newServiceError(opStatus, "store_failed", err)
	}
	return lock, ok, nil
}

// StatusAll lists every live lock ordered by canvas id.
func (s *Service) StatusAll(ctx context.Context) ([]Lock, error) {
	locks, err := s.store.List(ctx, s.now())
	if err != nil {
		s.logError(opStatusAll, "store_failed", err)
		return nil, newServiceError(opStatusAll, "store_failed", err)
	}
	return locks, nil
}

// CleanupExpired deletes stale lock rows and reports how many were removed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()
	canvasIDs, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		s.logError(opCleanupExpired, "store_failed", err)
		return 0, newServiceError(opCleanupExpired, "store_failed", err)
	}
	for _, canvasID := range canvasIDs {
		s.publish(EventExpired, Lock{CanvasID: canvasID}, now)
	}
	if len(canvasIDs) > 0 {
		s.logger.Info("expired canvas locks removed", zap.Int("count", len(canvasIDs)))
	}
	return int64(len(canvasIDs)), nil
}

// RunCleanup calls CleanupExpired every interval until ctx ends.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("scheduled lock cleanup failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) validate(operation, canvasID, sessionID string) (string, string, error) {
	canvasKey, err := canvas.NewCanvasID(canvasID)
	if err != nil {
		return "", "", newServiceError(operation, "invalid_canvas_id", err)
	}
	holder, err := validateSessionID(sessionID)
	if err != nil {
		return "", "", newServiceError(operation, "invalid_session_id", err)
	}
	return canvasKey.String(), holder, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) publish(eventType EventType, lock Lock, now time.Time) {
	s.events.Publish(Event{
		Type:      eventType,
		CanvasID:  lock.CanvasID,
		SessionID: lock.SessionID,
		ExpiresAt: lock.ExpiresAt,
		Timestamp: now,
	})
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
	s.logger.Error("locks service error", attrs...)
}

func sortLocks(locks []Lock) {
	sort.Slice(locks, func(left, right int) bool {
		return locks[left].CanvasID < locks[right].CanvasID
	})
}
