// Package locks owns the per-canvas edit lock. A lock row whose expiry has
// passed is treated as absent on every path.
package locks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is the lock lifetime granted by acquire and refresh.
const DefaultTTL = 5 * time.Minute

const maxSessionIDLength = 190

var (
	// ErrLockConflict indicates a live lock is held by another session.
	ErrLockConflict = errors.New("locks: canvas locked by another session")
	// ErrLockNotFound indicates no live lock exists for the canvas.
	ErrLockNotFound = errors.New("locks: lock not found")
	// ErrInvalidSessionID indicates an empty or oversized session identifier.
	ErrInvalidSessionID = errors.New("locks: invalid session id")
)

// Lock is the live lock state of a canvas.
type Lock struct {
	CanvasID  string    `json:"canvas_id"`
	SessionID string    `json:"session_id"`
	Locked    bool      `json:"locked"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the lock is unexpired at now.
func (l Lock) Live(now time.Time) bool {
	return l.Locked && l.ExpiresAt.After(now)
}

// HeldBy reports whether the lock belongs to the session.
func (l Lock) HeldBy(sessionID string) bool {
	return l.SessionID == sessionID
}

// ConflictError carries the lock that blocked an acquire or refresh.
type ConflictError struct {
	Holder Lock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: held until %s", ErrLockConflict, e.Holder.ExpiresAt.UTC().Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrLockConflict.
func (e *ConflictError) Unwrap() error {
	return ErrLockConflict
}

// Record is the persisted lock row. Timestamps are unix milliseconds.
type Record struct {
	CanvasID    string `gorm:"column:canvas_id;primaryKey;size:190;not null"`
	SessionID   string `gorm:"column:session_id;size:190;not null"`
	Locked      bool   `gorm:"column:locked;not null;default:true"`
	LockedAtMs  int64  `gorm:"column:locked_at_ms;not null"`
	ExpiresAtMs int64  `gorm:"column:expires_at_ms;not null;index:idx_canvas_locks_expires"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "canvas_locks"
}

func (r Record) lock() Lock {
	return Lock{
		CanvasID:  r.CanvasID,
		SessionID: r.SessionID,
		Locked:    r.Locked,
		LockedAt:  time.UnixMilli(r.LockedAtMs).UTC(),
		ExpiresAt: time.UnixMilli(r.ExpiresAtMs).UTC(),
	}
}

func newRecord(canvasID, sessionID string, now time.Time, ttl time.Duration) Record {
	return Record{
		CanvasID:    canvasID,
		SessionID:   sessionID,
		Locked:      true,
		LockedAtMs:  now.UnixMilli(),
		ExpiresAtMs: now.Add(ttl).UnixMilli(),
	}
}

func validateSessionID(sessionID string) (string, error) {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(trimmed) > maxSessionIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSessionID, maxSessionIDLength)
	}
	return trimmed, nil
}
