package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/apiclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/editor"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/lockclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// StatusChecker reports the live lock on a canvas.
type StatusChecker interface {
	Status(ctx context.Context, canvasID string) (locks.Lock, bool, error)
}

// SaveCoordinator persists the session's canvas after confirming the session
// still holds the lock. One save runs at a time.
type SaveCoordinator struct {
	canvasID  string
	sessionID string
	status    StatusChecker
	documents DocumentAPI
	lock      *lockclient.Client
	store     *editor.Store
	gate      *semaphore.Weighted
	logger    *zap.Logger
}

// NewSaveCoordinator wires the collaborators of a save.
func NewSaveCoordinator(canvasID, sessionID string, status StatusChecker, documents DocumentAPI, lock *lockclient.Client, store *editor.Store, logger *zap.Logger) *SaveCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaveCoordinator{
		canvasID:  canvasID,
		sessionID: sessionID,
		status:    status,
		documents: documents,
		lock:      lock,
		store:     store,
		gate:      semaphore.NewWeighted(1),
		logger:    logger,
	}
}

// Save checks the lock, writes the encoded state, clears the undo history
// and returns the persisted snapshot. When the lock is gone the state and
// history are left untouched and ErrLockLost is returned.
func (c *SaveCoordinator) Save(ctx context.Context, state canvas.State) (canvas.State, error) {
	if !c.gate.TryAcquire(1) {
		return canvas.State{}, ErrSaveInProgress
	}
	defer c.gate.Release(1)

	lock, live, err := c.status.Status(ctx, c.canvasID)
	if err != nil {
		return canvas.State{}, fmt.Errorf("session: save status check: %w", err)
	}
	if !live || !lock.HeldBy(c.sessionID) {
		var holder *locks.Lock
		if live {
			holder = &lock
		}
		c.lock.MarkLost(holder)
		c.logger.Warn("canvas save refused, lock lost", zap.String("canvas_id", c.canvasID), zap.Bool("held_elsewhere", live))
		return canvas.State{}, ErrLockLost
	}

	data, err := canvas.Encode(state)
	if err != nil {
		return canvas.State{}, fmt.Errorf("session: encode canvas: %w", err)
	}
	document, err := c.documents.SaveDocument(ctx, c.canvasID, data)
	if err != nil {
		if errors.Is(err, apiclient.ErrLockLost) {
			c.lock.MarkLost(nil)
			return canvas.State{}, ErrLockLost
		}
		return canvas.State{}, fmt.Errorf("session: save document: %w", err)
	}

	persisted := []byte(document.Data)
	if len(persisted) == 0 {
		persisted = data
	}
	saved, err := canvas.Decode(persisted)
	if err != nil {
		c.logger.Warn("saved canvas decoded with recovery", zap.String("canvas_id", c.canvasID), zap.Error(err))
	}
	c.store.MarkSaved()
	c.logger.Info("canvas saved", zap.String("canvas_id", c.canvasID), zap.Int64("version", document.Version))
	return saved, nil
}
