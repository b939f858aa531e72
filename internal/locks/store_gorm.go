package locks

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store performs the conditional writes behind the lock protocol. Every
// method receives the service clock reading so expiry is decided in one place.
type Store interface {
	Acquire(ctx context.Context, canvasID, sessionID string, now time.Time, ttl time.Duration) (Lock, error)
	Refresh(ctx context.Context, canvasID, sessionID string, now time.Time, ttl time.Duration) (Lock, error)
	Release(ctx context.Context, canvasID, sessionID string, now time.Time) (bool, error)
	Get(ctx context.Context, canvasID string, now time.Time) (Lock, bool, error)
	List(ctx context.Context, now time.Time) ([]Lock, error)
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
}

// GormStore keeps lock rows in the canvas_locks table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore binds a store to the database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// acquireAttempts bounds retries when a concurrent writer leaves behind a
// row that is already expired by the time it is re-read.
const acquireAttempts = 2

func (s *GormStore) Acquire(ctx context.Context, canvasID, sessionID string, now time.Time, ttl time.Duration) (Lock, error) {
	var err error
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		var lock Lock
		lock, err = s.acquireOnce(ctx, canvasID, sessionID, now, ttl)
		if !errors.Is(err, ErrLockNotFound) {
			return lock, err
		}
	}
	return Lock{}, err
}

func (s *GormStore) acquireOnce(ctx context.Context, canvasID, sessionID string, now time.Time, ttl time.Duration) (Lock, error) {
	record := newRecord(canvasID, sessionID, now, ttl)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Record
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("canvas_id = ?", canvasID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
			if created.Error != nil {
				return created.Error
			}
			if created.RowsAffected == 1 {
				return nil
			}
			return conflictFromRow(tx, canvasID, now)
		}
		if err != nil {
			return err
		}
		if existing.lock().Live(now) && !existing.lock().HeldBy(sessionID) {
			return &ConflictError{Holder: existing.lock()}
		}
		updated := tx.Model(&Record{}).
			Where("canvas_id = ? AND (expires_at_ms <= ? OR session_id = ?)", canvasID, now.UnixMilli(), sessionID).
			Updates(map[string]any{
				"session_id":    record.SessionID,
				"locked":        true,
				"locked_at_ms":  record.LockedAtMs,
				"expires_at_ms": record.ExpiresAtMs,
			})
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			return conflictFromRow(tx, canvasID, now)
		}
		return nil
	})
	if err != nil {
		return Lock{}, err
	}
	return record.lock(), nil
}

func (s *GormStore) Refresh(ctx context.Context, canvasID, sessionID string, now time.Time, ttl time.Duration) (Lock, error) {
	var refreshed Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated := tx.Model(&Record{}).
			Where("canvas_id = ? AND session_id = ? AND expires_at_ms > ?", canvasID, sessionID, now.UnixMilli()).
			Update("expires_at_ms", now.Add(ttl).UnixMilli())
		if updated.Error != nil {
			return updated.Error
		}
		if updated.RowsAffected == 0 {
			if err := conflictFromRow(tx, canvasID, now); errors.Is(err, ErrLockConflict) {
				return err
			}
			return ErrLockNotFound
		}
		return tx.Where("canvas_id = ?", canvasID).Take(&refreshed).Error
	})
	if err != nil {
		return Lock{}, err
	}
	return refreshed.lock(), nil
}

func (s *GormStore) Release(ctx context.Context, canvasID, sessionID string, now time.Time) (bool, error) {
	query := s.db.WithContext(ctx).Where("canvas_id = ?", canvasID)
	if sessionID != "" {
		query = query.Where("(session_id = ? OR expires_at_ms <= ?)", sessionID, now.UnixMilli())
	}
	result := query.Delete(&Record{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) Get(ctx context.Context, canvasID string, now time.Time) (Lock, bool, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where("canvas_id = ? AND expires_at_ms > ?", canvasID, now.UnixMilli()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Lock{}, false, nil
	}
	if err != nil {
		return Lock{}, false, err
	}
	return record.lock(), true, nil
}

func (s *GormStore) List(ctx context.Context, now time.Time) ([]Lock, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("expires_at_ms > ?", now.UnixMilli()).
		Order("canvas_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	locks := make([]Lock, 0, len(records))
	for _, record := range records {
		locks = append(locks, record.lock())
	}
	return locks, nil
}

func (s *GormStore) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	var canvasIDs []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Record{}).
			Where("expires_at_ms <= ?", now.UnixMilli()).
			Order("canvas_id ASC").
			Pluck("canvas_id", &canvasIDs).Error; err != nil {
			return err
		}
		if len(canvasIDs) == 0 {
			return nil
		}
		return tx.Where("canvas_id IN ? AND expires_at_ms <= ?", canvasIDs, now.UnixMilli()).
			Delete(&Record{}).Error
	})
	if err != nil {
		return nil, err
	}
	return canvasIDs, nil
}

// conflictFromRow re-reads a row that won a concurrent write.
func conflictFromRow(tx *gorm.DB, canvasID string, now time.Time) error {
	var winner Record
	if err := tx.Where("canvas_id = ?", canvasID).Take(&winner).Error; err != nil {
		return err
	}
	if !winner.lock().Live(now) {
		return ErrLockNotFound
	}
	return &ConflictError{Holder: winner.lock()}
}
