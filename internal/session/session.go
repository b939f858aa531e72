// Package session ties the lock client, the canvas store and the document
// API together for one editing session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/apiclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/editor"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/lockclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/series"
	"go.uber.org/zap"
)

var (
	// ErrLockLost indicates the session no longer holds the canvas lock.
	ErrLockLost = errors.New("session: lock lost")
	// ErrSaveInProgress indicates another save of this session is running.
	ErrSaveInProgress = errors.New("session: save already in progress")
	// ErrReadOnly is returned by store mutations while viewing.
	ErrReadOnly = editor.ErrReadOnly

	errMissingDocuments = errors.New("session: document api is required")
	errNoLiveSource     = errors.New("session: no live record source configured")
)

// DocumentAPI loads and stores canvas documents.
type DocumentAPI interface {
	LoadDocument(ctx context.Context, canvasID string) (apiclient.Document, error)
	SaveDocument(ctx context.Context, canvasID string, data []byte) (apiclient.Document, error)
}

// Config describes a Session.
type Config struct {
	CanvasID        string
	SessionID       string
	LockAPI         lockclient.API
	Documents       DocumentAPI
	Records         series.RecordSource
	LockTTL         time.Duration
	RefreshInterval time.Duration
	HistoryCapacity int
	Clock           func() time.Time
	IDProvider      editor.IDProvider
	Logger          *zap.Logger
}

// Session is one editing session on one canvas.
type Session struct {
	canvasID  string
	lock      *lockclient.Client
	store     *editor.Store
	saver     *SaveCoordinator
	documents DocumentAPI
	records   series.RecordSource
	logger    *zap.Logger
}

// New builds a closed session. Call Open to acquire the lock and load the
// canvas.
func New(cfg Config) (*Session, error) {
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lock, err := lockclient.New(lockclient.Config{
		CanvasID:        cfg.CanvasID,
		SessionID:       cfg.SessionID,
		API:             cfg.LockAPI,
		TTL:             cfg.LockTTL,
		RefreshInterval: cfg.RefreshInterval,
		Clock:           cfg.Clock,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	store := editor.NewStore(editor.Config{
		HistoryCapacity: cfg.HistoryCapacity,
		Clock:           cfg.Clock,
		IDProvider:      cfg.IDProvider,
		Logger:          logger,
	})
	store.SetReadOnly(true)
	lock.OnTransition(func(transition lockclient.Transition) {
		switch transition.To {
		case lockclient.StateHeld:
			store.SetReadOnly(false)
		case lockclient.StateViewing, lockclient.StateConflict, lockclient.StateUnlocked:
			store.SetReadOnly(true)
		}
	})
	return &Session{
		canvasID:  cfg.CanvasID,
		lock:      lock,
		store:     store,
		saver:     NewSaveCoordinator(cfg.CanvasID, cfg.SessionID, cfg.LockAPI, cfg.Documents, lock, store, logger),
		documents: cfg.Documents,
		records:   cfg.Records,
		logger:    logger.With(zap.String("canvas_id", cfg.CanvasID)),
	}, nil
}

// Store returns the session's canvas store.
func (s *Session) Store() *editor.Store {
	return s.store
}

// Lock returns the session's lock client.
func (s *Session) Lock() *lockclient.Client {
	return s.lock
}

// ReadOnly reports whether edits are currently refused.
func (s *Session) ReadOnly() bool {
	return s.store.ReadOnly()
}

// Open requests the lock and loads the canvas. A canvas held by another
// session opens read-only. A missing document opens as the default canvas;
// a corrupt one opens with recovered defaults.
func (s *Session) Open(ctx context.Context) (canvas.State, error) {
	if _, err := s.lock.Start(ctx); err != nil {
		return canvas.State{}, fmt.Errorf("session: acquire lock: %w", err)
	}

	state := canvas.DefaultState()
	document, err := s.documents.LoadDocument(ctx, s.canvasID)
	switch {
	case errors.Is(err, apiclient.ErrDocumentNotFound):
		s.logger.Info("canvas has no document, starting empty")
	case err != nil:
		if closeErr := s.lock.Close(ctx); closeErr != nil {
			s.logger.Warn("lock release after failed load", zap.Error(closeErr))
		}
		return canvas.State{}, fmt.Errorf("session: load document: %w", err)
	default:
		decoded, decodeErr := canvas.Decode(document.Data)
		if decodeErr != nil {
			s.logger.Warn("canvas document recovered with defaults", zap.Error(decodeErr))
		}
		state = decoded
	}
	return s.store.Hydrate(state), nil
}

// Save persists the current canvas through the save coordinator.
func (s *Session) Save(ctx context.Context) (canvas.State, error) {
	return s.saver.Save(ctx, s.store.State())
}

// Preview expands every auto-generating series with the records selected by
// the canvas preview configuration.
func (s *Session) Preview(ctx context.Context) ([]canvas.Element, error) {
	state := s.store.State()
	config := state.PreviewConfig

	var source series.RecordSource = series.PreviewSource{Count: config.MockCount}
	if config.Mode == canvas.PreviewModeLive {
		if s.records == nil {
			return nil, errNoLiveSource
		}
		source = s.records
	}
	records, err := source.RankedRecords(ctx, series.Query{TournamentID: config.TournamentID})
	if err != nil {
		return nil, fmt.Errorf("session: preview records: %w", err)
	}
	if roundID := strings.TrimSpace(config.RoundID); roundID != "" {
		for index := range state.ElementSeries {
			if state.ElementSeries[index].RoundID == "" {
				state.ElementSeries[index].RoundID = roundID
			}
		}
	}
	return series.ExpandState(state, records), nil
}

// Close releases the lock. Release failures are logged only; the lock then
// expires on its own.
func (s *Session) Close(ctx context.Context) {
	if err := s.lock.Close(ctx); err != nil {
		s.logger.Warn("canvas lock release failed on close", zap.Error(err))
	}
}
