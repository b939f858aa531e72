// Package editor holds the canonical in-memory canvas for an editing
// session. Every mutation funnels through Store and, unless suppressed,
// lands in the session's undo history.
package editor

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/history"
	"go.uber.org/zap"
)

var (
	// ErrReadOnly indicates the session does not hold the canvas lock.
	ErrReadOnly = errors.New("editor: canvas is read-only")
	// ErrDuplicateElement indicates an element id is already in use.
	ErrDuplicateElement = errors.New("editor: duplicate element id")
	// ErrElementNotFound indicates the referenced element does not exist.
	ErrElementNotFound = errors.New("editor: element not found")
	// ErrDuplicateSeries indicates a series id is already in use.
	ErrDuplicateSeries = errors.New("editor: duplicate series id")
	// ErrSeriesNotFound indicates the referenced series does not exist.
	ErrSeriesNotFound = errors.New("editor: series not found")
	// ErrInvalidSettings indicates non-positive canvas dimensions.
	ErrInvalidSettings = errors.New("editor: invalid settings")
)

// Option adjusts how a single mutation is recorded.
type Option func(*mutationOptions)

type mutationOptions struct {
	skipHistory bool
	debounced   bool
}

// WithoutHistory applies the mutation without pushing an undo entry. Use it
// for derived or internal updates.
func WithoutHistory() Option {
	return func(options *mutationOptions) {
		options.skipHistory = true
	}
}

// Debounced marks an element update as part of a continuous gesture. The
// state changes immediately; the history entry is written by EndGesture.
func Debounced() Option {
	return func(options *mutationOptions) {
		options.debounced = true
	}
}

// Config describes the dependencies of a Store.
type Config struct {
	HistoryCapacity int
	Clock           func() time.Time
	IDProvider      IDProvider
	Logger          *zap.Logger
}

// Store is the canonical canvas state container.
type Store struct {
	mu       sync.Mutex
	state    canvas.State
	history  *history.Manager
	clock    func() time.Time
	ids      IDProvider
	logger   *zap.Logger
	readOnly bool
	gestures map[string]canvas.Element
}

// NewStore constructs a store holding the default empty canvas.
func NewStore(cfg Config) *Store {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		state:    canvas.DefaultState(),
		history:  history.NewManager(cfg.HistoryCapacity),
		clock:    clock,
		ids:      ids,
		logger:   logger,
		gestures: make(map[string]canvas.Element),
	}
}

// Hydrate replaces the canvas and drops all history.
func (s *Store) Hydrate(state canvas.State) canvas.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = canvas.Normalize(state)
	s.history.Clear()
	s.gestures = make(map[string]canvas.Element)
	return s.state.Clone()
}

// SetReadOnly toggles whether mutations are accepted.
func (s *Store) SetReadOnly(readOnly bool) {
	s.mu.Lock()
	s.readOnly = readOnly
	s.mu.Unlock()
}

// ReadOnly reports whether mutations are rejected.
func (s *Store) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

// State returns a snapshot of the current canvas.
func (s *Store) State() canvas.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SerializedData returns the canonical persisted form of the current canvas.
func (s *Store) SerializedData() ([]byte, error) {
	return canvas.Encode(s.State())
}

// MarkSaved clears the undo history after a successful save.
func (s *Store) MarkSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
	s.gestures = make(map[string]canvas.Element)
}

// CanUndo reports whether an undo entry exists.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanUndo() || len(s.gestures) > 0
}

// CanRedo reports whether a redo entry exists.
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanRedo()
}

// HistoryLen returns the number of retained history entries.
func (s *Store) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// AddElement appends an element. An empty id is replaced with a fresh one.
func (s *Store) AddElement(element canvas.Element, opts ...Option) (canvas.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), ErrReadOnly
	}
	element = element.Clone()
	if strings.TrimSpace(element.ID) == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return s.state.Clone(), fmt.Errorf("editor: element id: %w", err)
		}
		element.ID = id
	}
	if err := canvas.ValidateElement(element); err != nil {
		return s.state.Clone(), err
	}
	if s.state.ElementIndex(element.ID) >= 0 {
		return s.state.Clone(), fmt.Errorf("%w: %s", ErrDuplicateElement, element.ID)
	}
	return s.commit(history.AddElement{Element: element, Index: len(s.state.Elements)}, collect(opts))
}

// UpdateElement applies mutate to a copy of the element. The element id
// cannot change. With Debounced the change is coalesced into the gesture
// closed by EndGesture.
func (s *Store) UpdateElement(id string, mutate func(*canvas.Element), opts ...Option) (canvas.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), ErrReadOnly
	}
	index := s.state.ElementIndex(id)
	if index < 0 {
		return s.state.Clone(), fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	before := s.state.Elements[index].Clone()
	after := before.Clone()
	if mutate != nil {
		mutate(&after)
	}
	after.ID = before.ID
	if err := canvas.ValidateElement(after); err != nil {
		return s.state.Clone(), err
	}

	options := collect(opts)
	if options.debounced && !options.skipHistory {
		if _, open := s.gestures[id]; !open {
			s.gestures[id] = before
		}
		s.state.Elements[index] = after
		return s.state.Clone(), nil
	}
	if start, open := s.gestures[id]; open && !options.skipHistory {
		before = start
		delete(s.gestures, id)
	}
	return s.commit(history.UpdateElement{ElementID: id, Before: before, After: after}, options)
}

// MoveElement is the positional update used while dragging.
func (s *Store) MoveElement(id string, x, y float64, opts ...Option) (canvas.State, error) {
	return s.UpdateElement(id, func(element *canvas.Element) {
		element.X = x
		element.Y = y
	}, opts...)
}

// EndGesture commits a coalesced run of debounced updates as one history
// entry. It is a no-op when no gesture is open or nothing changed.
func (s *Store) EndGesture(id string) canvas.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushGesture(id)
	return s.state.Clone()
}

// DeleteElement removes an element.
func (s *Store) DeleteElement(id string, opts ...Option) (canvas.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), ErrReadOnly
	}
	index := s.state.ElementIndex(id)
	if index < 0 {
		return s.state.Clone(), fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	s.flushGesture(id)
	index = s.state.ElementIndex(id)
	return s.commit(history.DeleteElement{Element: s.state.Elements[index].Clone(), Index: index}, collect(opts))
}

// UpdateBackground sets or clears the background image.
func (s *Store) UpdateBackground(image *string, opts ...Option) (canvas.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), ErrReadOnly
	}
	var after *string
	if image != nil && strings.TrimSpace(*image) != "" {
		value := *image
		after = &value
	}
	var before *string
	if s.state.BackgroundImage != nil {
		value := *s.state.BackgroundImage
		before = &value
	}
	return s.commit(history.UpdateBackground{Before: before, After: after}, collect(opts))
}

// UpdateSettings replaces the canvas settings.
func (s *Store) UpdateSettings(settings canvas.Settings, opts ...Option) (canvas.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), ErrReadOnly
	}
	if settings.Width <= 0 || settings.Height <= 0 {
		return s.state.Clone(), fmt.Errorf("%w: %vx%v", ErrInvalidSettings, settings.Width, settings.Height)
	}
	if strings.TrimSpace(settings.BackgroundColor) == "" {
		settings.BackgroundColor = canvas.DefaultBackgroundColor
	}
	return s.commit(history.UpdateSettings{Before: s.state.Settings, After: settings}, collect(opts))
}

// AddSeries appends a series declaration.
func (s *Store) AddSeries(declaration canvas.Series, opts ...Option) (canvas.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), ErrReadOnly
	}
	if strings.TrimSpace(declaration.ID) == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return s.state.Clone(), fmt.Errorf("editor: series id: %w", err)
		}
		declaration.ID = id
	}
	if s.state.SeriesIndex(declaration.ID) >= 0 {
		return s.state.Clone(), fmt.Errorf("%w: %s", ErrDuplicateSeries, declaration.ID)
	}
	normalized := normalizeSeries(declaration)
	return s.commit(history.UpdateSeries{Index: len(s.state.ElementSeries), After: &normalized}, collect(opts))
}

// UpdateSeries applies mutate to a copy of the series declaration.
func (s *Store) UpdateSeries(id string, mutate func(*canvas.Series), opts ...Option) (canvas.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), ErrReadOnly
	}
	index := s.state.SeriesIndex(id)
	if index < 0 {
		return s.state.Clone(), fmt.Errorf("%w: %s", ErrSeriesNotFound, id)
	}
	before := s.state.ElementSeries[index].Clone()
	after := before.Clone()
	if mutate != nil {
		mutate(&after)
	}
	after.ID = before.ID
	after = normalizeSeries(after)
	return s.commit(history.UpdateSeries{Index: index, Before: &before, After: &after}, collect(opts))
}

// DeleteSeries removes a series declaration.
func (s *Store) DeleteSeries(id string, opts ...Option) (canvas.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), ErrReadOnly
	}
	index := s.state.SeriesIndex(id)
	if index < 0 {
		return s.state.Clone(), fmt.Errorf("%w: %s", ErrSeriesNotFound, id)
	}
	before := s.state.ElementSeries[index].Clone()
	return s.commit(history.UpdateSeries{Index: index, Before: &before}, collect(opts))
}

// Undo reverts the most recent action. It reports false when there is
// nothing to undo.
func (s *Store) Undo() (canvas.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), false, ErrReadOnly
	}
	s.flushAllGestures()
	action, ok := s.history.Undo()
	if !ok {
		return s.state.Clone(), false, nil
	}
	next, err := history.Revert(s.state, action.Change)
	if err != nil {
		s.logger.Error("editor undo failed", zap.String("action_id", action.ID), zap.String("kind", string(action.Kind())), zap.Error(err))
		return s.state.Clone(), false, err
	}
	s.state = next
	return s.state.Clone(), true, nil
}

// Redo reapplies the most recently undone action. It reports false when
// there is nothing to redo.
func (s *Store) Redo() (canvas.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return s.state.Clone(), false, ErrReadOnly
	}
	s.flushAllGestures()
	action, ok := s.history.Redo()
	if !ok {
		return s.state.Clone(), false, nil
	}
	next, err := history.Apply(s.state, action.Change)
	if err != nil {
		s.logger.Error("editor redo failed", zap.String("action_id", action.ID), zap.String("kind", string(action.Kind())), zap.Error(err))
		return s.state.Clone(), false, err
	}
	s.state = next
	return s.state.Clone(), true, nil
}

// commit applies the change and records it. Callers hold s.mu.
func (s *Store) commit(change history.Change, options mutationOptions) (canvas.State, error) {
	next, err := history.Apply(s.state, change)
	if err != nil {
		return s.state.Clone(), err
	}
	s.state = next
	if !options.skipHistory {
		s.record(change)
	}
	return s.state.Clone(), nil
}

func (s *Store) record(change history.Change) {
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("editor history id generation failed", zap.Error(err))
		id = fmt.Sprintf("%s-%d", change.Kind(), s.clock().UnixNano())
	}
	s.history.Add(history.Action{ID: id, Timestamp: s.clock().UTC(), Change: change})
}

func (s *Store) flushGesture(id string) {
	start, open := s.gestures[id]
	if !open {
		return
	}
	delete(s.gestures, id)
	index := s.state.ElementIndex(id)
	if index < 0 {
		return
	}
	current := s.state.Elements[index].Clone()
	if reflect.DeepEqual(start, current) {
		return
	}
	s.record(history.UpdateElement{ElementID: id, Before: start, After: current})
}

func (s *Store) flushAllGestures() {
	ids := make([]string, 0, len(s.gestures))
	for id := range s.gestures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.flushGesture(id)
	}
}

func collect(opts []Option) mutationOptions {
	var options mutationOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func normalizeSeries(declaration canvas.Series) canvas.Series {
	normalized := canvas.Normalize(canvas.State{ElementSeries: []canvas.Series{declaration}})
	return normalized.ElementSeries[0]
}
