package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/apiclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/documents"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/lockclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

type sessionHarness struct {
	db        *gorm.DB
	clock     *fakeClock
	locks     *locks.Service
	documents *documents.Service
}

func newHarness(t *testing.T) sessionHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&locks.Record{}, &documents.CanvasDocument{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	clock := &fakeClock{now: time.Date(2024, 11, 3, 18, 0, 0, 0, time.UTC)}
	lockService, err := locks.NewService(locks.ServiceConfig{Store: locks.NewGormStore(db), Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build lock service: %v", err)
	}
	documentService, err := documents.NewService(documents.ServiceConfig{Database: db, Locks: lockService, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build document service: %v", err)
	}
	return sessionHarness{db: db, clock: clock, locks: lockService, documents: documentService}
}

func (h sessionHarness) newSession(t *testing.T, sessionID string) *Session {
	t.Helper()
	session, err := New(Config{
		CanvasID:  "canvas-1",
		SessionID: sessionID,
		LockAPI:   lockclient.Bind(h.locks, sessionID),
		Documents: BindDocuments(h.documents, sessionID),
		Clock:     h.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}
	t.Cleanup(func() { session.Lock().RefreshTask().Stop() })
	return session
}

func mustOpen(t *testing.T, session *Session) canvas.State {
	t.Helper()
	state, err := session.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return state
}

func textElement(id string) canvas.Element {
	return canvas.Element{ID: id, Type: canvas.ElementTypeText, X: 10, Y: 20, Content: "Standings"}
}

func TestOpenHoldsLockAndStartsFromDefaultCanvas(t *testing.T) {
	harness := newHarness(t)
	session := harness.newSession(t, "session-a")

	state := mustOpen(t, session)
	if session.Lock().Current().State != lockclient.StateHeld || session.ReadOnly() {
		t.Fatalf("expected editable session holding the lock")
	}
	if len(state.Elements) != 0 || state.Settings.Width != canvas.DefaultWidth {
		t.Fatalf("expected default canvas, got %#v", state)
	}

	session.Close(context.Background())
	if _, live, err := harness.locks.Status(context.Background(), "canvas-1"); err != nil || live {
		t.Fatalf("expected lock released on close, live=%v err=%v", live, err)
	}
}

func TestSecondSessionOpensReadOnly(t *testing.T) {
	harness := newHarness(t)
	editorSession := harness.newSession(t, "session-a")
	viewer := harness.newSession(t, "session-b")
	mustOpen(t, editorSession)
	mustOpen(t, viewer)

	snapshot := viewer.Lock().Current()
	if snapshot.State != lockclient.StateViewing || snapshot.Holder == nil || snapshot.Holder.SessionID != "session-a" {
		t.Fatalf("expected viewer to see holder, got %#v", snapshot)
	}
	if _, err := viewer.Store().AddElement(textElement("title")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected read-only mutation to fail, got %v", err)
	}
	if _, err := viewer.Save(context.Background()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected viewer save to be refused, got %v", err)
	}
}

func TestSavePersistsAndClearsHistory(t *testing.T) {
	harness := newHarness(t)
	session := harness.newSession(t, "session-a")
	mustOpen(t, session)

	if _, err := session.Store().AddElement(textElement("title")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	saved, err := session.Save(context.Background())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if len(saved.Elements) != 1 || saved.Elements[0].ID != "title" {
		t.Fatalf("unexpected saved snapshot %#v", saved.Elements)
	}
	if session.Store().CanUndo() {
		t.Fatalf("expected history cleared after save")
	}
	session.Close(context.Background())

	reader := harness.newSession(t, "session-b")
	state := mustOpen(t, reader)
	if len(state.Elements) != 1 || state.Elements[0].Content != "Standings" {
		t.Fatalf("expected saved canvas on reopen, got %#v", state.Elements)
	}
}

func TestSaveAfterLockExpiryAndTakeoverFailsWithoutTouchingState(t *testing.T) {
	harness := newHarness(t)
	first := harness.newSession(t, "session-a")
	mustOpen(t, first)
	if _, err := first.Store().AddElement(textElement("title")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	harness.clock.Advance(locks.DefaultTTL)
	second := harness.newSession(t, "session-b")
	mustOpen(t, second)
	if second.Lock().Current().State != lockclient.StateHeld {
		t.Fatalf("expected second session to take over the expired lock")
	}

	if _, err := first.Save(context.Background()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected lock lost, got %v", err)
	}
	snapshot := first.Lock().Current()
	if snapshot.State != lockclient.StateConflict || snapshot.Holder == nil || snapshot.Holder.SessionID != "session-b" {
		t.Fatalf("expected conflict naming the new holder, got %#v", snapshot)
	}
	if len(first.Store().State().Elements) != 1 || !first.Store().CanUndo() {
		t.Fatalf("failed save must leave state and history intact")
	}
	if !first.ReadOnly() {
		t.Fatalf("expected session to turn read-only after losing the lock")
	}
	if _, err := harness.documents.Load(context.Background(), "canvas-1"); !errors.Is(err, documents.ErrDocumentNotFound) {
		t.Fatalf("refused save must not persist, got %v", err)
	}
}

func TestOpenRecoversCorruptDocument(t *testing.T) {
	harness := newHarness(t)
	corrupt := documents.CanvasDocument{
		CanvasID:    "canvas-1",
		Data:        datatypes.JSON(`{"elements":"not-a-list","settings":{"width":"wide","height":"720"}}`),
		UpdatedAtMs: harness.clock.Now().UnixMilli(),
		Version:     1,
	}
	if err := harness.db.Create(&corrupt).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	session := harness.newSession(t, "session-a")

	state := mustOpen(t, session)
	if state.Settings.Width != canvas.DefaultWidth || state.Settings.Height != 720 {
		t.Fatalf("expected recovered settings, got %#v", state.Settings)
	}
	if len(state.Elements) != 0 {
		t.Fatalf("expected recovered empty element list, got %#v", state.Elements)
	}
}

func TestPreviewExpandsSeriesWithMockRecords(t *testing.T) {
	harness := newHarness(t)
	session := harness.newSession(t, "session-a")
	mustOpen(t, session)

	state := canvas.DefaultState()
	state.Elements = []canvas.Element{textElement("title")}
	state.ElementSeries = []canvas.Series{{
		ID:           "names",
		Type:         canvas.SeriesTypePlayerNames,
		BaseElement:  canvas.Element{Type: canvas.ElementTypePlayerName, X: 100, Y: 200},
		Spacing:      canvas.Spacing{Vertical: 40, Direction: canvas.DirectionVertical},
		AutoGenerate: true,
		SortBy:       canvas.SortByStandingRank,
		SortOrder:    canvas.SortAsc,
	}}
	state.PreviewConfig = canvas.PreviewConfig{Mode: canvas.PreviewModeMock, MockCount: 3}
	session.Store().Hydrate(state)

	rendered, err := session.Preview(context.Background())
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if len(rendered) != 4 {
		t.Fatalf("expected title plus three generated elements, got %d", len(rendered))
	}
	if rendered[1].DataBinding.ManualValue != "Player 1" || rendered[3].Y != 280 {
		t.Fatalf("unexpected generated elements %#v", rendered[1:])
	}

	state.PreviewConfig = canvas.PreviewConfig{Mode: canvas.PreviewModeLive, TournamentID: "t-1"}
	session.Store().Hydrate(state)
	if _, err := session.Preview(context.Background()); !errors.Is(err, errNoLiveSource) {
		t.Fatalf("expected live preview without a source to fail, got %v", err)
	}
}

type blockingDocuments struct {
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDocuments) LoadDocument(ctx context.Context, canvasID string) (apiclient.Document, error) {
	return apiclient.Document{}, apiclient.ErrDocumentNotFound
}

func (d *blockingDocuments) SaveDocument(ctx context.Context, canvasID string, data []byte) (apiclient.Document, error) {
	close(d.entered)
	<-d.release
	return apiclient.Document{CanvasID: canvasID, Version: 1, Data: data}, nil
}

func TestConcurrentSaveIsRefused(t *testing.T) {
	harness := newHarness(t)
	documentsAPI := &blockingDocuments{entered: make(chan struct{}), release: make(chan struct{})}
	session, err := New(Config{
		CanvasID:  "canvas-1",
		SessionID: "session-a",
		LockAPI:   lockclient.Bind(harness.locks, "session-a"),
		Documents: documentsAPI,
		Clock:     harness.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}
	t.Cleanup(func() { session.Lock().RefreshTask().Stop() })
	mustOpen(t, session)

	done := make(chan error, 1)
	go func() {
		_, err := session.Save(context.Background())
		done <- err
	}()
	<-documentsAPI.entered
	if _, err := session.Save(context.Background()); !errors.Is(err, ErrSaveInProgress) {
		t.Fatalf("expected save in progress, got %v", err)
	}
	close(documentsAPI.release)
	if err := <-done; err != nil {
		t.Fatalf("first save failed: %v", err)
	}
}
