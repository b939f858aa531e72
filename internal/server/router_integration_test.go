package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/apiclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/canvas"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/lockclient"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/session"
)

func newRemoteSession(t *testing.T, server *httptest.Server, stack testStack) *session.Session {
	t.Helper()
	client, err := apiclient.New(apiclient.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to build api client: %v", err)
	}
	if _, err := client.Login(context.Background(), testSharedCredential); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	editing, err := session.New(session.Config{
		CanvasID:  "overlay-finals",
		SessionID: client.SessionID(),
		LockAPI:   client,
		Documents: client,
		Clock:     stack.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}
	t.Cleanup(func() { editing.Lock().RefreshTask().Stop() })
	return editing
}

func TestRemoteSessionsShareCanvasThroughLock(t *testing.T) {
	stack := newTestStack(t)
	server := httptest.NewServer(stack.handler)
	t.Cleanup(server.Close)
	ctx := context.Background()

	first := newRemoteSession(t, server, stack)
	if _, err := first.Open(ctx); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if first.Lock().Current().State != lockclient.StateHeld {
		t.Fatalf("expected first session to hold the lock")
	}
	if _, err := first.Store().AddElement(canvas.Element{ID: "title", Type: canvas.ElementTypeText, Content: "Finals"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := first.Save(ctx); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	second := newRemoteSession(t, server, stack)
	state, err := second.Open(ctx)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	snapshot := second.Lock().Current()
	if snapshot.State != lockclient.StateViewing || snapshot.Holder == nil || snapshot.Holder.SessionID != first.Lock().SessionID() {
		t.Fatalf("expected second session to view, got %#v", snapshot)
	}
	if len(state.Elements) != 1 || state.Elements[0].Content != "Finals" {
		t.Fatalf("expected saved canvas, got %#v", state.Elements)
	}

	stack.clock.Advance(locks.DefaultTTL)
	if taken, err := second.Lock().Start(ctx); err != nil || taken.State != lockclient.StateHeld {
		t.Fatalf("expected takeover of the expired lock, got %#v err=%v", taken, err)
	}
	if _, err := first.Store().UpdateElement("title", func(element *canvas.Element) { element.Content = "Semis" }); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := first.Save(ctx); !errors.Is(err, session.ErrLockLost) {
		t.Fatalf("expected lock lost, got %v", err)
	}
	if first.Lock().Current().State != lockclient.StateConflict {
		t.Fatalf("expected first session in conflict, got %s", first.Lock().Current().State)
	}

	first.Close(ctx)
	second.Close(ctx)
	if _, live, err := stack.locks.Status(ctx, "overlay-finals"); err != nil || live {
		t.Fatalf("expected lock released after close, live=%v err=%v", live, err)
	}
	document, err := stack.documents.Load(ctx, "overlay-finals")
	if err != nil || document.Version != 1 {
		t.Fatalf("expected the lost save not to persist, got version %d err=%v", document.Version, err)
	}
}
