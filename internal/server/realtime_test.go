package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/auth"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	"github.com/gorilla/websocket"
)

func dialLockEvents(t *testing.T, server *httptest.Server, canvasID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/canvases/" + canvasID + "/lock/events?" + auth.TokenQueryParameter + "=" + token
	conn, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if response != nil {
			status = response.StatusCode
		}
		t.Fatalf("failed to dial lock events (status %d): %v", status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readLockFrame(t *testing.T, conn *websocket.Conn) lockEventFrame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set deadline: %v", err)
	}
	var frame lockEventFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return frame
}

func TestLockEventStreamSendsSnapshotThenEvents(t *testing.T) {
	stack := newTestStack(t)
	server := httptest.NewServer(stack.handler)
	t.Cleanup(server.Close)
	viewerToken := stack.mustToken(t, "session-viewer")
	editorToken := stack.mustToken(t, "session-editor")

	conn := dialLockEvents(t, server, "canvas-1", viewerToken)
	snapshot := readLockFrame(t, conn)
	if snapshot.Type != realtimeFrameSnapshot || snapshot.Locked || snapshot.Lock != nil {
		t.Fatalf("expected unlocked snapshot, got %#v", snapshot)
	}

	expectStatus(t, stack.do(t, http.MethodPost, "/canvases/canvas-2/lock", editorToken, nil), http.StatusOK)
	expectStatus(t, stack.do(t, http.MethodPost, "/canvases/canvas-1/lock", editorToken, nil), http.StatusOK)
	acquired := readLockFrame(t, conn)
	if acquired.Type != realtimeFrameEvent || acquired.Event == nil || acquired.Event.Type != locks.EventAcquired {
		t.Fatalf("expected acquired event, got %#v", acquired)
	}
	if acquired.Event.CanvasID != "canvas-1" || acquired.Event.SessionID != "session-editor" || !acquired.Locked {
		t.Fatalf("unexpected event payload %#v", acquired.Event)
	}

	expectStatus(t, stack.do(t, http.MethodDelete, "/canvases/canvas-1/lock", editorToken, nil), http.StatusNoContent)
	released := readLockFrame(t, conn)
	if released.Event == nil || released.Event.Type != locks.EventReleased || released.Locked {
		t.Fatalf("expected released event, got %#v", released)
	}
}

func TestLockEventStreamRequiresToken(t *testing.T) {
	stack := newTestStack(t)
	server := httptest.NewServer(stack.handler)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/canvases/canvas-1/lock/events"
	_, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if response == nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized handshake, got %v", response)
	}
}
