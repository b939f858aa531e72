package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/auth"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/documents"
	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	testSigningSecret    = "test-signing-secret"
	testSharedCredential = "staff-pass"
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

type testStack struct {
	handler   http.Handler
	clock     *fakeClock
	locks     *locks.Service
	documents *documents.Service
	events    *locks.EventDispatcher
	issuer    *auth.TokenIssuer
}

func newTestStack(t *testing.T) testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	events := locks.NewEventDispatcher()
	lockService, err := locks.NewService(locks.ServiceConfig{Store: locks.NewGormStore(db), Clock: clock.Now, Events: events})
	if err != nil {
		t.Fatalf("failed to build lock service: %v", err)
	}
	documentService, err := documents.NewService(documents.ServiceConfig{Database: db, Locks: lockService, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build document service: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
	})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	exchange, err := auth.NewCredentialExchange(testSharedCredential, issuer, nil)
	if err != nil {
		t.Fatalf("failed to build exchange: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:  exchange,
		Validator: validator,
		Locks:     lockService,
		Documents: documentService,
		Events:    events,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testStack{
		handler:   handler,
		clock:     clock,
		locks:     lockService,
		documents: documentService,
		events:    events,
		issuer:    issuer,
	}
}

func (s testStack) mustToken(t *testing.T, sessionID string) string {
	t.Helper()
	token, _, err := s.issuer.IssueSessionToken(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s testStack) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("unexpected status: got %d, want %d (body %s)", recorder.Code, status, recorder.Body.String())
	}
}

type errorPayload struct {
	Error string      `json:"error"`
	Lock  *locks.Lock `json:"lock"`
}
