package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/locks", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		validator: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		logger:    zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/locks", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		validator: stubSessionValidator{err: errors.New("signature mismatch")},
		logger:    zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestStoresSessionID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/locks", http.NoBody)

	handler := &httpHandler{
		validator: stubSessionValidator{claims: auth.SessionClaims{SessionID: "session-a"}},
		logger:    zap.NewNop(),
	}
	handler.authorizeRequest(ctx)

	if ctx.IsAborted() || ctx.GetString(sessionIDContextKey) != "session-a" {
		t.Fatalf("expected session id to be stored on the context")
	}
}

func TestCreateSessionExchangesCredential(t *testing.T) {
	stack := newTestStack(t)

	rejected := stack.do(t, http.MethodPost, "/sessions", "", map[string]string{"credential": "guess"})
	expectStatus(t, rejected, http.StatusUnauthorized)
	if decodeBody[errorPayload](t, rejected).Error != "invalid_credential" {
		t.Fatalf("unexpected rejection body %s", rejected.Body.String())
	}

	recorder := stack.do(t, http.MethodPost, "/sessions", "", map[string]string{"credential": testSharedCredential})
	expectStatus(t, recorder, http.StatusOK)
	grant := decodeBody[auth.SessionGrant](t, recorder)
	if grant.SessionID == "" || grant.Token == "" || grant.ExpiresIn <= 0 {
		t.Fatalf("unexpected grant %#v", grant)
	}

	status := stack.do(t, http.MethodGet, "/locks", grant.Token, nil)
	expectStatus(t, status, http.StatusOK)
	expectStatus(t, stack.do(t, http.MethodGet, "/locks", "", nil), http.StatusUnauthorized)
}

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}
