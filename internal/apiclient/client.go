// Package apiclient talks to the canvas API on behalf of one editing session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HYPExMon5ter/GAL-Discord-Bot-sub008/internal/locks"
)

const (
	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 8 << 20
)

var (
	// ErrDocumentNotFound indicates the canvas has no stored document.
	ErrDocumentNotFound = errors.New("apiclient: document not found")
	// ErrLockLost indicates the server refused a save because the session no
	// longer holds the lock.
	ErrLockLost = errors.New("apiclient: lock lost")
	// ErrUnauthorized indicates a missing, expired or rejected session token.
	ErrUnauthorized = errors.New("apiclient: unauthorized")
)

// NetworkError is a transport failure or a server-side fault. Callers treat
// it as transient.
type NetworkError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("apiclient: %s: status %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("apiclient: %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is transient.
func IsNetworkError(err error) bool {
	var networkErr *NetworkError
	return errors.As(err, &networkErr)
}

// APIError is a non-transient error reply.
type APIError struct {
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apiclient: status %d: %s", e.StatusCode, e.Code)
}

// Config describes a Client.
type Config struct {
	BaseURL      string
	SessionID    string
	SessionToken string
	HTTPClient   *http.Client
}

// Client is a session-scoped API client.
type Client struct {
	baseURL   *url.URL
	sessionID string
	token     string
	http      *http.Client
}

// New validates the base URL and returns a Client.
func New(cfg Config) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base url %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: parsed, sessionID: cfg.SessionID, token: cfg.SessionToken, http: httpClient}, nil
}

// SessionID returns the session the client acts for.
func (c *Client) SessionID() string {
	return c.sessionID
}

// SessionGrant mirrors the POST /sessions reply.
type SessionGrant struct {
	SessionID string `json:"session_id"`
	Token     string `json:"session_token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Login exchanges the shared credential and stores the session token on the
// client.
func (c *Client) Login(ctx context.Context, credential string) (SessionGrant, error) {
	var grant SessionGrant
	status, reply, err := c.do(ctx, "login", http.MethodPost, "/sessions", map[string]string{"credential": credential}, &grant)
	if err != nil {
		return SessionGrant{}, err
	}
	if status != http.StatusOK {
		return SessionGrant{}, errorFromReply(status, reply)
	}
	c.sessionID = grant.SessionID
	c.token = grant.Token
	return grant, nil
}

type lockReply struct {
	Locked *bool       `json:"locked,omitempty"`
	Lock   *locks.Lock `json:"lock,omitempty"`
}

// Acquire requests the canvas lock. A held lock yields a *locks.ConflictError.
func (c *Client) Acquire(ctx context.Context, canvasID string) (locks.Lock, error) {
	return c.lockCall(ctx, "acquire", http.MethodPost, canvasID)
}

// Refresh extends the session's lock.
func (c *Client) Refresh(ctx context.Context, canvasID string) (locks.Lock, error) {
	return c.lockCall(ctx, "refresh", http.MethodPut, canvasID)
}

// Release drops the session's lock.
func (c *Client) Release(ctx context.Context, canvasID string) error {
	status, reply, err := c.do(ctx, "release", http.MethodDelete, lockPath(canvasID), nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return errorFromReply(status, reply)
	}
	return nil
}

// Status returns the live lock on the canvas, if any.
func (c *Client) Status(ctx context.Context, canvasID string) (locks.Lock, bool, error) {
	var decoded lockReply
	status, reply, err := c.do(ctx, "status", http.MethodGet, lockPath(canvasID), nil, &decoded)
	if err != nil {
		return locks.Lock{}, false, err
	}
	if status != http.StatusOK {
		return locks.Lock{}, false, errorFromReply(status, reply)
	}
	if decoded.Locked == nil || !*decoded.Locked || decoded.Lock == nil {
		return locks.Lock{}, false, nil
	}
	return *decoded.Lock, true, nil
}

// StatusAll lists every live lock.
func (c *Client) StatusAll(ctx context.Context) ([]locks.Lock, error) {
	var decoded struct {
		Locks []locks.Lock `json:"locks"`
	}
	status, reply, err := c.do(ctx, "status_all", http.MethodGet, "/locks", nil, &decoded)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errorFromReply(status, reply)
	}
	return decoded.Locks, nil
}

// CleanupExpired triggers server-side removal of stale locks.
func (c *Client) CleanupExpired(ctx context.Context) (int64, error) {
	var decoded struct {
		Removed int64 `json:"removed"`
	}
	status, reply, err := c.do(ctx, "cleanup_expired", http.MethodPost, "/locks/cleanup", nil, &decoded)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, errorFromReply(status, reply)
	}
	return decoded.Removed, nil
}

// Document is the GET/PUT document reply.
type Document struct {
	CanvasID  string          `json:"canvas_id"`
	Name      string          `json:"name"`
	Version   int64           `json:"version"`
	Archived  bool            `json:"archived"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// LoadDocument fetches the stored canvas document.
func (c *Client) LoadDocument(ctx context.Context, canvasID string) (Document, error) {
	var document Document
	status, reply, err := c.do(ctx, "load_document", http.MethodGet, documentPath(canvasID), nil, &document)
	if err != nil {
		return Document{}, err
	}
	if status != http.StatusOK {
		return Document{}, errorFromReply(status, reply)
	}
	return document, nil
}

// SaveDocument stores the encoded canvas. The server refuses with
// ErrLockLost unless the session holds the live lock.
func (c *Client) SaveDocument(ctx context.Context, canvasID string, data []byte) (Document, error) {
	if !json.Valid(data) {
		return Document{}, fmt.Errorf("apiclient: save_document: payload is not json")
	}
	var document Document
	body := map[string]json.RawMessage{"data": json.RawMessage(data)}
	status, reply, err := c.do(ctx, "save_document", http.MethodPut, documentPath(canvasID), body, &document)
	if err != nil {
		return Document{}, err
	}
	if status != http.StatusOK {
		return Document{}, errorFromReply(status, reply)
	}
	return document, nil
}

func (c *Client) lockCall(ctx context.Context, operation, method, canvasID string) (locks.Lock, error) {
	var decoded lockReply
	status, reply, err := c.do(ctx, operation, method, lockPath(canvasID), nil, &decoded)
	if err != nil {
		return locks.Lock{}, err
	}
	if status != http.StatusOK {
		return locks.Lock{}, errorFromReply(status, reply)
	}
	if decoded.Lock == nil {
		return locks.Lock{}, &NetworkError{Operation: operation, StatusCode: status, Err: errors.New("reply missing lock")}
	}
	return *decoded.Lock, nil
}

type errorReply struct {
	Error string      `json:"error"`
	Lock  *locks.Lock `json:"lock,omitempty"`
}

// do sends the request. 2xx bodies are decoded into target; other bodies are
// returned raw for errorFromReply. 5xx replies become NetworkErrors.
func (c *Client) do(ctx context.Context, operation, method, path string, body any, target any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("apiclient: %s: encode body: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("apiclient: %s: build request: %w", operation, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return 0, nil, &NetworkError{Operation: operation, Err: err}
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &NetworkError{Operation: operation, StatusCode: response.StatusCode, Err: err}
	}
	if response.StatusCode >= http.StatusInternalServerError {
		return response.StatusCode, raw, &NetworkError{Operation: operation, StatusCode: response.StatusCode, Err: errors.New(strings.TrimSpace(string(raw)))}
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 && target != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, target); err != nil {
			return response.StatusCode, raw, fmt.Errorf("apiclient: %s: decode reply: %w", operation, err)
		}
	}
	return response.StatusCode, raw, nil
}

func errorFromReply(status int, raw []byte) error {
	var reply errorReply
	_ = json.Unmarshal(raw, &reply)
	switch reply.Error {
	case "lock_conflict":
		holder := locks.Lock{Locked: true}
		if reply.Lock != nil {
			holder = *reply.Lock
		}
		return &locks.ConflictError{Holder: holder}
	case "lock_not_found":
		return locks.ErrLockNotFound
	case "lock_lost":
		return ErrLockLost
	case "document_not_found":
		return ErrDocumentNotFound
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	code := reply.Error
	if code == "" {
		code = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Code: code}
}

func lockPath(canvasID string) string {
	return "/canvases/" + url.PathEscape(canvasID) + "/lock"
}

func documentPath(canvasID string) string {
	return "/canvases/" + url.PathEscape(canvasID) + "/document"
}
