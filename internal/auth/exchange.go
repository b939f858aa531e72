// Package auth exchanges the shared staff credential for short-lived session
// tokens. A session id is opaque; it identifies one editing context, not a
// person.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCredential indicates the presented credential does not match.
	ErrInvalidCredential = errors.New("auth: invalid credential")
	errMissingCredential = errors.New("shared credential must be configured")
	errMissingIssuerRef  = errors.New("token issuer is required")
)

// SessionGrant is the result of a successful exchange.
type SessionGrant struct {
	SessionID string `json:"session_id"`
	Token     string `json:"session_token"`
	ExpiresIn int64  `json:"expires_in"`
}

// CredentialExchange trades the shared credential for a session token.
type CredentialExchange struct {
	credential []byte
	issuer     *TokenIssuer
	newID      func() (string, error)
}

// NewCredentialExchange validates its inputs. newID defaults to UUIDv7.
func NewCredentialExchange(sharedCredential string, issuer *TokenIssuer, newID func() (string, error)) (*CredentialExchange, error) {
	if sharedCredential == "" {
		return nil, errMissingCredential
	}
	if issuer == nil {
		return nil, errMissingIssuerRef
	}
	if newID == nil {
		newID = newSessionID
	}
	return &CredentialExchange{
		credential: []byte(sharedCredential),
		issuer:     issuer,
		newID:      newID,
	}, nil
}

// Exchange verifies the credential and opens a new session.
func (e *CredentialExchange) Exchange(ctx context.Context, credential string) (SessionGrant, error) {
	if subtle.ConstantTimeCompare([]byte(credential), e.credential) != 1 {
		return SessionGrant{}, ErrInvalidCredential
	}
	sessionID, err := e.newID()
	if err != nil {
		return SessionGrant{}, fmt.Errorf("auth: session id: %w", err)
	}
	token, expiresIn, err := e.issuer.IssueSessionToken(ctx, sessionID)
	if err != nil {
		return SessionGrant{}, fmt.Errorf("auth: issue token: %w", err)
	}
	return SessionGrant{SessionID: sessionID, Token: token, ExpiresIn: expiresIn}, nil
}

func newSessionID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
