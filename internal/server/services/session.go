// Package services contains server-side business logic: the session manager
// that owns the token lifecycle and the reference user service that checks
// credentials for it.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/refreshtokens"
)

// maxMintAttempts caps how often a colliding refresh token is re-minted.
const maxMintAttempts = 3

// TokenPair bundles a short-lived access token and a long-lived refresh token.
// ExpiresIn is the lifetime of the access token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// TokenIssuer mints and verifies signed tokens; auth.Issuer implements it.
type TokenIssuer interface {
	IssueAccessToken(id models.Identity) (string, *models.Claims, error)
	IssueRefreshToken(id models.Identity) (string, *models.Claims, error)
	VerifyRefreshToken(token string) (*models.Claims, error)
}

// CredentialVerifier checks an email/password pair. Any mismatch, including an
// unknown email, is reported as common.ErrorUnauthorized.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, email, password string) (*models.Identity, error)
}

// SessionManager implements login, refresh with rotation, logout and
// logout-all. It keeps no state of its own: every decision about a refresh
// token is made by the store, so several processes may share one store.
type SessionManager struct {
	issuer      TokenIssuer
	store       refreshtokens.Repository
	credentials CredentialVerifier
	logger      logging.Logger
}

func NewSessionManager(issuer TokenIssuer, store refreshtokens.Repository, credentials CredentialVerifier, logger logging.Logger) *SessionManager {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &SessionManager{
		issuer:      issuer,
		store:       store,
		credentials: credentials,
		logger:      logger.With("module", "sessions"),
	}
}

// Login verifies the credentials and opens a new session.
// A wrong email or password yields common.ErrorUnauthorized. Store failures
// are returned unchanged so callers can tell an outage from a bad credential.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	id, err := m.credentials.VerifyCredential(ctx, email, password)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			m.logger.Info(ctx, "login rejected")
			return nil, common.ErrorUnauthorized
		}
		m.logger.Error(ctx, "credential check failed", "error", err)
		return nil, err
	}

	pair, err := m.mint(ctx, *id)
	if err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "login", "user_id", id.UserID)
	return pair, nil
}

// Refresh rotates refreshToken: the old record is deleted before the new pair
// is minted, and only the caller whose delete removed the record gets a pair.
// A token that verifies but is no longer stored yields common.ErrSessionRevoked.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := m.issuer.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	deleted, err := m.store.DeleteByToken(ctx, refreshToken)
	if err != nil {
		m.logger.Error(ctx, "refresh token delete failed", "user_id", claims.UserID, "error", err)
		return nil, err
	}
	if !deleted {
		m.logger.Warn(ctx, "refresh token reused or revoked", "user_id", claims.UserID)
		return nil, common.ErrSessionRevoked
	}

	pair, err := m.mint(ctx, claims.Identity())
	if err != nil {
		return nil, err
	}

	m.logger.Debug(ctx, "refresh token rotated", "user_id", claims.UserID)
	return pair, nil
}

// Logout revokes refreshToken. It does not say whether the token was live.
func (m *SessionManager) Logout(ctx context.Context, refreshToken string) error {
	if _, err := m.store.DeleteByToken(ctx, refreshToken); err != nil {
		m.logger.Error(ctx, "logout failed", "error", err)
		return err
	}
	return nil
}

// LogoutAll revokes every refresh token of userID. The caller must already
// have authenticated userID.
func (m *SessionManager) LogoutAll(ctx context.Context, userID string) error {
	n, err := m.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		m.logger.Error(ctx, "logout-all failed", "user_id", userID, "error", err)
		return err
	}
	m.logger.Info(ctx, "logout-all", "user_id", userID, "revoked", n)
	return nil
}

// mint signs a new pair for id and stores the refresh record, re-minting the
// refresh token if the store reports a collision.
func (m *SessionManager) mint(ctx context.Context, id models.Identity) (*TokenPair, error) {
	access, ac, err := m.issuer.IssueAccessToken(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	for attempt := 1; attempt <= maxMintAttempts; attempt++ {
		refresh, rc, err := m.issuer.IssueRefreshToken(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}

		err = m.store.Put(ctx, &models.RefreshToken{
			Token:     refresh,
			UserID:    id.UserID,
			IssuedAt:  rc.IssuedAt,
			ExpiresAt: rc.ExpiresAt,
		})
		if err == nil {
			return &TokenPair{
				AccessToken:  access,
				RefreshToken: refresh,
				ExpiresIn:    ac.ExpiresAt.Sub(ac.IssuedAt),
			}, nil
		}
		if !errors.Is(err, common.ErrDuplicateToken) {
			m.logger.Error(ctx, "refresh token store failed", "user_id", id.UserID, "error", err)
			return nil, err
		}
		m.logger.Warn(ctx, "refresh token collision", "user_id", id.UserID, "attempt", attempt)
	}

	return nil, fmt.Errorf("%w: refresh token collided %d times", common.ErrorInternal, maxMintAttempts)
}
