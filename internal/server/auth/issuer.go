// Package auth mints and verifies the signed access and refresh tokens.
//
// Tokens are HS256 JWTs. Access and refresh tokens use separate keys and
// separate audiences ("<issuer>/access" and "<issuer>/refresh"), so a token
// minted for one purpose never verifies as the other.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/timex"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessAudienceSuffix  = "/access"
	refreshAudienceSuffix = "/refresh"
)

// Claims is the JWT body: the registered claims plus the user identity.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Config carries the signing material and lifetimes for an Issuer.
type Config struct {
	Issuer     string
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer is stateless apart from its configuration and clock; it is safe for
// concurrent use.
type Issuer struct {
	access  signer
	refresh signer
	clock   timex.Clock
}

type signer struct {
	issuer   string
	audience string
	key      []byte
	ttl      time.Duration
	parser   *jwt.Parser
}

// NewIssuer validates cfg and returns an Issuer. A nil clock means the wall clock.
func NewIssuer(cfg Config, clock timex.Clock) (*Issuer, error) {
	if clock == nil {
		clock = timex.SystemClock{}
	}

	var errs []error
	if cfg.Issuer == "" {
		errs = append(errs, fmt.Errorf("%w: issuer is empty", common.ErrInvalidConfig))
	}
	if len(cfg.AccessKey) == 0 || len(cfg.RefreshKey) == 0 {
		errs = append(errs, fmt.Errorf("%w: signing keys must not be empty", common.ErrInvalidConfig))
	} else if string(cfg.AccessKey) == string(cfg.RefreshKey) {
		errs = append(errs, fmt.Errorf("%w: access and refresh signing keys must differ", common.ErrInvalidConfig))
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		errs = append(errs, fmt.Errorf("%w: token TTLs must be positive", common.ErrInvalidConfig))
	}
	if cfg.AccessTTL > cfg.RefreshTTL {
		errs = append(errs, fmt.Errorf("%w: access token TTL %s exceeds refresh token TTL %s",
			common.ErrInvalidConfig, cfg.AccessTTL, cfg.RefreshTTL))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Issuer{
		access:  newSigner(cfg.Issuer, cfg.Issuer+accessAudienceSuffix, cfg.AccessKey, cfg.AccessTTL, clock),
		refresh: newSigner(cfg.Issuer, cfg.Issuer+refreshAudienceSuffix, cfg.RefreshKey, cfg.RefreshTTL, clock),
		clock:   clock,
	}, nil
}

func newSigner(issuer, audience string, key []byte, ttl time.Duration, clock timex.Clock) signer {
	return signer{
		issuer:   issuer,
		audience: audience,
		key:      key,
		ttl:      ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clock.Now),
		),
	}
}

// AccessTTL is the lifetime of freshly minted access tokens.
func (i *Issuer) AccessTTL() time.Duration { return i.access.ttl }

// RefreshTTL is the lifetime of freshly minted refresh tokens.
func (i *Issuer) RefreshTTL() time.Duration { return i.refresh.ttl }

// IssueAccessToken signs a short-lived access token for id.
func (i *Issuer) IssueAccessToken(id models.Identity) (string, *models.Claims, error) {
	return i.access.issue(id, i.clock.Now())
}

// IssueRefreshToken signs a long-lived refresh token for id. Each call yields
// a distinct string because every token carries a random jti.
func (i *Issuer) IssueRefreshToken(id models.Identity) (string, *models.Claims, error) {
	return i.refresh.issue(id, i.clock.Now())
}

// VerifyAccessToken returns the claims of a valid access token.
// It fails with common.ErrTokenExpired once the clock reaches the expiry and
// with common.ErrInvalidToken for anything else that is wrong.
func (i *Issuer) VerifyAccessToken(token string) (*models.Claims, error) {
	return i.access.verify(token)
}

// VerifyRefreshToken is VerifyAccessToken for refresh tokens.
func (i *Issuer) VerifyRefreshToken(token string) (*models.Claims, error) {
	return i.refresh.verify(token)
}

func (s signer) issue(id models.Identity, now time.Time) (string, *models.Claims, error) {
	if id.UserID == "" {
		return "", nil, fmt.Errorf("%w: empty user id", common.ErrorValidation)
	}

	// JWT dates have second precision; truncate so the signed token and any
	// record built from the returned claims agree exactly.
	issuedAt := now.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   id.UserID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: id.UserID,
		Email:  id.Email,
		Name:   id.Name,
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	return signed, &models.Claims{
		UserID:    id.UserID,
		Email:     id.Email,
		Name:      id.Name,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (s signer) verify(tokenString string) (*models.Claims, error) {
	claims := &Claims{}

	token, err := s.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid || claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, common.ErrInvalidToken
	}
	if claims.IssuedAt == nil {
		return nil, common.ErrInvalidToken
	}

	return &models.Claims{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Name:      claims.Name,
		IssuedAt:  claims.IssuedAt.UTC(),
		ExpiresAt: claims.ExpiresAt.UTC(),
	}, nil
}

// classify collapses jwt errors into the two kinds callers branch on. A token
// is only reported as expired when expiry is the sole problem with it.
func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) &&
		!errors.Is(err, jwt.ErrTokenInvalidAudience) &&
		!errors.Is(err, jwt.ErrTokenInvalidIssuer) &&
		!errors.Is(err, jwt.ErrTokenRequiredClaimMissing) &&
		!errors.Is(err, jwt.ErrTokenUsedBeforeIssued) {
		return common.ErrTokenExpired
	}
	return common.ErrInvalidToken
}
