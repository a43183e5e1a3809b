package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/gophauth/internal/timex"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserService registers users and checks their passwords. It is the
// CredentialVerifier the session manager runs against in production.
type UserService struct {
	repo  users.Repository
	clock timex.Clock
	cost  int

	dummyOnce sync.Once
	dummyHash []byte
}

// UserOption configures a UserService.
type UserOption func(*UserService)

// WithPasswordCost overrides bcrypt.DefaultCost.
func WithPasswordCost(cost int) UserOption {
	return func(s *UserService) { s.cost = cost }
}

// WithUserClock sets the clock used for CreatedAt.
func WithUserClock(c timex.Clock) UserOption {
	return func(s *UserService) { s.clock = c }
}

func NewUserService(repo users.Repository, opts ...UserOption) *UserService {
	s := &UserService{repo: repo, clock: timex.SystemClock{}, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user. A taken email yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", common.ErrorValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		CreatedAt:    s.clock.Now().UTC(),
	}
	u, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// VerifyCredential returns the identity behind email when password matches.
// Unknown emails still pay for a bcrypt comparison so the two failures take
// about the same time.
func (s *UserService) VerifyCredential(ctx context.Context, email, password string) (*models.Identity, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, common.ErrorUnauthorized
	}

	id := user.Identity()
	return &id, nil
}

func (s *UserService) dummy() []byte {
	s.dummyOnce.Do(func() {
		secret := common.GenerateRandByteArray(32)
		defer common.WipeByteArray(secret)
		// random bytes never exceed bcrypt's 72-byte limit here
		s.dummyHash, _ = bcrypt.GenerateFromPassword(secret, s.cost)
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
