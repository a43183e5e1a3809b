package refreshtokens

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps refresh tokens in process memory. It is only
// correct for a single server process.
type MemoryRepository struct {
	options

	mu      sync.Mutex
	byToken map[string]models.RefreshToken
	byUser  map[string]map[string]struct{}
}

func NewMemoryRepository(opts ...Option) *MemoryRepository {
	return &MemoryRepository{
		options: buildOptions(opts),
		byToken: make(map[string]models.RefreshToken),
		byUser:  make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRepository) Put(ctx context.Context, rt *models.RefreshToken) error {
	if err := validate(rt); err != nil {
		return err
	}
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byToken[rt.Token]; ok {
		return common.ErrDuplicateToken
	}
	r.byToken[rt.Token] = *rt

	tokens, ok := r.byUser[rt.UserID]
	if !ok {
		tokens = make(map[string]struct{})
		r.byUser[rt.UserID] = tokens
	}
	tokens[rt.Token] = struct{}{}
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, token string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.byToken[token]
	if !ok || rt.Expired(r.clock.Now()) {
		return nil, common.ErrorNotFound
	}
	return &rt, nil
}

func (r *MemoryRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteLocked(token), nil
}

func (r *MemoryRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token := range r.byUser[userID] {
		delete(r.byToken, token)
		n++
	}
	delete(r.byUser, userID)
	return n, nil
}

func (r *MemoryRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token, rt := range r.byToken {
		if rt.Expired(now) {
			r.deleteLocked(token)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) deleteLocked(token string) bool {
	rt, ok := r.byToken[token]
	if !ok {
		return false
	}
	delete(r.byToken, token)

	if tokens, ok := r.byUser[rt.UserID]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(r.byUser, rt.UserID)
		}
	}
	return true
}
