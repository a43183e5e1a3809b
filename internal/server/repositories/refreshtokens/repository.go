// Package refreshtokens stores the outstanding refresh tokens.
//
// A record exists exactly while its token is live. Rotation, logout and
// expiry all delete the record; nothing is ever flagged. Every backend makes
// DeleteByToken atomic, which is what keeps rotation single-use when several
// server processes share one store.
package refreshtokens

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/timex"
)

// DefaultTimeout bounds a single store operation when WithTimeout is not given.
const DefaultTimeout = 3 * time.Second

// Repository is the refresh token store.
type Repository interface {
	// Put inserts rt. It fails with common.ErrDuplicateToken if the token
	// string is already stored and never overwrites.
	Put(ctx context.Context, rt *models.RefreshToken) error

	// Get returns the live record for token, or common.ErrorNotFound when it
	// is absent or already expired.
	Get(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteByToken removes the record and reports whether it was there.
	DeleteByToken(ctx context.Context, token string) (bool, error)

	// DeleteAllForUser removes every record owned by userID.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// SweepExpired removes every record with ExpiresAt <= now.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Option configures a repository.
type Option func(*options)

type options struct {
	clock   timex.Clock
	timeout time.Duration
}

// WithClock sets the clock Get uses to hide expired records.
func WithClock(c timex.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithTimeout bounds each store operation.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: timex.SystemClock{}, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validate(rt *models.RefreshToken) error {
	if rt == nil || rt.Token == "" || rt.UserID == "" {
		return fmt.Errorf("%w: refresh token and user id are required", common.ErrorValidation)
	}
	if !rt.ExpiresAt.After(rt.IssuedAt) {
		return fmt.Errorf("%w: refresh token expires at %s, not after issue time %s",
			common.ErrorValidation, rt.ExpiresAt, rt.IssuedAt)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
}
