package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// DefaultTimeout bounds a user query when no WithTimeout option is given.
const DefaultTimeout = 3 * time.Second

// Option configures a SQLRepository.
type Option func(*SQLRepository)

// WithTimeout bounds each query.
func WithTimeout(d time.Duration) Option {
	return func(r *SQLRepository) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// SQLRepository implements Repository over dbx.DBTX for PostgreSQL and SQLite.
// Driver failures and timeouts are reported as common.ErrStoreUnavailable.
type SQLRepository struct {
	db      dbx.DBTX
	timeout time.Duration
}

func NewSQLRepository(db dbx.DBTX, opts ...Option) *SQLRepository {
	r := &SQLRepository{db: db, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func unavailable(err error) error {
	return fmt.Errorf("%w: db error: %v", common.ErrStoreUnavailable, err)
}

func (r *SQLRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (id, email, name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt.UnixMilli())
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, unavailable(err)
	}

	return user, nil
}

func (r *SQLRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query :=
		`SELECT id, email, name, password_hash, created_at FROM users
		 WHERE email = $1
		 `

	var (
		user      models.User
		createdAt int64
	)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, unavailable(err)
	}

	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &user, nil
}
