package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/google/uuid"
)

// SQLRepository keeps refresh tokens in the refresh_tokens table. The queries
// run unchanged on PostgreSQL (pgx) and SQLite. Timestamps are Unix
// milliseconds.
type SQLRepository struct {
	db dbx.DBTX
	options
}

// NewSQLRepository constructs a repository bound to the given DBTX.
func NewSQLRepository(db dbx.DBTX, opts ...Option) *SQLRepository {
	return &SQLRepository{db: db, options: buildOptions(opts)}
}

func (r *SQLRepository) Put(ctx context.Context, rt *models.RefreshToken) error {
	if err := validate(rt); err != nil {
		return err
	}
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO refresh_tokens (id, token, user_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		rt.ID, rt.Token, rt.UserID, rt.IssuedAt.UnixMilli(), rt.ExpiresAt.UnixMilli())
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrDuplicateToken
		}
		return unavailable(err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, token string) (*models.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, token, user_id, issued_at, expires_at
		FROM refresh_tokens
		WHERE token = $1 AND expires_at > $2
	`
	var (
		rt                  models.RefreshToken
		issuedAt, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx, query, token, r.clock.Now().UnixMilli()).
		Scan(&rt.ID, &rt.Token, &rt.UserID, &issuedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, unavailable(err)
	}

	rt.IssuedAt = time.UnixMilli(issuedAt).UTC()
	rt.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &rt, nil
}

func (r *SQLRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	n, err := r.exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	return n > 0, err
}

func (r *SQLRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
}

func (r *SQLRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now.UnixMilli())
}

// exec runs a single-statement delete and returns the number of rows removed.
func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(fmt.Errorf("rows affected: %w", err))
	}
	return n, nil
}
