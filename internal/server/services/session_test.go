package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gophauth/internal/timex"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

var alice = models.Identity{UserID: "user-a", Email: "a@x.com", Name: "Alice"}

// fakeCredentials accepts exactly one email/password pair.
type fakeCredentials struct {
	email, password string
	id              models.Identity
	err             error
}

func (f *fakeCredentials) VerifyCredential(_ context.Context, email, password string) (*models.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if email != f.email || password != f.password {
		return nil, common.ErrorUnauthorized
	}
	id := f.id
	return &id, nil
}

type fixture struct {
	clock  *timex.ManualClock
	issuer *auth.Issuer
	store  refreshtokens.Repository
	mgr    *SessionManager
}

func newFixture(t *testing.T, store func(timex.Clock) refreshtokens.Repository) *fixture {
	t.Helper()
	clock := timex.NewManualClock(t0)
	issuer, err := auth.NewIssuer(auth.Config{
		Issuer:     "gophauth",
		AccessKey:  []byte("access"),
		RefreshKey: []byte("refresh"),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, clock)
	require.NoError(t, err)

	if store == nil {
		store = func(c timex.Clock) refreshtokens.Repository {
			return refreshtokens.NewMemoryRepository(refreshtokens.WithClock(c))
		}
	}
	s := store(clock)
	creds := &fakeCredentials{email: "a@x.com", password: "pw", id: alice}

	return &fixture{
		clock:  clock,
		issuer: issuer,
		store:  s,
		mgr:    NewSessionManager(issuer, s, creds, logging.Nop{}),
	}
}

func (f *fixture) login(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := f.mgr.Login(context.Background(), "a@x.com", "pw")
	require.NoError(t, err)
	return pair
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair := f.login(t)
	assert.Equal(t, 15*time.Minute, pair.ExpiresIn)

	claims, err := f.issuer.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice, claims.Identity())

	rec, err := f.store.Get(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, rec.UserID)
	assert.Equal(t, t0, rec.IssuedAt)
	assert.Equal(t, t0.Add(7*24*time.Hour), rec.ExpiresAt)
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, tc := range []struct{ email, password string }{
		{"a@x.com", "wrong"},
		{"nobody@x.com", "pw"},
	} {
		_, err := f.mgr.Login(ctx, tc.email, tc.password)
		require.ErrorIs(t, err, common.ErrorUnauthorized)
		assert.Equal(t, common.ErrorUnauthorized.Error(), err.Error(), "must not say which part was wrong")
	}

	n, err := f.store.SweepExpired(ctx, t0.Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "nothing may be stored for a failed login")
}

func TestLogin_CredentialStoreDown(t *testing.T) {
	f := newFixture(t, nil)
	f.mgr.credentials = &fakeCredentials{err: errors.New("users table locked")}

	_, err := f.mgr.Login(context.Background(), "a@x.com", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorUnauthorized)
}

// Scenario A: rotation is single-use.
func TestRefresh_SingleUse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.login(t)
	f.clock.Advance(time.Minute)

	second, err := f.mgr.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	claims, err := f.issuer.VerifyAccessToken(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice, claims.Identity())
	assert.Equal(t, t0.Add(time.Minute), claims.IssuedAt)

	_, err = f.mgr.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, common.ErrSessionRevoked)

	// the replacement is unaffected by the replay
	_, err = f.mgr.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

// Scenario B: an expired refresh token is reported as expired whatever the store holds.
func TestRefresh_Expired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair := f.login(t)
	f.clock.Advance(8 * 24 * time.Hour)

	_, err := f.mgr.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrTokenExpired)

	// swept or not makes no difference
	_, err = f.store.SweepExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	_, err = f.mgr.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestRefresh_InvalidToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair := f.login(t)

	_, err := f.mgr.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = f.mgr.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, common.ErrInvalidToken, "access tokens cannot be used to refresh")

	_, err = f.store.Get(ctx, pair.RefreshToken)
	require.NoError(t, err, "failed refresh attempts must not consume the real token")
}

// Scenario C: concurrent refreshes of one token have exactly one winner,
// including across managers that only share the store.
func TestRefresh_Race(t *testing.T) {
	stores := map[string]func(timex.Clock) refreshtokens.Repository{
		"memory": nil,
		"redis": func(c timex.Clock) refreshtokens.Repository {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return refreshtokens.NewRedisRepository(rdb, "", refreshtokens.WithClock(c))
		},
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)
			ctx := context.Background()
			pair := f.login(t)

			other := NewSessionManager(f.issuer, f.store, nil, logging.Nop{})
			managers := []*SessionManager{f.mgr, other}

			const callers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				wins    int
				revoked int
				start   = make(chan struct{})
			)
			for i := range callers {
				wg.Add(1)
				go func(m *SessionManager) {
					defer wg.Done()
					<-start
					_, err := m.Refresh(ctx, pair.RefreshToken)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, common.ErrSessionRevoked):
						revoked++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(managers[i%len(managers)])
			}
			close(start)
			wg.Wait()

			assert.Equal(t, 1, wins)
			assert.Equal(t, callers-1, revoked)
		})
	}
}

func TestLogoutThenRefresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair := f.login(t)
	require.NoError(t, f.mgr.Logout(ctx, pair.RefreshToken))

	_, err := f.mgr.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrSessionRevoked)

	// idempotent
	require.NoError(t, f.mgr.Logout(ctx, pair.RefreshToken))
}

// Scenario D: logging out an unknown token is still an acknowledgement.
func TestLogout_UnknownToken(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.mgr.Logout(context.Background(), "never-issued"))
	require.NoError(t, f.mgr.Logout(context.Background(), ""))
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	devices := []*TokenPair{f.login(t), f.login(t), f.login(t)}

	bob := models.Identity{UserID: "user-b", Email: "b@x.com"}
	bobMgr := NewSessionManager(f.issuer, f.store, &fakeCredentials{email: "b@x.com", password: "pw", id: bob}, nil)
	bobPair, err := bobMgr.Login(ctx, "b@x.com", "pw")
	require.NoError(t, err)

	require.NoError(t, f.mgr.LogoutAll(ctx, alice.UserID))

	for _, p := range devices {
		_, err := f.mgr.Refresh(ctx, p.RefreshToken)
		require.ErrorIs(t, err, common.ErrSessionRevoked)
	}

	_, err = bobMgr.Refresh(ctx, bobPair.RefreshToken)
	require.NoError(t, err, "other users keep their sessions")
}

// storeStub wraps a real repository and lets a test inject failures.
type storeStub struct {
	refreshtokens.Repository
	putErrs   []error
	putCalls  int
	deleteErr error
}

func (s *storeStub) Put(ctx context.Context, rt *models.RefreshToken) error {
	s.putCalls++
	if len(s.putErrs) > 0 {
		err := s.putErrs[0]
		s.putErrs = s.putErrs[1:]
		if err != nil {
			return err
		}
	}
	return s.Repository.Put(ctx, rt)
}

func (s *storeStub) DeleteByToken(ctx context.Context, token string) (bool, error) {
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	return s.Repository.DeleteByToken(ctx, token)
}

func (s *storeStub) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.Repository.DeleteAllForUser(ctx, userID)
}

func withStub(stub *storeStub) func(timex.Clock) refreshtokens.Repository {
	return func(c timex.Clock) refreshtokens.Repository {
		stub.Repository = refreshtokens.NewMemoryRepository(refreshtokens.WithClock(c))
		return stub
	}
}

func TestMint_RetriesDuplicateToken(t *testing.T) {
	stub := &storeStub{putErrs: []error{common.ErrDuplicateToken, common.ErrDuplicateToken}}
	f := newFixture(t, withStub(stub))

	pair := f.login(t)
	assert.Equal(t, 3, stub.putCalls)

	_, err := f.store.Get(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
}

func TestMint_GivesUpAfterRepeatedCollisions(t *testing.T) {
	stub := &storeStub{putErrs: []error{common.ErrDuplicateToken, common.ErrDuplicateToken, common.ErrDuplicateToken}}
	f := newFixture(t, withStub(stub))

	_, err := f.mgr.Login(context.Background(), "a@x.com", "pw")
	require.ErrorIs(t, err, common.ErrorInternal)
	assert.Equal(t, maxMintAttempts, stub.putCalls)
}

func TestStoreUnavailablePropagates(t *testing.T) {
	down := errors.Join(common.ErrStoreUnavailable, errors.New("connection refused"))
	ctx := context.Background()

	t.Run("login", func(t *testing.T) {
		f := newFixture(t, withStub(&storeStub{putErrs: []error{down}}))
		_, err := f.mgr.Login(ctx, "a@x.com", "pw")
		require.ErrorIs(t, err, common.ErrStoreUnavailable)
	})

	t.Run("refresh logout and logout-all", func(t *testing.T) {
		stub := &storeStub{}
		f := newFixture(t, withStub(stub))
		pair := f.login(t)

		stub.deleteErr = down
		_, err := f.mgr.Refresh(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, common.ErrStoreUnavailable)
		require.ErrorIs(t, f.mgr.Logout(ctx, pair.RefreshToken), common.ErrStoreUnavailable)
		require.ErrorIs(t, f.mgr.LogoutAll(ctx, alice.UserID), common.ErrStoreUnavailable)

		// the store recovering leaves the session usable: nothing was consumed
		stub.deleteErr = nil
		_, err = f.mgr.Refresh(ctx, pair.RefreshToken)
		require.NoError(t, err)
	})
}

func TestRefresh_SweptTokenIsRevoked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair := f.login(t)

	// a sweep that ran with a later clock removes the record while the JWT
	// itself still verifies
	_, err := f.store.SweepExpired(ctx, t0.Add(30*24*time.Hour))
	require.NoError(t, err)

	_, err = f.mgr.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, common.ErrSessionRevoked)
}
