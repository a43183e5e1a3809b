// Package server wires the gophauth server together: configuration, logging,
// the user database, the refresh token store, the session manager, the expiry
// reaper and the gRPC endpoint. It also handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/reaper"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"github.com/dmitrijs2005/gophauth/internal/timex"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/gophauth/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	closers  []io.Closer
	grpc     *gs.GRPCServer
	reaper   *reaper.Reaper
	sessions *services.SessionManager
}

// NewApp builds every component from c. Resources opened before a failure
// are released before returning.
func NewApp(ctx context.Context, c *config.Config) (_ *App, err error) {

	logger, err := logging.New(os.Stdout, c.LogFormat, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	a := &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	clock := timex.SystemClock{}

	issuer, err := auth.NewIssuer(auth.Config{
		Issuer:     c.Issuer,
		AccessKey:  []byte(c.AccessSigningKey),
		RefreshKey: []byte(c.RefreshSigningKey),
		AccessTTL:  c.AccessTokenValidityDuration,
		RefreshTTL: c.RefreshTokenValidityDuration,
	}, clock)
	if err != nil {
		return nil, err
	}

	db, err := dbx.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	rm, err := repomanager.NewSQLRepositoryManager(c.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	store, err := a.tokenStore(ctx, rm, clock)
	if err != nil {
		return nil, err
	}

	userSvc := services.NewUserService(rm.Users(db, users.WithTimeout(c.StoreTimeout)))
	a.sessions = services.NewSessionManager(issuer, store, userSvc, logger)
	a.reaper = reaper.New(store, c.ReaperInterval, c.StoreTimeout, clock, logger)
	a.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, logger, a.sessions, userSvc, issuer)

	return a, nil
}

// tokenStore picks the refresh token backend named in the config.
func (app *App) tokenStore(ctx context.Context, rm repomanager.RepositoryManager, clock timex.Clock) (refreshtokens.Repository, error) {
	opts := []refreshtokens.Option{
		refreshtokens.WithClock(clock),
		refreshtokens.WithTimeout(app.config.StoreTimeout),
	}

	switch app.config.TokenStore {
	case config.StoreSQL:
		return rm.RefreshTokens(app.db, opts...), nil

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     app.config.RedisAddr,
			Password: app.config.RedisPassword,
			DB:       app.config.RedisDB,
		})
		app.closers = append(app.closers, rdb)

		pingCtx, cancel := context.WithTimeout(ctx, app.config.StoreTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		return refreshtokens.NewRedisRepository(rdb, refreshtokens.DefaultRedisPrefix, opts...), nil

	case config.StoreMemory:
		app.logger.Warn(ctx, "refresh tokens are kept in memory and will not survive a restart")
		return refreshtokens.NewMemoryRepository(opts...), nil

	default:
		return nil, fmt.Errorf("unknown token store %q", app.config.TokenStore)
	}
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case s := <-sigs:
			app.logger.Info(ctx, "Shutting down", "signal", s.String())
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return err
	}
	return nil
}

// Run serves until ctx is cancelled, a termination signal arrives or the
// gRPC server fails. The reaper runs alongside and is stopped with it.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "address", app.config.EndpointAddrGRPC, "token_store", app.config.TokenStore)

	app.initSignalHandler(ctx, cancelFunc)

	var wg sync.WaitGroup
	var serveErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr = app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reaper.Run(ctx)
	}()

	wg.Wait()

	app.logger.Info(context.Background(), "Stopped")
	return errors.Join(serveErr, app.close())
}

func (app *App) close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i].Close())
	}
	app.closers = nil
	return errors.Join(errs...)
}
