package server

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/refreshtokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.DatabaseDriver = dbx.DriverSQLite
	c.DatabaseDSN = ":memory:"
	c.TokenStore = config.StoreMemory
	c.LogLevel = "error"
	return c
}

func TestNewApp_TokenStores(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		store string
		want  any
	}{
		{"sql", config.StoreSQL, &refreshtokens.SQLRepository{}},
		{"memory", config.StoreMemory, &refreshtokens.MemoryRepository{}},
		{"redis", config.StoreRedis, &refreshtokens.RedisRepository{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t)
			c.TokenStore = tt.store
			c.RedisAddr = mr.Addr()

			app, err := NewApp(context.Background(), c)
			require.NoError(t, err)
			t.Cleanup(func() { _ = app.close() })

			require.NotNil(t, app.sessions)
			require.NotNil(t, app.reaper)
			require.NotNil(t, app.grpc)

			n, err := app.reaper.Sweep(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestNewApp_Errors(t *testing.T) {
	t.Run("bad log format", func(t *testing.T) {
		c := testConfig(t)
		c.LogFormat = "xml"
		_, err := NewApp(context.Background(), c)
		assert.Error(t, err)
	})

	t.Run("bad issuer config", func(t *testing.T) {
		c := testConfig(t)
		c.RefreshSigningKey = c.AccessSigningKey
		_, err := NewApp(context.Background(), c)
		assert.ErrorIs(t, err, common.ErrInvalidConfig)
	})

	t.Run("bad database driver", func(t *testing.T) {
		c := testConfig(t)
		c.DatabaseDriver = "oracle"
		_, err := NewApp(context.Background(), c)
		assert.Error(t, err)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		c := testConfig(t)
		c.TokenStore = config.StoreRedis
		c.RedisAddr = addr
		c.StoreTimeout = 500 * time.Millisecond
		_, err := NewApp(context.Background(), c)
		assert.ErrorContains(t, err, "redis init error")
	})

	t.Run("unknown token store", func(t *testing.T) {
		c := testConfig(t)
		c.TokenStore = "etcd"
		_, err := NewApp(context.Background(), c)
		assert.ErrorContains(t, err, "unknown token store")
	})
}

func TestNewApp_FailureAfterLoggerDoesNotPanic(t *testing.T) {
	mr := miniredis.RunT(t)
	redisAddr := mr.Addr()
	mr.Close()

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"issuer", func(c *config.Config) { c.RefreshSigningKey = c.AccessSigningKey }},
		{"postgres unreachable", func(c *config.Config) {
			c.DatabaseDriver = dbx.DriverPostgres
			c.DatabaseDSN = "postgres://gophauth@127.0.0.1:1/gophauth?connect_timeout=1"
		}},
		{"store after db open", func(c *config.Config) { c.TokenStore = "etcd" }},
		{"redis after db open", func(c *config.Config) {
			c.TokenStore = config.StoreRedis
			c.RedisAddr = redisAddr
			c.StoreTimeout = 300 * time.Millisecond
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig(t)
			tt.mutate(c)

			var (
				app *App
				err error
			)
			require.NotPanics(t, func() { app, err = NewApp(context.Background(), c) })
			assert.Error(t, err)
			assert.Nil(t, app)
		})
	}
}

type recordingCloser struct {
	name  string
	order *[]string
	err   error
}

func (r recordingCloser) Close() error {
	*r.order = append(*r.order, r.name)
	return r.err
}

func TestApp_CloseReleasesInReverseOrder(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	app := &App{closers: []io.Closer{
		recordingCloser{name: "db", order: &order},
		recordingCloser{name: "redis", order: &order, err: boom},
	}}

	err := app.close()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"redis", "db"}, order)
	assert.Empty(t, app.closers)

	require.NoError(t, app.close())
	assert.Len(t, order, 2)
}

func TestRun_StopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Empty(t, app.closers, "resources released")
}

func TestRun_ListenFailureStopsReaper(t *testing.T) {
	c := testConfig(t)
	c.EndpointAddrGRPC = "256.0.0.1:bad"
	app, err := NewApp(context.Background(), c)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
