package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/gophauth/internal/client/client"
	"github.com/dmitrijs2005/gophauth/internal/client/config"
)

// AuthClient is the part of client.GRPCClient the CLI drives.
type AuthClient interface {
	Ping(ctx context.Context) error
	Register(ctx context.Context, email, name string, password []byte) (string, error)
	Login(ctx context.Context, email string, password []byte) (client.Tokens, error)
	Refresh(ctx context.Context) (client.Tokens, error)
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
	Tokens() client.Tokens
	SetTokens(client.Tokens)
	Close() error
}

type App struct {
	config  *config.Config
	client  AuthClient
	session *SessionFile
	reader  *bufio.Reader
	out     io.Writer
}

// NewApp connects to the configured server and restores the saved session.
func NewApp(c *config.Config) (*App, error) {

	apiClient, err := client.NewGRPCClient(c.ServerEndpointAddr)
	if err != nil {
		return nil, err
	}

	a := newApp(c, apiClient, NewSessionFile(c.SessionFile), os.Stdin, os.Stdout)
	if err := a.restore(); err != nil {
		_ = apiClient.Close()
		return nil, err
	}
	return a, nil
}

func newApp(c *config.Config, ac AuthClient, s *SessionFile, in io.Reader, out io.Writer) *App {
	return &App{config: c, client: ac, session: s, reader: bufio.NewReader(in), out: out}
}

func (a *App) restore() error {
	t, err := a.session.Load()
	if err != nil {
		return err
	}
	a.client.SetTokens(t)
	return nil
}

// Close saves whatever pair the client holds now and closes the connection.
func (a *App) Close() error {
	return errors.Join(a.session.Save(a.client.Tokens()), a.client.Close())
}

// Run executes the command named by args, or starts the interactive loop
// when args is empty.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, "gophauth client (type 'help' for commands)")
		runREPL(ctx, a, a.status, bufio.NewScanner(a.reader), a.out)
		return nil
	}
	if len(args) > 1 {
		return fmt.Errorf("%w: unexpected arguments %v", ErrUsage, args[1:])
	}
	return a.Exec(ctx, args[0])
}

func (a *App) isLoggedIn() bool {
	return a.client.Tokens().RefreshToken != ""
}

func (a *App) status() string {
	if a.isLoggedIn() {
		return "(logged in)"
	}
	return ""
}
