package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophauth/internal/client/client"
	"github.com/dmitrijs2005/gophauth/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

var ErrUsage = errors.New("usage")

func (a *App) commands() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"ping":       a.Ping,
		"register":   a.Register,
		"login":      a.Login,
		"refresh":    a.Refresh,
		"logout":     a.Logout,
		"logout-all": a.LogoutAll,
	}
}

// CommandNames lists the commands Exec understands.
func (a *App) CommandNames() []string {
	names := make([]string, 0, 6)
	for name := range a.commands() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exec runs one command under the configured request timeout and saves the
// session afterwards, whatever the outcome: a revoked refresh clears it.
func (a *App) Exec(ctx context.Context, name string) error {
	cmd, ok := a.commands()[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q, want one of %s",
			ErrUsage, name, strings.Join(a.CommandNames(), ", "))
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	err := cmd(ctx)
	return errors.Join(err, a.session.Save(a.client.Tokens()))
}

func (a *App) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Server is up")
	return nil
}

// Register prompts for email, name and password and creates an account.
// The password is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	name, err := getSimpleText(a.reader, "Enter name (optional)", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	id, err := a.client.Register(ctx, email, name, password)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Registered, user id %s\n", id)
	return nil
}

// Login prompts for credentials and starts a new session.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	t, err := a.client.Login(ctx, email, password)
	if err != nil {
		return err
	}

	a.printTokens(t)
	return nil
}

func (a *App) Refresh(ctx context.Context) error {
	t, err := a.client.Refresh(ctx)
	if err != nil {
		return err
	}
	a.printTokens(t)
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) LogoutAll(ctx context.Context) error {
	if err := a.client.LogoutAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out of every session")
	return nil
}

func (a *App) printTokens(t client.Tokens) {
	fmt.Fprintf(a.out, "Access token (valid for %s):\n%s\n", t.ExpiresIn, t.AccessToken)
	if a.config.SessionFile != "" {
		fmt.Fprintf(a.out, "Session saved to %s\n", a.config.SessionFile)
	}
}
