package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Exec(ctx context.Context, name string) error
}

// runREPL starts a simple read–eval–print loop.
//
// It reads a line from the provided scanner, takes the first token as the
// command and hands it to Exec. Command errors are printed and the loop goes
// on. The loop exits on scanner EOF, on context cancellation or when the user
// types "exit" or "quit".
//
//	Not logged in:   help, ping, register, login, exit
//	Logged in:       help, ping, refresh, logout, logout-all, exit
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner, w io.Writer) {
	for ctx.Err() == nil {
		fmt.Fprintf(w, "gophauth %s> ", statusFn())
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Fprintln(w, "Available commands: ping, refresh, logout, logout-all, exit")
			} else {
				fmt.Fprintln(w, "Available commands: ping, register, login, exit")
			}

		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return

		default:
			if err := a.Exec(ctx, cmd); err != nil {
				fmt.Fprintln(w, "Error:", err)
			}
		}
	}
}
