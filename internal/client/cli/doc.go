// Package cli is the gophauth command-line client.
//
// Commands: ping, register, login, refresh, logout and logout-all. Run with a
// command name to execute it once, or without one for an interactive prompt.
// Passwords are read from the terminal without echo. The token pair is saved
// to the session file after every command, so "login" in one run and
// "logout-all" in the next act on the same session.
package cli
