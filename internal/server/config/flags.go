package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/flagx"
)

var serverFlags = []string{"-a", "-d", "-D", "-s", "-R", "-k", "-K", "-t", "-r", "-i", "-l", "-L"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   database DSN
//	-D string   database driver: pgx or sqlite
//	-s string   refresh token store: sql, redis or memory
//	-R string   Redis address
//	-k string   access token signing key
//	-K string   refresh token signing key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-i int      reaper interval, seconds
//	-l string   log format: json, text or console
//	-L string   log level
//
// Only the flags above are picked out of args (see flagx.FilterArgs), so the
// -c/-config flag and anything else is left to other parsers.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DatabaseDriver, "D", config.DatabaseDriver, "database driver (pgx, sqlite)")
	fs.StringVar(&config.TokenStore, "s", config.TokenStore, "refresh token store (sql, redis, memory)")
	fs.StringVar(&config.RedisAddr, "R", config.RedisAddr, "redis address")
	fs.StringVar(&config.AccessSigningKey, "k", config.AccessSigningKey, "access token signing key")
	fs.StringVar(&config.RefreshSigningKey, "K", config.RefreshSigningKey, "refresh token signing key")

	accessTTL := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshTTL := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")
	reaperInterval := fs.Int("i", int(config.ReaperInterval.Seconds()), "expired token sweep interval (in seconds)")

	fs.StringVar(&config.LogFormat, "l", config.LogFormat, "log format (json, text, console)")
	fs.StringVar(&config.LogLevel, "L", config.LogLevel, "log level")

	if err := fs.Parse(flagx.FilterArgs(args, serverFlags)); err != nil {
		return err
	}

	// only touch durations that were passed explicitly, so sub-minute values
	// from JSON or env survive the round trip through int minutes
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTTL) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshTTL) * time.Minute
		case "i":
			config.ReaperInterval = time.Duration(*reaperInterval) * time.Second
		}
	})

	return nil
}
