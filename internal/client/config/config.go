package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the gophauth client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the backend gRPC endpoint.
//   - SessionFile: where the current token pair is kept between runs.
//   - RequestTimeout: upper bound for a single command.
type Config struct {
	ServerEndpointAddr string
	SessionFile        string
	RequestTimeout     time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.SessionFile = "gophauth-session.json"
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig builds a Config from defaults, the JSON file named by -c/-config
// and the command-line flags. Later sources take precedence over earlier
// ones. The positional arguments left after the flags are returned as well.
func LoadConfig() (*Config, []string, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, nil, err
	}
	rest, err := parseFlags(cfg, args)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}
