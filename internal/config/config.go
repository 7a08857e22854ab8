// Package config parses and validates the broadcaster's CLI surface,
// spec.md §6, using spf13/pflag (the flag package the pack's
// luxfi-consensus/cmd/consensus command builds on, via cobra).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pgquorum/walbroadcast/internal/quorum"
	"github.com/spf13/pflag"
)

// DefaultMaxSafekeepers is spec.md §6's typical MAX_SAFEKEEPERS cap.
const DefaultMaxSafekeepers = 32

// SafekeeperAddr is one parsed "host:port" entry from -s/--safekeepers.
type SafekeeperAddr struct {
	Host string
	Port int
}

// Config is the fully parsed and validated CLI surface.
type Config struct {
	Safekeepers []SafekeeperAddr
	Quorum      int

	DBName   string
	Host     string
	Port     int
	Username string
	NoPrompt bool // -w
	Prompt   bool // -W

	Verbose       bool
	Version       bool
	Help          bool
	LogFormat     string
	MaxSafekeepers int
}

// Parse parses args (normally os.Args[1:]) into a validated Config.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("broadcaster", pflag.ContinueOnError)

	var raw struct {
		safekeepers    string
		quorum         int
		dbname         string
		host           string
		port           int
		username       string
		noPrompt       bool
		prompt         bool
		verbose        bool
		version        bool
		help           bool
		logFormat      string
		maxSafekeepers int
	}

	fs.StringVarP(&raw.safekeepers, "safekeepers", "s", "", "comma-separated host:port list of safekeepers (required)")
	fs.IntVarP(&raw.quorum, "quorum", "q", 0, "quorum size (default floor(N/2)+1)")
	fs.StringVarP(&raw.dbname, "dbname", "d", "", "primary connection string")
	fs.StringVarP(&raw.host, "host", "h", "", "primary host")
	fs.IntVarP(&raw.port, "port", "p", 5432, "primary port")
	fs.StringVarP(&raw.username, "username", "U", "", "primary connection username")
	fs.BoolVarP(&raw.noPrompt, "no-password", "w", false, "never prompt for a password")
	fs.BoolVarP(&raw.prompt, "password", "W", false, "force a password prompt")
	fs.BoolVarP(&raw.verbose, "verbose", "v", false, "verbose (debug) logging")
	fs.BoolVarP(&raw.version, "version", "V", false, "print version and exit")
	fs.BoolVarP(&raw.help, "help", "?", false, "show help")
	fs.StringVar(&raw.logFormat, "log-format", "json", "log format: text|json")
	fs.IntVar(&raw.maxSafekeepers, "max-safekeepers", DefaultMaxSafekeepers, "maximum number of safekeepers accepted")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Quorum:         raw.quorum,
		DBName:         raw.dbname,
		Host:           raw.host,
		Port:           raw.port,
		Username:       raw.username,
		NoPrompt:       raw.noPrompt,
		Prompt:         raw.prompt,
		Verbose:        raw.verbose,
		Version:        raw.version,
		Help:           raw.help,
		LogFormat:      raw.logFormat,
		MaxSafekeepers: raw.maxSafekeepers,
	}

	if cfg.Help || cfg.Version {
		return cfg, nil
	}

	sks, err := parseSafekeepers(raw.safekeepers, cfg.MaxSafekeepers)
	if err != nil {
		return nil, err
	}
	cfg.Safekeepers = sks

	if cfg.Quorum == 0 {
		cfg.Quorum = quorum.DefaultQuorum(len(sks))
	}
	if !quorum.ValidateQuorum(cfg.Quorum, len(sks)) {
		return nil, fmt.Errorf("config: quorum %d out of range [%d, %d] for %d safekeepers",
			cfg.Quorum, quorum.DefaultQuorum(len(sks)), len(sks), len(sks))
	}

	return cfg, nil
}

func parseSafekeepers(raw string, max int) ([]SafekeeperAddr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("config: -s/--safekeepers is required and must be non-empty")
	}
	parts := strings.Split(raw, ",")
	if len(parts) > max {
		return nil, fmt.Errorf("config: %d safekeepers exceeds maximum of %d", len(parts), max)
	}
	out := make([]SafekeeperAddr, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		host, portStr, err := splitHostPort(p)
		if err != nil {
			return nil, fmt.Errorf("config: invalid safekeeper address %q: %w", p, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("config: invalid port in %q: %w", p, err)
		}
		out = append(out, SafekeeperAddr{Host: host, Port: port})
	}
	return out, nil
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing ':port'")
	}
	return addr[:idx], addr[idx+1:], nil
}
