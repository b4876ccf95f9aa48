// Package config loads the server configuration.
//
// The format is line-based key=value with [SharingName] section headers; a
// bare [] header takes the basename of the sharing path as the name. Values
// may be double-quoted; booleans accept true/false/1/0/yes/no.
//
// Precedence is CLI flag > config-file value > built-in default. The file is
// parsed here; the flag layer (cmd/esd) overwrites only fields whose flags
// were explicitly set.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"
)

// Default ports.
const (
	DefaultPort         = 12020
	DefaultDiscoverPort = 12021
)

// DefaultIdleTimeoutSeconds closes sessions with no frames for this long.
const DefaultIdleTimeoutSeconds = 300

// SharingConfig is one [Section] of the config file.
type SharingConfig struct {
	Name     string // empty means "use the path basename"
	Path     string `validate:"required"`
	ReadOnly bool
}

// ServerConfig is the full server configuration.
type ServerConfig struct {
	Address      string
	Port         int `validate:"gte=0,lte=65535"`
	DiscoverPort int `validate:"gte=0,lte=65535"`
	Name         string
	Password     string
	Rexec        bool
	SSL          bool
	SSLCert      string
	SSLPrivkey   string
	Trace        bool
	Verbose      bool
	NoColor      bool
	MetricsPort  int `validate:"gte=0,lte=65535"`
	IdleTimeout  int `validate:"gte=0"` // seconds; 0 disables the idle check

	Sharings []SharingConfig
}

// Default returns the built-in configuration. The server name defaults to
// the machine hostname.
func Default() *ServerConfig {
	name, _ := os.Hostname()
	return &ServerConfig{
		Port:         DefaultPort,
		DiscoverPort: DefaultDiscoverPort,
		Name:         name,
		IdleTimeout:  DefaultIdleTimeoutSeconds,
	}
}

// placeholder given to bare [] sections so the INI parser accepts them; the
// sharing name is then derived from the path basename.
const unnamedSection = "__unnamed__"

// Load reads a config file and merges it over the built-in defaults.
func Load(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return Parse(raw)
}

// Parse parses config file contents and merges them over the defaults.
func Parse(raw []byte) (*ServerConfig, error) {
	cfg := Default()

	file, err := ini.LoadSources(ini.LoadOptions{}, renameEmptySections(raw))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	global := file.Section(ini.DefaultSection)
	for _, key := range global.Keys() {
		if err := cfg.applyGlobal(key.Name(), unquote(key.String())); err != nil {
			return nil, err
		}
	}

	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		sc := SharingConfig{Name: section.Name()}
		if strings.HasPrefix(sc.Name, unnamedSection) {
			sc.Name = ""
		}
		for _, key := range section.Keys() {
			value := unquote(key.String())
			switch strings.ToLower(key.Name()) {
			case "path":
				sc.Path = value
			case "readonly":
				b, err := parseBool(value)
				if err != nil {
					return nil, fmt.Errorf("sharing %q: %w", section.Name(), err)
				}
				sc.ReadOnly = b
			default:
				return nil, fmt.Errorf("sharing %q: unknown key %q", section.Name(), key.Name())
			}
		}
		cfg.Sharings = append(cfg.Sharings, sc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyGlobal sets one top-level key.
func (c *ServerConfig) applyGlobal(key, value string) error {
	var err error
	switch strings.ToLower(key) {
	case "address":
		c.Address = value
	case "port":
		c.Port, err = parseInt(value)
	case "discover_port":
		c.DiscoverPort, err = parseInt(value)
	case "name":
		c.Name = value
	case "password":
		c.Password = value
	case "rexec":
		c.Rexec, err = parseBool(value)
	case "ssl":
		c.SSL, err = parseBool(value)
	case "ssl_cert":
		c.SSLCert = value
	case "ssl_privkey":
		c.SSLPrivkey = value
	case "trace":
		c.Trace, err = parseBool(value)
	case "verbose":
		c.Verbose, err = parseBool(value)
	case "no_color":
		c.NoColor, err = parseBool(value)
	case "metrics_port":
		c.MetricsPort, err = parseInt(value)
	case "idle_timeout":
		c.IdleTimeout, err = parseInt(value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return fmt.Errorf("config key %q: %w", key, err)
	}
	return nil
}

// Validate checks structural constraints and the SSL cert/key pairing.
func (c *ServerConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.SSL && (c.SSLCert == "" || c.SSLPrivkey == "") {
		return fmt.Errorf("ssl enabled but ssl_cert or ssl_privkey missing")
	}
	for _, s := range c.Sharings {
		if s.Path == "" {
			return fmt.Errorf("sharing %q has no path", s.Name)
		}
	}
	return nil
}

// renameEmptySections rewrites bare [] headers so the INI parser accepts
// them; each one gets a distinct placeholder name.
func renameEmptySections(raw []byte) []byte {
	lines := strings.Split(string(raw), "\n")
	n := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "[]" {
			lines[i] = fmt.Sprintf("[%s%d]", unnamedSection, n)
			n++
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

// unquote strips one pair of surrounding double quotes.
func unquote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}

// parseBool accepts the config boolean forms true/false/1/0/yes/no.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", v)
	}
}

func parseInt(v string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return n, nil
}
