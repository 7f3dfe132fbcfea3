// Package config loads the mudpuppy configuration file. The file is YAML,
// read once at startup and again on live reload; the loaded Config is an
// immutable snapshot and is never mutated in place.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TlsMode selects how the connection to a MUD is encrypted.
type TlsMode string

const (
	TlsDisabled TlsMode = "Disabled"
	TlsEnabled  TlsMode = "Enabled"
	// TlsVerifySkipped enables TLS but accepts any certificate. Dangerous;
	// only for MUDs with self-signed certificates.
	TlsVerifySkipped TlsMode = "VerifySkipped"
)

// Mud describes one game server and the per-MUD behaviour toggles.
type Mud struct {
	Name string  `yaml:"name"`
	Host string  `yaml:"host"`
	Port uint16  `yaml:"port"`
	TLS  TlsMode `yaml:"tls"`

	EchoInput                 bool   `yaml:"echo_input"`
	NoLineWrap                bool   `yaml:"no_line_wrap"`
	HoldPrompt                bool   `yaml:"hold_prompt"`
	CommandSeparator          string `yaml:"command_separator"`
	SplitviewPercentage       int    `yaml:"splitview_percentage"`
	SplitviewMarginHorizontal int    `yaml:"splitview_margin_horizontal"`
	SplitviewMarginVertical   int    `yaml:"splitview_margin_vertical"`
	NoTCPKeepalive            bool   `yaml:"no_tcp_keepalive"`
	DebugGmcp                 bool   `yaml:"debug_gmcp"`
}

// Config is the full configuration snapshot.
type Config struct {
	Muds         []Mud                        `yaml:"muds"`
	MouseEnabled bool                         `yaml:"mouse_enabled"`
	MouseScroll  bool                         `yaml:"mouse_scroll"`
	Keybindings  map[string]map[string]string `yaml:"keybindings"`

	// CommandPrefix introduces in-band commands on the input line.
	CommandPrefix string `yaml:"command_prefix"`

	// MetricsPort exposes Prometheus metrics on localhost when non-zero.
	MetricsPort int `yaml:"metrics_port"`

	// OutputBufferSize bounds each session's output ring buffer.
	OutputBufferSize int `yaml:"output_buffer_size"`
}

func defaultMud() Mud {
	return Mud{
		EchoInput:                 true,
		HoldPrompt:                true,
		CommandSeparator:          ";;",
		SplitviewPercentage:       70,
		SplitviewMarginHorizontal: 6,
		TLS:                       TlsDisabled,
	}
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	return &Config{
		MouseEnabled:     true,
		MouseScroll:      true,
		CommandPrefix:    "/",
		OutputBufferSize: 10_000,
		Keybindings:      map[string]map[string]string{},
	}
}

// InvalidConfigError reports a semantic problem with a loaded config file.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", e.Reason)
}

// Dir returns the configuration directory, honoring MUDPUPPY_CONFIG.
func Dir() (string, error) {
	if dir := os.Getenv("MUDPUPPY_CONFIG"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "mudpuppy"), nil
}

// DataDir returns the data (log) directory, honoring MUDPUPPY_DATA.
func DataDir() (string, error) {
	if dir := os.Getenv("MUDPUPPY_DATA"); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "mudpuppy"), nil
}

// Path returns the config file path inside the config directory.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads and validates the config file at path. A missing file yields
// the defaults, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	// Raw decode first so per-MUD defaults can be applied before the real
	// unmarshal overrides them.
	var raw struct {
		Muds []yaml.Node `yaml:"muds"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &InvalidConfigError{Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &InvalidConfigError{Reason: err.Error()}
	}
	cfg.Muds = cfg.Muds[:0]
	for _, node := range raw.Muds {
		mud := defaultMud()
		if err := node.Decode(&mud); err != nil {
			return nil, &InvalidConfigError{Reason: err.Error()}
		}
		cfg.Muds = append(cfg.Muds, mud)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i := range c.Muds {
		mud := &c.Muds[i]
		if mud.Name == "" {
			return &InvalidConfigError{Reason: fmt.Sprintf("muds[%d]: missing name", i)}
		}
		if seen[mud.Name] {
			return &InvalidConfigError{Reason: fmt.Sprintf("duplicate mud name %q", mud.Name)}
		}
		seen[mud.Name] = true
		if mud.Host == "" {
			return &InvalidConfigError{Reason: fmt.Sprintf("mud %q: missing host", mud.Name)}
		}
		if mud.Port == 0 {
			return &InvalidConfigError{Reason: fmt.Sprintf("mud %q: missing port", mud.Name)}
		}
		switch mud.TLS {
		case TlsDisabled, TlsEnabled, TlsVerifySkipped:
		default:
			return &InvalidConfigError{
				Reason: fmt.Sprintf("mud %q: tls must be Enabled, Disabled or VerifySkipped", mud.Name),
			}
		}
		if mud.CommandSeparator == "" {
			mud.CommandSeparator = ";;"
		}
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "/"
	}
	if c.OutputBufferSize <= 0 {
		c.OutputBufferSize = 10_000
	}
	return nil
}

// Mud returns the MUD entry with the given name, or nil.
func (c *Config) Mud(name string) *Mud {
	for i := range c.Muds {
		if c.Muds[i].Name == name {
			return &c.Muds[i]
		}
	}
	return nil
}
