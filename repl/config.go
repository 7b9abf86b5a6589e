package repl

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Config is the REPL's persisted preference file, `~/.klox/repl.yaml`
//. It mirrors the subset of
// Options worth remembering between sessions; Debug stays flag-only
// since it's almost always a one-shot debugging need.
type Config struct {
	NoColor   bool   `yaml:"no_color"`
	Backtrace bool   `yaml:"backtrace"`
	Backend   string `yaml:"backend"` // "tree" or "vm"
}

// defaultConfigPath returns ~/.klox/repl.yaml, or an error if the home
// directory can't be resolved.
func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".klox", "repl.yaml"), nil
}

// LoadConfig reads the REPL preference file at path, or the default
// `~/.klox/repl.yaml` location when path is empty. A missing file is not
// an error — it returns a zero-value Config, matching first-run
// behavior — but a malformed one is.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path (or the default location when path is
// empty), creating the containing directory if needed.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
