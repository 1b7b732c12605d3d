// Package config loads the nr2003mem configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDir  string = "nr2003mem"
	configFile string = "config.yml"

	DefaultProcess = "NR2003.exe"
	DefaultCatalog = "addresses.csv"
)

// Config defines all options available through the config file.
type Config struct {
	// Process is the executable name of the game.
	Process string `yaml:"process"`
	// Catalog is the address catalog. Relative paths are looked up next to
	// the nr2003mem executable, then in the working directory.
	Catalog string `yaml:"catalog"`
	// OutputDir receives the per-module snapshot files.
	OutputDir string `yaml:"output-dir"`

	// CaptureBaseline reads the whole catalog when a session starts and
	// reports those values in the EXE_Value column.
	CaptureBaseline bool `yaml:"capture-baseline"`
	// ConfirmWrites asks before applying a snapshot file.
	ConfirmWrites bool `yaml:"confirm-writes"`

	// HistoryFile keeps the shell history. Empty disables it.
	HistoryFile string `yaml:"history-file,omitempty"`
}

// Default returns the built in configuration.
func Default() *Config {
	return &Config{
		Process:       DefaultProcess,
		Catalog:       DefaultCatalog,
		OutputDir:     ".",
		ConfirmWrites: true,
	}
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file is created with commented defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		if err := createConfigPath(); err != nil {
			return nil, fmt.Errorf("could not create config directory: %w", err)
		}
		p, err := GetConfigFilePath(configFile)
		if err != nil {
			return nil, err
		}
		path = p
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := createDefaultConfig(path); err != nil {
				return nil, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %w", path, err)
	}
	if c.Process == "" {
		c.Process = DefaultProcess
	}
	if c.Catalog == "" {
		c.Catalog = DefaultCatalog
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	return c, nil
}

// SaveConfig marshals conf to path.
func SaveConfig(path string, conf *Config) error {
	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

func createDefaultConfig(path string) error {
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return fmt.Errorf("unable to create config file: %w", err)
	}
	return nil
}

const defaultConfig = `# Configuration file for nr2003mem.

# Executable name of the running game.
process: NR2003.exe

# Address catalog. Relative paths are looked up next to the nr2003mem
# executable first, then in the working directory.
catalog: addresses.csv

# Directory receiving one CSV snapshot per module grouping.
output-dir: .

# Read the whole catalog when attaching and report those values in the
# EXE_Value column instead of the catalog's own column.
capture-baseline: false

# Ask before applying a snapshot file.
confirm-writes: true

# Uncomment to keep the shell history between runs.
# history-file: ~/.nr2003mem_history
`

// createConfigPath creates the directory holding the config file.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0o700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configDir, file), nil
}

// ResolveCatalog finds the catalog file. Absolute paths are returned as is.
// Relative paths are tried in exeDir, then relative to the working
// directory. When neither exists the working directory form is returned so
// the open error names it.
func ResolveCatalog(catalog, exeDir string) string {
	if catalog == "" || filepath.IsAbs(catalog) {
		return catalog
	}
	if exeDir != "" {
		p := filepath.Join(exeDir, catalog)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return catalog
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
