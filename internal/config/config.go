package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Config holds application configuration.
type Config struct {
	// RuntimeBinary is the container runtime executable (podman-compatible CLI).
	RuntimeBinary string `json:"runtime_binary"`

	// DisplayBinary is the remote-display tool executable (xpra).
	DisplayBinary string `json:"display_binary"`

	// SocketInspectBinary lists unix sockets for the display liveness probe.
	SocketInspectBinary string `json:"socket_inspect_binary"`

	// BaseImagesDir holds one directory per buildable base image (each with a Dockerfile).
	// Relative paths are resolved against the base directory. Empty means <base>/base_images.
	BaseImagesDir string `json:"base_images_dir,omitempty"`

	// Terminal is the preferred terminal emulator. Empty means auto-detect.
	Terminal string `json:"terminal,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RuntimeBinary:       "podman",
		DisplayBinary:       "xpra",
		SocketInspectBinary: "ss",
		LogLevel:            "info",
	}
}

// BaseImagesPath returns the absolute base images directory for baseDir.
func (c *Config) BaseImagesPath(baseDir string) string {
	dir := c.BaseImagesDir
	if dir == "" {
		return filepath.Join(baseDir, "base_images")
	}
	if !filepath.IsAbs(dir) {
		return filepath.Join(baseDir, dir)
	}
	return dir
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.capsules.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both the global base directory and the
// nearest project .capsules/config.json above startDir.
// Project config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .capsules/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".capsules", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Comments and trailing commas are allowed.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	return &Config{
		RuntimeBinary:       pick(overlay.RuntimeBinary, base.RuntimeBinary),
		DisplayBinary:       pick(overlay.DisplayBinary, base.DisplayBinary),
		SocketInspectBinary: pick(overlay.SocketInspectBinary, base.SocketInspectBinary),
		BaseImagesDir:       pick(overlay.BaseImagesDir, base.BaseImagesDir),
		Terminal:            pick(overlay.Terminal, base.Terminal),
		LogLevel:            pick(overlay.LogLevel, base.LogLevel),
		DisabledTools:       mergeStringSlice(base.DisabledTools, overlay.DisabledTools),
	}
}

// pick returns overlay unless it is blank.
func pick(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return strings.TrimSpace(overlay)
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
