package gooffline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes one deployment of the offline layer. Zero values fall
// back to DefaultConfig where a sensible default exists; Version and Origin
// have none and are required.
type Config struct {
	// Version names the current cache generation. Bumping it supersedes the
	// previous cache region; PurgeStale removes superseded regions.
	Version string `yaml:"version"`

	// Origin is the application origin, e.g. "https://app.example.com".
	// Requests to any other host are never intercepted.
	Origin string `yaml:"origin"`

	// Precache lists absolute paths, resolved against Origin, fetched and
	// stored during initialization: the app shell routes plus bundled
	// static entry points.
	Precache []string `yaml:"precache"`

	// APIPatterns are path prefixes classified as data requests,
	// e.g. "/api/". They outrank static-asset rules so data freshness is
	// never staled by a broad asset match.
	APIPatterns []string `yaml:"apiPatterns"`

	// ShellPath is the precached application-shell route served to offline
	// navigations that miss the cache.
	ShellPath string `yaml:"shellPath"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShellPath: "/",
	}
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	c.Origin = strings.TrimRight(c.Origin, "/")

	if c.ShellPath == "" {
		c.ShellPath = DefaultConfig().ShellPath
	}
	for i, p := range c.APIPatterns {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("apiPatterns[%d]: %q must start with /", i, p)
		}
	}
	for i, p := range c.Precache {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("precache[%d]: %q must start with /", i, p)
		}
	}

	return nil
}
