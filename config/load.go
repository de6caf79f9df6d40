package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var ErrMissingAPIKey = errors.New("upstream api key is not configured")

// Load reads path when it exists and applies environment overrides on top.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			return &cfg, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db_driver %q", c.DBDriver)
	}
	if strings.TrimSpace(c.DBURL) == "" {
		return errors.New("db_url is empty")
	}
	for name, spec := range map[string]string{
		"discover_schedule": c.Tracker.DiscoverSchedule,
		"cycle_schedule":    c.Tracker.CycleSchedule,
		"cleanup_schedule":  c.Tracker.CleanupSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("tracker.%s: %w", name, err)
		}
	}
	if c.Tracker.BatchSize <= 0 {
		return errors.New("tracker.batch_size must be positive")
	}
	for _, k := range c.API.Keys {
		if k.Role != "viewer" && k.Role != "operator" {
			return fmt.Errorf("api key %q: unknown role %q", k.Name, k.Role)
		}
	}
	return nil
}

// RequireUpstream is checked by commands that talk to the upstream API.
func (c *AppConfig) RequireUpstream() error {
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// WriteDefault writes cfg as YAML, refusing to overwrite an existing file.
func WriteDefault(path string, cfg *AppConfig) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out := *cfg
	out.Upstream.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
