package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/coral-profiler/internal/constants"
	"github.com/coral-mesh/coral-profiler/internal/safe"
)

// ConfigPathEnv overrides the default agent config file location.
const ConfigPathEnv = "CORAL_PROFILER_CONFIG"

// DefaultAgentConfigPath returns the config file used when none is given:
// $CORAL_PROFILER_CONFIG, else ~/.coral/profiler.yaml. It returns "" when no
// home directory exists (minimal containers).
func DefaultAgentConfigPath() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, constants.DefaultDir, constants.ConfigFile)
}

// LoadAgentConfig loads the agent configuration. An explicit path must exist;
// when path is empty the default location is used if present. Environment
// overrides are applied last. The result is not validated so that callers can
// still apply flags; call Validate afterwards.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultAgentConfigPath()
	}

	if err := loadYAML(path, explicit, cfg); err != nil {
		return nil, err
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return cfg, nil
}

// LoadCollectorServerConfig loads the development collector configuration.
func LoadCollectorServerConfig(path string) (*CollectorServerConfig, error) {
	cfg := DefaultCollectorServerConfig()

	if err := loadYAML(path, path != "", cfg); err != nil {
		return nil, err
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return cfg, nil
}

func loadYAML(path string, mustExist bool, into any) error {
	if path == "" {
		return nil
	}

	data, err := safe.ReadFile(path, nil)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !mustExist {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return nil
}
