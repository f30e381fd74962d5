// Package config loads agentcore configuration from defaults, a YAML file,
// a .env file and AGENTCORE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/agentcore/config.yaml, /etc/agentcore/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentcore", "config.yaml"))
	}

	paths = append(paths, "/etc/agentcore/config.yaml")
	return paths
}

// FindConfig locates a config file. An explicit path must exist; otherwise
// the first existing entry of DefaultSearchPaths wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Load builds the effective configuration. An empty path skips the YAML
// layer. ${VAR} references in the file are expanded after .env is loaded.
func Load(path string) (*domain.AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if IsEncrypted(cfg.Model.APIKey) {
		sk, err := NewSecretKey()
		if err != nil {
			return nil, fmt.Errorf("secret key: %w", err)
		}
		key, err := sk.Decrypt(cfg.Model.APIKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt model.api_key: %w", err)
		}
		cfg.Model.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.AppConfig) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("AGENTCORE_LOG_LEVEL", &cfg.Log.Level)
	str("AGENTCORE_LOG_FORMAT", &cfg.Log.Format)
	str("AGENTCORE_ADDR", &cfg.Server.Addr)
	str("AGENTCORE_STORE_PATH", &cfg.Store.Path)
	str("AGENTCORE_MODEL_BASE_URL", &cfg.Model.BaseURL)
	str("AGENTCORE_MODEL", &cfg.Model.Model)
	str("AGENTCORE_REASONING_ENGINE", &cfg.Reasoning.Engine)

	// OPENAI_API_KEY is honored so the daemon works against api.openai.com
	// without extra setup; the prefixed variable wins.
	str("OPENAI_API_KEY", &cfg.Model.APIKey)
	str("AGENTCORE_API_KEY", &cfg.Model.APIKey)

	if v := os.Getenv("AGENTCORE_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}

	if v := os.Getenv("AGENTCORE_MAX_TURNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTCORE_MAX_TURNS: %w", err)
		}
		cfg.Orchestrator.MaxTurns = n
	}
	if v := os.Getenv("AGENTCORE_MAX_CONCURRENT_RUNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("AGENTCORE_MAX_CONCURRENT_RUNS: %w", err)
		}
		cfg.Runner.MaxConcurrentRuns = n
	}
	return nil
}

// Masked returns a copy of cfg that is safe to expose over the API.
func Masked(cfg *domain.AppConfig) *domain.AppConfig {
	out := *cfg
	out.Model.APIKey = MaskSecret(cfg.Model.APIKey)
	out.Server.AllowedOrigins = append([]string(nil), cfg.Server.AllowedOrigins...)
	return &out
}
