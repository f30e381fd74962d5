package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

var envKeys = []string{
	"AGENTCORE_LOG_LEVEL", "AGENTCORE_LOG_FORMAT", "AGENTCORE_ADDR",
	"AGENTCORE_STORE_PATH", "AGENTCORE_MODEL_BASE_URL", "AGENTCORE_MODEL",
	"AGENTCORE_REASONING_ENGINE", "AGENTCORE_API_KEY", "OPENAI_API_KEY",
	"AGENTCORE_ALLOWED_ORIGINS", "AGENTCORE_MAX_TURNS", "AGENTCORE_MAX_CONCURRENT_RUNS",
	"TEST_MODEL_KEY",
}

// isolate runs the test from an empty directory with every variable the
// loader reads unset. Values are restored on cleanup.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig(), cfg)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	t.Setenv("TEST_MODEL_KEY", "sk-from-env")

	path := filepath.Join(dir, "agentcore.yaml")
	writeFile(t, path, `
server:
  addr: ":9090"
model:
  model: gpt-4o-mini
  api_key: ${TEST_MODEL_KEY}
orchestrator:
  max_turns: 5
  tool_timeout: 10s
dedup:
  stale_after: 90s
reasoning:
  engine: chain
  tree:
    strategy: beam
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Model)
	assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
	assert.Equal(t, 5, cfg.Orchestrator.MaxTurns)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.ToolTimeout)
	assert.Equal(t, 90*time.Second, cfg.Dedup.StaleAfter)
	assert.Equal(t, "chain", cfg.Reasoning.Engine)
	assert.Equal(t, domain.StrategyBeam, cfg.Reasoning.Tree.Strategy)

	// untouched sections keep their defaults
	def := domain.DefaultConfig()
	assert.Equal(t, def.Loop, cfg.Loop)
	assert.Equal(t, def.Store, cfg.Store)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "agentcore.yaml")
	writeFile(t, path, "model:\n  model: from-file\n")

	t.Setenv("AGENTCORE_MODEL", "from-env")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("AGENTCORE_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("AGENTCORE_MAX_TURNS", "7")
	t.Setenv("AGENTCORE_MAX_CONCURRENT_RUNS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Model.Model)
	assert.Equal(t, "sk-openai", cfg.Model.APIKey)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 7, cfg.Orchestrator.MaxTurns)
	assert.Equal(t, int64(3), cfg.Runner.MaxConcurrentRuns)

	t.Setenv("AGENTCORE_API_KEY", "sk-agentcore")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-agentcore", cfg.Model.APIKey)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "AGENTCORE_MODEL=from-dotenv\nAGENTCORE_STORE_PATH=/tmp/dotenv.db\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Model.Model)
	assert.Equal(t, "/tmp/dotenv.db", cfg.Store.Path)
}

func TestLoad_DecryptsAPIKey(t *testing.T) {
	dir := isolate(t)
	t.Setenv(secretKeyEnv, "loader-test-key")

	sk, err := NewSecretKey()
	require.NoError(t, err)
	encrypted, err := sk.Encrypt("sk-very-secret")
	require.NoError(t, err)

	path := filepath.Join(dir, "agentcore.yaml")
	writeFile(t, path, "model:\n  api_key: \""+encrypted+"\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-very-secret", cfg.Model.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		env   map[string]string
		check func(t *testing.T, err error)
	}{
		{
			name: "invalid max turns",
			yaml: "orchestrator:\n  max_turns: 0\n",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidConfig)
			},
		},
		{
			name: "unknown engine",
			yaml: "reasoning:\n  engine: quantum\n",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidConfig)
			},
		},
		{
			name: "malformed yaml",
			yaml: "server: [unclosed\n",
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "parse config")
			},
		},
		{
			name: "non numeric env",
			env:  map[string]string{"AGENTCORE_MAX_TURNS": "many"},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "AGENTCORE_MAX_TURNS")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(dir, "agentcore.yaml")
			writeFile(t, path, tt.yaml)

			cfg, err := Load(path)
			require.Error(t, err)
			assert.Nil(t, cfg)
			tt.check(t, err)
		})
	}
}

func TestFindConfig(t *testing.T) {
	dir := isolate(t)

	_, err := FindConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	explicit := filepath.Join(dir, "explicit.yaml")
	writeFile(t, explicit, "{}\n")
	got, err := FindConfig(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	writeFile(t, filepath.Join(dir, "config.yaml"), "{}\n")
	got, err = FindConfig("")
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", got)
}

func TestMasked(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Model.APIKey = "sk-abc123def"

	masked := Masked(cfg)
	assert.Equal(t, "****3def", masked.Model.APIKey)
	assert.Equal(t, "sk-abc123def", cfg.Model.APIKey)

	masked.Server.AllowedOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.AllowedOrigins[0])
}
