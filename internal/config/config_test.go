package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "relay.yaml", "{}\n"))
	require.NoError(t, err)
	require.Equal(t, "ollama", cfg.Provider)
	require.Equal(t, 8, cfg.MaxToolIterations)
	require.Equal(t, 4, cfg.MaxConcurrentTools)
	require.Equal(t, 30*time.Second, cfg.ToolTimeout)
	require.Equal(t, 5*time.Minute, cfg.TurnTimeout)
	require.Equal(t, "memory", cfg.History.Driver)
	require.True(t, cfg.Skills.Builtin)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
provider: openai
model: gpt-4o-mini
tool_timeout: 5s
history:
  driver: sqlite
  path: /tmp/h.db
capabilities:
  openai:
    supports_streaming: false
    max_tool_name_length: 32
disabled_middlewares: [token_budget]
`)
	t.Setenv("RELAY_MODEL", "gpt-4o")
	t.Setenv("RELAY_HISTORY_DRIVER", "memory")
	t.Setenv("RELAY_MAX_TOOL_ITERATIONS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Provider)
	require.Equal(t, "gpt-4o", cfg.Model)
	require.Equal(t, 5*time.Second, cfg.ToolTimeout)
	require.Equal(t, "memory", cfg.History.Driver)
	require.Equal(t, "/tmp/h.db", cfg.History.Path)
	require.Equal(t, 3, cfg.MaxToolIterations)
	require.Equal(t, []string{"token_budget"}, cfg.DisabledMiddlewares)

	caps, err := cfg.ProviderCapabilities()
	require.NoError(t, err)
	require.False(t, caps.SupportsStreaming)
	require.Equal(t, 32, caps.MaxToolNameLength)
	require.True(t, caps.SupportsTools)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Provider:           "nope",
		MaxToolIterations:  0,
		MaxConcurrentTools: 1,
		ToolTimeout:        time.Second,
		TurnTimeout:        time.Second,
		History:            HistoryConfig{Driver: "redis"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unsupported provider", "model must be set", "max_tool_iterations", "history.driver"} {
		require.True(t, strings.Contains(err.Error(), want), "missing %q in %v", want, err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := ExpandHome("~/x/relay.yaml")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "x", "relay.yaml"), got)

	got, _ = ExpandHome("/abs")
	require.Equal(t, "/abs", got)
}
