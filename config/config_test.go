package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "https://api.openai.com", cfg.ChatKitAPIBase)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 5, cfg.IdentityCacheTTLMin)
	assert.Empty(t, cfg.OpenAIAPIKey)
	assert.Empty(t, cfg.APITokens)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHATKIT_WORKFLOW_ID", "wf_env")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, "wf_env", cfg.DefaultWorkflowID)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
HTTP_PORT: "8181"
CHATKIT_WORKFLOW_ID: wf_file
api_tokens:
  - token_hash: "$2a$10$abcdefghijklmnopqrstuv"
    user_id: user-1
    email: user@example.com
    name: Service One
chatbots:
  - id: default
    name: Assistant
  - id: support
    name: Support
    workflow_id: wf_support
    greeting: How can we help?
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	chdir(t, dir)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.HTTPPort)
	assert.Equal(t, "wf_file", cfg.DefaultWorkflowID)

	require.Len(t, cfg.APITokens, 1)
	assert.Equal(t, "user-1", cfg.APITokens[0].UserID)

	require.Len(t, cfg.Chatbots, 2)
	assert.Equal(t, "support", cfg.Chatbots[1].ID)
	assert.Equal(t, "wf_support", cfg.Chatbots[1].WorkflowID)
	assert.Equal(t, "How can we help?", cfg.Chatbots[1].Greeting)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{not yaml"), 0o600))
	chdir(t, dir)

	_, err := LoadConfig()
	assert.Error(t, err)
}
