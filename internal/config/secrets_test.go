package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/config"
)

func TestEncryptDecryptAPIKeyRoundTrip(t *testing.T) {
	sealed, err := config.EncryptAPIKey("sk-ant-test123", "correct horse battery staple")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sk-ant-test123")

	plaintext, err := config.DecryptAPIKey(sealed, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test123", plaintext)
}

func TestDecryptAPIKey_WrongPasswordFails(t *testing.T) {
	sealed, err := config.EncryptAPIKey("sk-ant-test123", "correct horse battery staple")
	require.NoError(t, err)

	_, err = config.DecryptAPIKey(sealed, "wrong password")
	assert.Error(t, err)
}

func TestDecryptAPIKey_CorruptedBlobFails(t *testing.T) {
	_, err := config.DecryptAPIKey("not-valid-base64-blob!!", "any password")
	assert.Error(t, err)
}

func TestSetModelSecret_WritesEncryptedAPIKeyAndClearsPlaintext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, config.SetModelSecret(dir, "claude-sonnet", "anthropic", "sk-ant-abc", "pw"))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "claude-sonnet", cfg.Models[0].Name)
	assert.Equal(t, "anthropic", cfg.Models[0].Provider)
	assert.Empty(t, cfg.Models[0].APIKey)
	assert.NotEmpty(t, cfg.Models[0].EncryptedAPIKey)

	resolved, err := cfg.ResolveAPIKey("claude-sonnet", "pw")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-abc", resolved)
}

func TestResolveAPIKey_PrefersPlaintextOverEncrypted(t *testing.T) {
	cfg := &config.Config{Models: []config.ModelConfig{
		{Name: "m", APIKey: "plain-key", EncryptedAPIKey: "irrelevant"},
	}}
	resolved, err := cfg.ResolveAPIKey("m", "any-password")
	require.NoError(t, err)
	assert.Equal(t, "plain-key", resolved)
}

func TestResolveAPIKey_UnknownModelErrors(t *testing.T) {
	cfg := &config.Config{}
	_, err := cfg.ResolveAPIKey("nonexistent", "pw")
	assert.Error(t, err)
}
