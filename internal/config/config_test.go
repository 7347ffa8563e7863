package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultSession: "work", Upload: UploadConfig{Mode: ModeHosted}}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "work", loaded.DefaultSession)
	assert.Equal(t, ModeHosted, loaded.Upload.Mode)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	require.NoError(t, Save(path, &Config{DefaultSession: "main"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestResolveDefaultsWhenMissing(t *testing.T) {
	cfg, err := Resolve(filepath.Join(t.TempDir(), "missing.toml"), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultGraphURL, cfg.Graph.BaseURL)
	assert.EqualValues(t, DefaultChunkSize, cfg.Upload.ChunkSize)
	assert.EqualValues(t, 4*1024*1024, cfg.Upload.LargeFileThreshold)
	assert.Equal(t, DefaultGraphURL, cfg.Network.ProbeURL)
	assert.False(t, cfg.Audit.Enabled(), "audit needs site and list ids")
}

func TestResolveEnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("TPOST_CLIENT_ID=from-file\nTPOST_GRAPH_URL=http://localhost:9999/v1.0/\n"), 0600))
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, Save(cfgPath, &Config{Auth: AuthConfig{ClientID: "from-toml", TenantID: "contoso"}}))
	t.Setenv("TPOST_CLIENT_ID", "from-env")
	t.Setenv("TPOST_GRAPH_URL", "")

	cfg, err := Resolve(cfgPath, envPath)
	require.NoError(t, err)
	// Process env wins over the .env file.
	assert.Equal(t, "from-env", cfg.Auth.ClientID)
	assert.Equal(t, "contoso", cfg.Auth.TenantID)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Upload.ChunkSize = 1000
	assert.Error(t, cfg.Validate(), "unaligned chunk size")

	cfg = Default()
	cfg.Upload.Mode = "ftp"
	assert.Error(t, cfg.Validate(), "unknown upload mode")
}
