package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sentrel", cfg.AppName)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.True(t, cfg.Auth.Required)
	assert.Empty(t, cfg.Auth.AllowedPublicKeys)
	assert.Equal(t, int64(5*1024*1024), cfg.Ingestion.MaxRequestSize)
	assert.Equal(t, 100, cfg.Ingestion.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Ingestion.BatchTimeout)
	assert.Equal(t, 10000, cfg.Ingestion.MaxPending)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.OpenSearch.Hosts)
	assert.Equal(t, "sentry-events", cfg.OpenSearch.IndexPrefix)
	assert.True(t, cfg.OpenSearch.VerifyCerts)
	assert.True(t, cfg.Queue.Enabled)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 1000, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.False(t, cfg.GeoIP.Enabled)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
debug: true
server:
  port: 9999
auth:
  allowed_public_keys:
    - key1
    - key2
ingestion:
  project_ids:
    - 1
    - 42
opensearch:
  hosts:
    - https://os1:9200
    - https://os2:9200
queue:
  enabled: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"key1", "key2"}, cfg.Auth.AllowedPublicKeys)
	assert.Equal(t, []int{1, 42}, cfg.Ingestion.ProjectIDs)
	assert.Equal(t, []string{"https://os1:9200", "https://os2:9200"}, cfg.OpenSearch.Hosts)
	assert.False(t, cfg.Queue.Enabled)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTREL_SERVER_PORT", "8443")
	t.Setenv("SENTREL_AUTH_REQUIRED", "false")
	t.Setenv("SENTREL_OPENSEARCH_INDEX_PREFIX", "custom-events")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Server.Port)
	assert.False(t, cfg.Auth.Required)
	assert.Equal(t, "custom-events", cfg.OpenSearch.IndexPrefix)
}

func TestEnvListFormats(t *testing.T) {
	t.Run("comma separated", func(t *testing.T) {
		t.Setenv("SENTREL_AUTH_ALLOWED_PUBLIC_KEYS", "a, b ,c")
		t.Setenv("SENTREL_INGESTION_PROJECT_IDS", "1,2,bogus,3")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.AllowedPublicKeys)
		assert.Equal(t, []int{1, 2, 3}, cfg.Ingestion.ProjectIDs, "unparseable ids are skipped")
	})

	t.Run("json array", func(t *testing.T) {
		t.Setenv("SENTREL_AUTH_ALLOWED_PUBLIC_KEYS", `["x","y"]`)

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y"}, cfg.Auth.AllowedPublicKeys)
	})
}

func TestValidation(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("SENTREL_SERVER_PORT", "99999")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("zero batch size", func(t *testing.T) {
		t.Setenv("SENTREL_INGESTION_BATCH_SIZE", "0")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("empty hosts", func(t *testing.T) {
		t.Setenv("SENTREL_OPENSEARCH_HOSTS", "")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestParseListString(t *testing.T) {
	assert.Nil(t, parseListString(""))
	assert.Nil(t, parseListString("   "))
	assert.Equal(t, []string{"one"}, parseListString("one"))
	assert.Equal(t, []string{"a", "b"}, parseListString(`["a","b"]`))
	assert.Equal(t, []string{"[malformed", "b"}, parseListString("[malformed, b"))
}
