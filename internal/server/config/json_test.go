package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/asyncupload/internal/flagx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	t.Setenv(flagx.ConfigEnvVar, "")

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"http_addr":        "127.0.0.1:9090",
		"grpc_addr":        "127.0.0.1:9091",
		"upstream_url":     "http://admin.internal:8000",
		"chunk_dir":        "/var/chunks",
		"chunk_expiry":     "2h",
		"janitor_interval": "10m",
		"max_chunk_size":   1048576,
		"storage_backend":  "s3",
		"s3_root_user":     "user",
		"s3_root_password": "password",
		"s3_bucket":        "bucket",
		"s3_region":        "region",
		"s3_base_endpoint": "base_endpoint",
		"session_backend":  "redis",
		"session_dsn":      "redis://localhost:6379/0",
		"session_ttl":      "48h",
		"log_level":        "debug",
		"navigation": map[string]any{
			"form_path_patterns": []string{`^/backoffice/.+/edit/$`},
			"popup_params":       []string{"_popup"},
			"async_headers":      map[string]string{"X-Requested-With": "XMLHttpRequest"},
		},
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
		assert.Equal(t, "127.0.0.1:9091", cfg.GRPCAddr)
		assert.Equal(t, "http://admin.internal:8000", cfg.UpstreamURL)
		assert.Equal(t, "/var/chunks", cfg.ChunkDir)
		assert.Equal(t, 2*time.Hour, cfg.ChunkExpiry)
		assert.Equal(t, 10*time.Minute, cfg.JanitorInterval)
		assert.Equal(t, int64(1048576), cfg.MaxChunkSize)
		assert.Equal(t, "s3", cfg.StorageBackend)
		assert.Equal(t, "user", cfg.S3RootUser)
		assert.Equal(t, "password", cfg.S3RootPassword)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "region", cfg.S3Region)
		assert.Equal(t, "base_endpoint", cfg.S3BaseEndpoint)
		assert.Equal(t, "redis", cfg.SessionBackend)
		assert.Equal(t, "redis://localhost:6379/0", cfg.SessionDSN)
		assert.Equal(t, 48*time.Hour, cfg.SessionTTL)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, []string{`^/backoffice/.+/edit/$`}, cfg.Navigation.FormPathPatterns)
		assert.Equal(t, []string{"_popup"}, cfg.Navigation.PopupParams)
		assert.Equal(t, "XMLHttpRequest", cfg.Navigation.AsyncHeaders["X-Requested-With"])
	})

	t.Run("absent keys keep defaults", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{
			"storage_dir": "/srv/media",
		})
		os.Args = []string{"testbin", "-c", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "/srv/media", cfg.StorageDir)
		assert.Equal(t, ":8080", cfg.HTTPAddr)
		assert.Equal(t, "memory", cfg.SessionBackend)
		assert.Equal(t, 24*time.Hour, cfg.ChunkExpiry)
	})

	t.Run("no config file is a no-op", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{HTTPAddr: "keep"}
		parseJson(cfg)

		assert.Equal(t, "keep", cfg.HTTPAddr)
	})

	t.Run("environment selects the file", func(t *testing.T) {
		t.Setenv(flagx.ConfigEnvVar, pathFlag)
		os.Args = []string{"testbin"}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "redis", cfg.SessionBackend)
	})

	t.Run("missing file panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "nope.json")}
		assert.Panics(t, func() { parseJson(&Config{}) })
	})

	t.Run("invalid json panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
		os.Args = []string{"testbin", "-c", bad}
		assert.Panics(t, func() { parseJson(&Config{}) })
	})

	t.Run("integer nanoseconds duration", func(t *testing.T) {
		ns := writeTempJSON(t, dir, "ns.json", map[string]any{
			"chunk_expiry": int64(time.Minute),
		})
		os.Args = []string{"testbin", "-c", ns}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, time.Minute, cfg.ChunkExpiry)
	})
}
