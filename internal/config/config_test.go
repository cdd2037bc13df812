package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPPort)
	assert.Equal(t, 64, cfg.Cache.Shards)
	assert.Equal(t, "reject", cfg.Transform.CropPolicy)
	assert.Equal(t, "fail", cfg.Transform.WatermarkFailure)
	assert.Equal(t, 30*time.Second, cfg.Transform.PipelineTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	yml := `
cache:
  capacity: 10
  ttl: 2m
transform:
  crop_policy: clamp
headers:
  - status_codes: [404]
    values:
      cache-control: "public, max-age=5"
presets:
  thumb: "width=100"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("S3_ACCESS_KEY", "minio")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Cache.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "clamp", cfg.Transform.CropPolicy)
	assert.Equal(t, "minio", cfg.Storage.AccessKey)
	require.Len(t, cfg.Headers, 1)
	assert.Equal(t, []int{404}, cfg.Headers[0].StatusCodes)
	assert.Equal(t, "width=100", cfg.Presets["thumb"])
}

func TestLoad_InvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("transform:\n  watermark_failure: maybe\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDatabaseNode_DSN(t *testing.T) {
	n := DatabaseNode{Host: "db", Port: "5432", User: "u", Pass: "p", Name: "images", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/images?sslmode=disable", n.DSN())
}
