package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.True(t, cfg.Development)
	assert.Equal(t, 4, cfg.Build.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Build.DrainTimeout)
	assert.Equal(t, filepath.Join(".home", "objects"), cfg.Store.LocalDir)
	assert.Equal(t, 20, cfg.Compute.MaxAttempts)
	assert.False(t, cfg.Store.S3.Enabled())

	require.Len(t, cfg.Tenant.PathMappings, 2)
	assert.Equal(t, pak.InputPath("/content"), cfg.Tenant.PathMappings[0].InputPrefix)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, pak.DiskPath(filepath.ToSlash(filepath.Join(wd, "content"))), cfg.Tenant.PathMappings[0].DiskPrefix)
	assert.Equal(t, filepath.Join(".home", "mediaprops.db"), cfg.MediaPropsPath())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".home.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
environment: prod
development: false
tenant:
  name: blog
  path_mappings:
    - input: /content
      disk: /srv/blog/content
build:
  drain_timeout: 2s
store:
  s3:
    endpoint: s3.example.org
    bucket: assets
compute:
  url: https://compute.example.org
`), 0o644))

	t.Setenv("HOME_COMPUTE_MAX_ATTEMPTS", "7")
	t.Setenv("HOME_BUILD_STATE_DIR", filepath.Join(dir, "state"))

	v := viper.New()
	Bind(v)
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.False(t, cfg.Development)
	assert.Equal(t, "blog", cfg.Tenant.Name)
	assert.Equal(t, pak.PathMappings{{InputPrefix: "/content", DiskPrefix: "/srv/blog/content"}}, cfg.Tenant.PathMappings)
	assert.Equal(t, 2*time.Second, cfg.Build.DrainTimeout)
	assert.Equal(t, 7, cfg.Compute.MaxAttempts)
	assert.Equal(t, filepath.Join(dir, "state", "objects"), cfg.Store.LocalDir)
	assert.True(t, cfg.Store.S3.Enabled())
	assert.True(t, cfg.Store.S3.UseSSL)
	assert.Equal(t, "https://compute.example.org", cfg.Compute.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
		field string
	}{
		{"no mappings", "tenant.path_mappings", []map[string]string{}, "tenant.path_mappings"},
		{"relative input prefix", "tenant.path_mappings", []map[string]string{{"input": "content", "disk": "c"}}, "tenant.path_mappings"},
		{"compute url scheme", "compute.url", "ftp://compute", "compute.url"},
		{"zero attempts", "compute.max_attempts", 0, "compute.max_attempts"},
		{"s3 endpoint url", "store.s3.endpoint", "https://s3", "store.s3.endpoint"},
		{"log format", "log.format", "xml", "log.format"},
		{"environment", "environment", "a/b", "environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)
			if tt.key == "store.s3.endpoint" {
				v.Set("store.s3.bucket", "b")
			}

			_, err := Load(v)
			require.Error(t, err)
			assert.Equal(t, errors.ErrorTypeConfig, errors.TypeOf(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	cfg.Compute.URL = "http://compute.local"
	cfg.Compute.Token = "t"
	cfg.Log.Level = "loud"
	result := Validate(cfg)

	assert.False(t, result.HasErrors())
	assert.True(t, result.HasWarnings())
	assert.Len(t, result.Warnings, 2)
	assert.Contains(t, result.String(), "warnings:")
}
