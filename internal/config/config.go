// Package config loads the configuration of the site builder and the
// compute authority through Viper: defaults, then a YAML file (.home.yml),
// then HOME_* environment variables, then flags bound by the CLI.
//
// Durations accept Go syntax ("5s", "10m"). Relative disk paths are
// resolved against the working directory at load time.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// EnvPrefix prefixes every environment override, e.g. HOME_COMPUTE_URL.
const EnvPrefix = "HOME"

// Config is the full configuration.
type Config struct {
	// Environment scopes derivation keys in the store, e.g. "dev" or "prod".
	Environment string `mapstructure:"environment"`
	// Development uploads missing inputs before deriving.
	Development bool            `mapstructure:"development"`
	Tenant      TenantConfig    `mapstructure:"tenant"`
	Build       BuildConfig     `mapstructure:"build"`
	Store       StoreConfig     `mapstructure:"store"`
	Compute     ComputeConfig   `mapstructure:"compute"`
	Authority   AuthorityConfig `mapstructure:"authority"`
	Log         LogConfig       `mapstructure:"log"`
}

type TenantConfig struct {
	Name         string           `mapstructure:"name"`
	PathMappings pak.PathMappings `mapstructure:"path_mappings"`
}

type BuildConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
	StateDir      string        `mapstructure:"state_dir"`
	IncludeDrafts bool          `mapstructure:"include_drafts"`
	// WatchDebounce is the quiet period before a watch rebuild.
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

type StoreConfig struct {
	// LocalDir is the disk tier; empty means {state_dir}/objects.
	LocalDir string   `mapstructure:"local_dir"`
	S3       S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Enabled reports whether an S3 tier is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// ComputeConfig points the builder at a compute authority. An empty URL runs
// the authority in process.
type ComputeConfig struct {
	URL         string        `mapstructure:"url"`
	Token       string        `mapstructure:"token"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AuthorityConfig configures the authority server and in-process authority.
type AuthorityConfig struct {
	Addr       string        `mapstructure:"addr"`
	Token      string        `mapstructure:"token"`
	MaxJobs    int           `mapstructure:"max_jobs"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	WorkDir    string        `mapstructure:"work_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default of every key on v. Keys must be known to
// viper for environment overrides of nested values to apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("development", true)

	v.SetDefault("tenant.name", "home")
	v.SetDefault("tenant.path_mappings", []map[string]string{
		{"input": "/content", "disk": "content"},
		{"input": "/templates", "disk": "templates"},
	})

	v.SetDefault("build.concurrency", 4)
	v.SetDefault("build.drain_timeout", 5*time.Second)
	v.SetDefault("build.state_dir", ".home")
	v.SetDefault("build.include_drafts", false)
	v.SetDefault("build.watch_debounce", 200*time.Millisecond)

	v.SetDefault("store.local_dir", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.prefix", "")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.use_ssl", true)
	v.SetDefault("store.s3.access_key", "")
	v.SetDefault("store.s3.secret_key", "")

	v.SetDefault("compute.url", "")
	v.SetDefault("compute.token", "")
	v.SetDefault("compute.max_attempts", 20)
	v.SetDefault("compute.timeout", 30*time.Second)

	v.SetDefault("authority.addr", ":8745")
	v.SetDefault("authority.token", "")
	v.SetDefault("authority.max_jobs", 4)
	v.SetDefault("authority.job_timeout", 10*time.Minute)
	v.SetDefault("authority.work_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Bind enables HOME_* environment overrides on v.
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "decoding configuration")
	}

	if cfg.Store.LocalDir == "" && cfg.Build.StateDir != "" {
		cfg.Store.LocalDir = filepath.Join(cfg.Build.StateDir, "objects")
	}
	for i, m := range cfg.Tenant.PathMappings {
		if m.DiskPrefix.IsEmpty() {
			continue
		}
		abs, err := filepath.Abs(string(m.DiskPrefix))
		if err != nil {
			return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "resolving path mapping").
				WithPath(string(m.DiskPrefix))
		}
		cfg.Tenant.PathMappings[i].DiskPrefix = pak.DiskPath(filepath.ToSlash(abs))
	}

	if result := Validate(&cfg); result.HasErrors() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "invalid configuration:\n"+result.String())
	}

	return &cfg, nil
}

// MediaPropsPath is the media props database under the state directory.
func (c *Config) MediaPropsPath() string {
	return filepath.Join(c.Build.StateDir, "mediaprops.db")
}

// RevisionsPath is the local revision store under the state directory.
func (c *Config) RevisionsPath() string {
	return filepath.Join(c.Build.StateDir, "revisions.db")
}
