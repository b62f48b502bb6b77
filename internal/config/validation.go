package config

import (
	"fmt"
	"strings"

	"github.com/fahadfarid28/home-sub000/internal/logging"
	"github.com/fahadfarid28/home-sub000/internal/validation"
)

// ValidationError is one configuration problem with suggestions.
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String formats every issue, errors first.
func (vr *ValidationResult) String() string {
	var b strings.Builder
	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		b.WriteString(title + ":\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "  - %s: %s\n", issue.Field, issue.Message)
			for _, s := range issue.Suggestions {
				fmt.Fprintf(&b, "      hint: %s\n", s)
			}
		}
	}
	write("errors", vr.Errors)
	write("warnings", vr.Warnings)

	return b.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, msg string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, msg string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: msg, Suggestions: suggestions})
}

// Validate checks cfg and collects every problem.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if cfg.Environment == "" || strings.ContainsAny(cfg.Environment, "/ ") {
		result.fail("environment", cfg.Environment, "must be a non-empty key segment",
			"Use 'dev' or 'prod'")
	}

	validateTenant(&cfg.Tenant, result)
	validateBuild(&cfg.Build, result)
	validateStore(&cfg.Store, result)
	validateCompute(&cfg.Compute, result)

	if cfg.Authority.MaxJobs <= 0 {
		result.fail("authority.max_jobs", cfg.Authority.MaxJobs, "must be positive")
	}
	if cfg.Authority.JobTimeout <= 0 {
		result.fail("authority.job_timeout", cfg.Authority.JobTimeout, "must be positive")
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		result.fail("log.format", cfg.Log.Format, "unknown log format", "Use 'text' or 'json'")
	}
	if lvl := strings.ToLower(cfg.Log.Level); logging.ParseLevel(lvl) == logging.LevelInfo && lvl != "info" {
		result.warn("log.level", cfg.Log.Level, "unknown level, using info",
			"Use one of debug, info, warn, error")
	}

	return result
}

func validateTenant(t *TenantConfig, result *ValidationResult) {
	if t.Name == "" {
		result.fail("tenant.name", t.Name, "tenant name cannot be empty")
	}
	if err := t.PathMappings.Validate(); err != nil {
		result.fail("tenant.path_mappings", t.PathMappings, err.Error(),
			"Map at least one input prefix, e.g. {input: /content, disk: ./content}")
		return
	}

	seen := make(map[string]bool, len(t.PathMappings))
	for _, m := range t.PathMappings {
		if seen[m.InputPrefix.String()] {
			result.warn("tenant.path_mappings", m.InputPrefix, "input prefix mapped twice, only the first rule applies")
		}
		seen[m.InputPrefix.String()] = true
	}
}

func validateBuild(b *BuildConfig, result *ValidationResult) {
	if b.Concurrency <= 0 {
		result.fail("build.concurrency", b.Concurrency, "must be positive")
	} else if b.Concurrency > 256 {
		result.warn("build.concurrency", b.Concurrency, "very high file concurrency")
	}
	if b.DrainTimeout <= 0 {
		result.fail("build.drain_timeout", b.DrainTimeout, "must be positive", "The default is 5s")
	}
	if b.StateDir == "" {
		result.fail("build.state_dir", b.StateDir, "state directory cannot be empty")
	}
	if b.WatchDebounce < 0 {
		result.fail("build.watch_debounce", b.WatchDebounce, "cannot be negative")
	}
}

func validateStore(s *StoreConfig, result *ValidationResult) {
	if !s.S3.Enabled() {
		if s.S3.Endpoint != "" {
			result.warn("store.s3.bucket", "", "endpoint set without a bucket, s3 tier disabled")
		}
		return
	}
	if s.S3.Endpoint == "" {
		result.fail("store.s3.endpoint", s.S3.Endpoint, "endpoint is required with a bucket",
			"Use s3.amazonaws.com for AWS")
	}
	if strings.Contains(s.S3.Endpoint, "://") {
		result.fail("store.s3.endpoint", s.S3.Endpoint, "endpoint is a host[:port], not a URL",
			"Use store.s3.use_ssl to pick the scheme")
	}
	if (s.S3.AccessKey == "") != (s.S3.SecretKey == "") {
		result.fail("store.s3.access_key", "", "access and secret key must be set together")
	}
}

func validateCompute(c *ComputeConfig, result *ValidationResult) {
	if c.URL != "" {
		if err := validation.ValidateURL(c.URL); err != nil {
			result.fail("compute.url", c.URL, err.Error(), "Leave empty to derive in process")
		} else if strings.HasPrefix(c.URL, "http://") && c.Token != "" {
			result.warn("compute.url", c.URL, "token sent over plain http")
		}
	}
	if c.MaxAttempts <= 0 {
		result.fail("compute.max_attempts", c.MaxAttempts, "must be positive")
	}
	if c.Timeout <= 0 {
		result.fail("compute.timeout", c.Timeout, "must be positive")
	}
}
