package pak

import (
	"path/filepath"
	"strings"

	"github.com/fahadfarid28/home-sub000/internal/errors"
)

// PathMapping ties a logical input prefix to a directory on disk.
type PathMapping struct {
	InputPrefix InputPath `mapstructure:"input" yaml:"input" msgpack:"input"`
	DiskPrefix  DiskPath  `mapstructure:"disk" yaml:"disk" msgpack:"disk"`
}

// PathMappings is an ordered rule list. The first rule whose prefix matches
// wins in both directions, and a path no rule matches is an error.
type PathMappings []PathMapping

// ToDiskPath resolves an input path to its location on disk.
func (m PathMappings) ToDiskPath(p InputPath) (DiskPath, error) {
	for _, rule := range m {
		if p.HasPrefix(rule.InputPrefix) {
			rest := strings.TrimPrefix(string(p), string(rule.InputPrefix))
			return DiskPath(joinRest(string(rule.DiskPrefix), rest)), nil
		}
	}

	return "", errors.ErrUnmappedPath(p.String())
}

// ToInputPath is the inverse of ToDiskPath.
func (m PathMappings) ToInputPath(p DiskPath) (InputPath, error) {
	p = DiskPath(filepath.ToSlash(string(p)))
	for _, rule := range m {
		if p.HasPrefix(rule.DiskPrefix) {
			rest := strings.TrimPrefix(string(p), string(rule.DiskPrefix))
			return InputPath(joinRest(string(rule.InputPrefix), rest)), nil
		}
	}

	return "", errors.ErrUnmappedPath(p.String())
}

// MappingFor returns the rule that owns p.
func (m PathMappings) MappingFor(p InputPath) (PathMapping, bool) {
	for _, rule := range m {
		if p.HasPrefix(rule.InputPrefix) {
			return rule, true
		}
	}

	return PathMapping{}, false
}

// ConfigPaths returns the revision config path of every mapping root, in
// rule order. Earlier rules take precedence.
func (m PathMappings) ConfigPaths() []InputPath {
	paths := make([]InputPath, 0, len(m))
	for _, rule := range m {
		paths = append(paths, InputPath(joinRest(string(rule.InputPrefix), RevisionConfigName)))
	}

	return paths
}

// IsConfigPath reports whether p is the revision config at a mapping root.
func (m PathMappings) IsConfigPath(p InputPath) bool {
	for _, c := range m.ConfigPaths() {
		if c == p {
			return true
		}
	}

	return false
}

// Validate rejects empty prefixes and relative disk roots.
func (m PathMappings) Validate() error {
	if len(m) == 0 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "at least one path mapping is required")
	}
	for _, rule := range m {
		if rule.InputPrefix.IsEmpty() || !strings.HasPrefix(string(rule.InputPrefix), "/") {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "input prefix must be absolute").
				WithPath(rule.InputPrefix.String())
		}
		if rule.DiskPrefix.IsEmpty() {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "disk prefix must not be empty").
				WithPath(rule.InputPrefix.String())
		}
	}

	return nil
}

func joinRest(prefix, rest string) string {
	if rest == "" {
		return prefix
	}
	if strings.HasSuffix(prefix, "/") && strings.HasPrefix(rest, "/") {
		return prefix + rest[1:]
	}
	if !strings.HasSuffix(prefix, "/") && !strings.HasPrefix(rest, "/") {
		return prefix + "/" + rest
	}

	return prefix + rest
}
