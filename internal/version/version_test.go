package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fahadfarid28/home-sub000/internal/derivation"
)

func TestLinkedValuesWin(t *testing.T) {
	oldVersion, oldCommit, oldTime := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldVersion, oldCommit, oldTime })

	Version, GitCommit, BuildTime = "v1.2.0", "0123456789abcdef", "2026-03-01T10:00:00Z"

	info := GetBuildInfo()
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), info.BuildTime)
	assert.Equal(t, derivation.PipelineVersion, info.Pipeline)
	assert.Equal(t, "v1.2.0 (0123456)", GetShortVersion())
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("unknown").IsZero())
	assert.True(t, parseTime("").IsZero())
	assert.Equal(t, 2024, parseTime("2024-05-06 07:08:09").Year())
}
