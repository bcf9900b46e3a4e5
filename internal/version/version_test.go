package version

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestGetUsesLinkerVariables(t *testing.T) {
	oldVersion, oldCommit, oldTime := Version, GitCommit, BuildTime
	defer func() { Version, GitCommit, BuildTime = oldVersion, oldCommit, oldTime }()

	Version = "v0.4.0"
	GitCommit = "0123456789abcdef"
	BuildTime = "2026-03-01T12:00:00Z"

	info := Get()
	assert.Equal(t, "v0.4.0", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), info.BuildTime)
	assert.Equal(t, "v0.4.0 (0123456)", info.Short())
	assert.Contains(t, info.String(), "ssrdev v0.4.0 (0123456)")
	assert.Contains(t, info.String(), "Built:    2026-03-01T12:00:00Z")
}

func TestShort(t *testing.T) {
	tests := []struct {
		name     string
		info     BuildInfo
		expected string
	}{
		{name: "with commit", info: BuildInfo{Version: "v1.0.0", GitCommit: "abcdef123"}, expected: "v1.0.0 (abcdef1)"},
		{name: "unknown commit", info: BuildInfo{Version: "dev", GitCommit: "unknown"}, expected: "dev"},
		{name: "short commit", info: BuildInfo{Version: "dev", GitCommit: "abc"}, expected: "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.info.Short())
		})
	}
}

func TestIsRelease(t *testing.T) {
	assert.True(t, (&BuildInfo{Version: "v1.2.3"}).IsRelease())
	assert.False(t, (&BuildInfo{Version: "dev"}).IsRelease())
	assert.False(t, (&BuildInfo{Version: "dev-abc1234"}).IsRelease())
	assert.False(t, (&BuildInfo{Version: "v1.2.3", Dirty: true}).IsRelease())
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in       string
		expected time.Time
	}{
		{in: "2026-01-02T03:04:05Z", expected: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{in: "2026-01-02T03:04:05", expected: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{in: "2026-01-02 03:04:05", expected: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{in: "unknown"},
		{in: ""},
		{in: "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, tt.expected.Equal(parseTime(tt.in)))
		})
	}
}
