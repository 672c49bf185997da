package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info()
	assert.Contains(t, info, "chatbridge")
	assert.Contains(t, info, Version)
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestInfoTruncatesCommit(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = origVersion, origCommit, origDate })

	Version = "1.2.3"
	Commit = "abc1234567890"
	Date = "2026-01-15"

	info := Info()
	assert.Contains(t, info, "1.2.3")
	assert.Contains(t, info, "abc1234")
	assert.NotContains(t, info, "abc1234567890")
	assert.Contains(t, info, "2026-01-15")
	assert.Equal(t, "chatbridge/1.2.3", UserAgent())
}

func TestShort(t *testing.T) {
	for in, want := range map[string]string{
		"abcdefghij": "abcdefg",
		"abc1234":    "abc1234",
		"abc":        "abc",
		"":           "",
	} {
		assert.Equal(t, want, short(in), in)
	}
}

func TestApplyBuildInfo(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = origVersion, origCommit, origDate })

	bi := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/soyeahso/chatbridge", Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
		},
	}

	Version, Commit, Date = "dev", "unknown", "unknown"
	applyBuildInfo(bi)
	assert.Equal(t, "v0.4.1", Version)
	assert.Equal(t, "0123456789abcdef", Commit)
	assert.Equal(t, "2026-10-01T12:00:00Z", Date)

	// ldflags values win.
	Version, Commit, Date = "1.0.0", "abc", "2026-01-01"
	applyBuildInfo(bi)
	assert.Equal(t, "1.0.0", Version)
	assert.Equal(t, "abc", Commit)
	assert.Equal(t, "2026-01-01", Date)

	// Local builds report (devel).
	Version = "dev"
	applyBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	assert.Equal(t, "dev", Version)
}
