package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	t.Helper()
	v, c, b := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = v, c, b })
}

func TestInfo(t *testing.T) {
	restore(t)

	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{"unknown commit", "1.0.0", "unknown", "1.0.0"},
		{"short commit", "1.0.0", "abc", "1.0.0"},
		{"exactly 7 chars", "2.0.0", "1234567", "2.0.0"},
		{"full hash", "1.0.0", "abc1234567890", "1.0.0 (abc1234)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Version, Commit = tt.version, tt.commit
			assert.Equal(t, tt.want, Info())
		})
	}
}

func TestFull(t *testing.T) {
	restore(t)
	Version, Commit, BuildDate = "1.2.3", "abcdef123456", "2024-01-15"

	got := Full()
	for _, part := range []string{"pytrace version 1.2.3", "Commit: abcdef123456", "Built: 2024-01-15"} {
		assert.Contains(t, got, part)
	}
}

func TestDefaultVersionIsSemver(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.Len(t, strings.Split(Version, "."), 3)
}
