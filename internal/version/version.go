// Package version holds the build identity of the pytrace binary.
package version

// Overridden at build time:
// go build -ldflags "-X pytrace/internal/version.Version=0.4.0 -X pytrace/internal/version.Commit=abc123"
var (
	// Version is the semantic version of pytrace
	Version = "0.4.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// Info returns the version, followed by the short commit when one is known
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "pytrace version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}
