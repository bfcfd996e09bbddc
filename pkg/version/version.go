// Package version exposes build-time version information for the lithelper binary.
package version

// Build information. Populated at build time via -ldflags.
var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)
