// Package version carries build metadata stamped in via -ldflags.
package version

var (
	// Version is the release tag of the running binary.
	Version = "dev"

	// Commit is the Git hash the binary was built from.
	Commit = "<unknown>"

	// Date is the build timestamp.
	Date = "<unknown>"
)
