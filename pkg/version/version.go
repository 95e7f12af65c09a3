// Package version holds the CiteLoom version string.
package version

// Version is the current CiteLoom version.
// Overridden at build time via -ldflags "-X github.com/citeloom/citeloom/pkg/version.Version=x.y.z".
var Version = "0.3.0"
