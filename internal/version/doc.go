// Package version exposes distpack build metadata.
//
// Version, Commit and BuildTime are injected with -ldflags at release time.
// The version is printed by `distpack version` and recorded in every build manifest.
package version
