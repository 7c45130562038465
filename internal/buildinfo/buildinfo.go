// Package buildinfo holds the version string reported by --version and
// by the front-end's initialize response.
package buildinfo

// Version is injected by -ldflags at build time; this is the fallback
// for a plain `go build`.
var Version = "0.1.0"
