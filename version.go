// Package overseer runs commands under a watchdog and turns their output
// into line-oriented log records.
package overseer

// Version is the release version, overridden at build time with
// -ldflags "-X github.com/deixis/overseer.Version=...".
var Version = "v0.1.0-dev"
