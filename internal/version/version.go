// Package version holds the running binary's version string, used by the
// review-state store to detect schema skew between runs (§4.7).
package version

// Version is bumped whenever the store schema changes incompatibly, forcing
// a drop-and-rebuild of every user table in any store opened by an older or
// newer binary.
const Version = "0.1.0"
