// Package dbpilot provides the version information for dbpilot.
package dbpilot

// Version is the current version of dbpilot.
const Version = "0.1.0"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
