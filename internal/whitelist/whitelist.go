// Package whitelist evaluates a pattern's per-process whitelist (process
// name, binary path) against a resolved process track. There is no
// namespace-scope whitelist entry; the namespace inode and container flag
// are not consulted.
// Evaluation is default-deny/fail-closed: any error resolving a whitelist
// entry is treated as "not whitelisted" so a pattern is never silently
// disabled by accident.
package whitelist

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/guardianshield/grimoire/internal/procmeta"
)

// Matches reports whether the given process metadata is covered by any of
// the pattern's whitelist entries (process name exact match, or binary path
// exact/glob match via doublestar).
func Matches(meta procmeta.Metadata, processNames, binaryPaths []string) bool {
	for _, name := range processNames {
		if meta.Basename == name {
			return true
		}
	}
	for _, pattern := range binaryPaths {
		if meta.ExecPath == pattern {
			return true
		}
		ok, err := doublestar.Match(pattern, meta.ExecPath)
		if err == nil && ok {
			return true
		}
	}
	return false
}
