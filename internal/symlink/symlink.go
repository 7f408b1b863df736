// Package symlink implements the two pure operations of §4.3: computing a
// canonical comparison key for a symlink target, and remapping a target
// string for the destination side of a copy. Both operations are grounded on
// the observation that Path.resolve(strict=False) performs purely lexical
// ".."/"." collapsing without touching the filesystem — path.Clean over the
// joined components reproduces that behavior in Go.
package symlink

import (
	"path"
	"strings"
)

// normalizeTargetText converts a raw symlink target to POSIX form without
// resolving it.
func normalizeTargetText(target string) string {
	return path.Clean(toPosix(target))
}

func toPosix(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// resolveAbs resolves target (as read from a link at relpath, rooted at
// root) to an absolute, lexically-clean path without dereferencing any
// intermediate symlink and without requiring the target to exist.
func resolveAbs(root, relpath, target string) string {
	normalized := normalizeTargetText(target)
	if path.IsAbs(normalized) {
		return path.Clean(normalized)
	}
	linkDir := path.Dir(path.Join(root, relpath))
	return path.Clean(path.Join(linkDir, normalized))
}

// relativeTo returns (rel, true) if target lies at or under base, using
// strict, component-wise comparison (never a bare string prefix test, so
// "/root2" is never considered to lie under "/root"). Both arguments must
// already be clean, absolute POSIX paths.
func relativeTo(target, base string) (string, bool) {
	if target == base {
		return ".", true
	}
	prefix := base
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(target, prefix) {
		return "", false
	}
	return target[len(prefix):], true
}

// TargetCompareKey computes the canonical comparison key for a symlink at
// relpath (rooted at root, with the scanning user's home directory home)
// whose raw target is target. A nil target yields an empty key.
func TargetCompareKey(root, home, relpath string, target *string) string {
	if target == nil {
		return ""
	}

	normalized := normalizeTargetText(*target)
	wasAbsolute := path.IsAbs(normalized)
	abs := resolveAbs(root, relpath, *target)

	if rel, ok := relativeTo(abs, root); ok {
		return "inroot:" + rel
	}

	if wasAbsolute {
		if rel, ok := relativeTo(abs, home); ok {
			return "home:" + rel
		}
		return "abs:" + abs
	}

	return "rel:" + normalized
}

// MapTargetForDestination computes the target string to write for a symlink
// being copied from sourceRelpath (under sourceRoot/sourceHome) to
// destinationRelpath (under destinationRoot/destinationHome).
func MapTargetForDestination(
	sourceRoot, sourceHome, sourceRelpath, sourceTarget string,
	destinationRoot, destinationHome, destinationRelpath string,
) string {
	normalized := normalizeTargetText(sourceTarget)
	wasAbsolute := path.IsAbs(normalized)
	abs := resolveAbs(sourceRoot, sourceRelpath, sourceTarget)

	if relToSourceRoot, ok := relativeTo(abs, sourceRoot); ok {
		mappedAbs := path.Join(destinationRoot, relToSourceRoot)
		destinationLinkDir := path.Dir(path.Join(destinationRoot, destinationRelpath))
		return relPath(destinationLinkDir, mappedAbs)
	}

	if wasAbsolute {
		if relToSourceHome, ok := relativeTo(abs, sourceHome); ok {
			return path.Clean(path.Join(destinationHome, relToSourceHome))
		}
		return normalized
	}

	return normalized
}

// relPath computes a POSIX-style relative path from base to target, both
// clean absolute paths, walking up through ".." segments as needed.
func relPath(base, target string) string {
	baseParts := splitNonEmpty(base)
	targetParts := splitNonEmpty(target)

	common := 0
	for common < len(baseParts) && common < len(targetParts) && baseParts[common] == targetParts[common] {
		common++
	}

	ups := len(baseParts) - common
	var segments []string
	for i := 0; i < ups; i++ {
		segments = append(segments, "..")
	}
	segments = append(segments, targetParts[common:]...)

	if len(segments) == 0 {
		return "."
	}
	return strings.Join(segments, "/")
}

func splitNonEmpty(p string) []string {
	raw := strings.Split(p, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
