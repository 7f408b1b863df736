// Package ignore evaluates nested gitignore-style ".dropboxignore" files,
// per §4.2. Patterns loaded at each ancestor directory are evaluated in
// ancestor-distance order so a deeper file can re-include something a
// shallower one excluded.
package ignore

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/golang/groupcache/lru"
)

const ignoreFileName = ".dropboxignore"

// pattern is a single parsed line of a .dropboxignore file.
type pattern struct {
	negated       bool
	directoryOnly bool
	anchored      bool
	text          string
}

func parsePattern(raw string) *pattern {
	text := raw
	negated := false
	if strings.HasPrefix(text, "!") {
		negated = true
		text = text[1:]
	}

	directoryOnly := false
	if strings.HasSuffix(text, "/") {
		directoryOnly = true
		text = strings.TrimSuffix(text, "/")
	}

	anchored := false
	if strings.HasPrefix(text, "/") {
		anchored = true
		text = strings.TrimPrefix(text, "/")
	}

	return &pattern{negated: negated, directoryOnly: directoryOnly, anchored: anchored, text: text}
}

// matches implements the §4.2 matching semantics: an anchored pattern only
// matches the full local target; an unanchored, slash-free pattern also
// matches any single segment; an unanchored pattern containing a slash also
// matches any trailing multi-segment suffix.
func (p *pattern) matches(localTarget string, isDir bool) bool {
	if p.directoryOnly && !isDir {
		return false
	}

	target := strings.TrimSuffix(localTarget, "/")

	if ok, _ := doublestar.Match(p.text, target); ok {
		return true
	}

	if p.anchored {
		return false
	}

	parts := splitNonEmpty(target, '/')

	if !strings.Contains(p.text, "/") {
		for _, part := range parts {
			if ok, _ := doublestar.Match(p.text, part); ok {
				return true
			}
		}
		return false
	}

	for i := 1; i < len(parts); i++ {
		suffix := strings.Join(parts[i:], "/")
		if ok, _ := doublestar.Match(p.text, suffix); ok {
			return true
		}
	}
	return false
}

func splitNonEmpty(s string, sep byte) []string {
	raw := strings.Split(s, string(sep))
	out := raw[:0]
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Rules accumulates parsed .dropboxignore specs keyed by the POSIX-form
// relative directory they were loaded at ("." for the root) and answers
// is-ignored queries against them.
type Rules struct {
	patterns map[string][]*pattern
	cache    *lru.Cache
}

// New creates an empty rule set. cacheSize bounds the number of per-path
// is-ignored results memoized in an LRU cache, keeping memory bounded on very
// deep trees while avoiding repeated ancestor walks for frequently queried
// paths (e.g. a directory visited during both the dir-prune and file passes
// of a scan).
func New(cacheSize int) *Rules {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &Rules{
		patterns: make(map[string][]*pattern),
		cache:    lru.New(cacheSize),
	}
}

// AddSpec registers the non-blank, non-comment lines of lines as the pattern
// set anchored at baseRelpath ("." for the root).
func (r *Rules) AddSpec(baseRelpath string, lines []string) {
	var patterns []*pattern
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, parsePattern(line))
	}
	if len(patterns) > 0 {
		r.patterns[toPosixKey(baseRelpath)] = patterns
		r.cache.Clear()
	}
}

// LoadIfExists reads root/dirRelpath/.dropboxignore if present and adds it as
// a spec anchored at dirRelpath. I/O errors are swallowed; a file that can't
// be read behaves as if it were absent, matching §4.4's entry-level error
// policy (the caller is expected to have already surfaced a scan error for
// the directory itself if it was otherwise inaccessible).
func (r *Rules) LoadIfExists(root, dirRelpath string) {
	rel := ""
	if dirRelpath != "." {
		rel = dirRelpath
	}
	candidate := path.Join(root, rel, ignoreFileName)
	data, err := os.ReadFile(candidate)
	if err != nil {
		return
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	r.AddSpec(dirRelpath, lines)
}

func toPosixKey(relpath string) string {
	if relpath == "" {
		return "."
	}
	return relpath
}

// IsIgnored reports whether relpath (POSIX-form, relative to the scan root)
// is ignored given every pattern spec loaded at an ancestor of relpath.
func (r *Rules) IsIgnored(relpath string, isDir bool) bool {
	cacheKey := fmt.Sprintf("%t:%s", isDir, relpath)
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.(bool)
	}

	target := relpath
	if isDir && !strings.HasSuffix(target, "/") {
		target += "/"
	}

	ignored := false
	for _, ancestor := range ancestorsOf(relpath) {
		patterns, ok := r.patterns[ancestor]
		if !ok {
			continue
		}

		var localTarget string
		if ancestor == "." {
			localTarget = target
		} else {
			prefix := ancestor + "/"
			if !strings.HasPrefix(target, prefix) {
				continue
			}
			localTarget = target[len(prefix):]
		}

		if matched, verdict := matchPatterns(localTarget, isDir, patterns); matched {
			ignored = verdict
		}
	}

	r.cache.Add(cacheKey, ignored)
	return ignored
}

// matchPatterns evaluates patterns in order and returns the verdict of the
// last one that matched ("last match wins"), or (false, false) if none did.
func matchPatterns(localTarget string, isDir bool, patterns []*pattern) (matched, ignored bool) {
	for _, p := range patterns {
		if p.matches(localTarget, isDir) {
			matched = true
			ignored = !p.negated
		}
	}
	return matched, ignored
}

// ancestorsOf returns "." followed by every proper ancestor directory of
// relpath, in root-first order, matching the ancestor-distance evaluation
// order required by §4.2.
func ancestorsOf(relpath string) []string {
	ancestors := []string{"."}
	if relpath == "" || relpath == "." {
		return ancestors
	}
	parts := strings.Split(relpath, "/")
	for i := 1; i < len(parts); i++ {
		ancestors = append(ancestors, strings.Join(parts[:i], "/"))
	}
	return ancestors
}
