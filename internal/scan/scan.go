// Package scan implements C4 (§4.4): walking an endpoint root into a
// relpath -> FileRecord map. LocalScan is grounded on the recursive,
// struct-based walker of pkg/synchronization/core's scanner, simplified down
// from mutagen's full content-hashing scan to limsync's metadata-only
// records. RemoteScan is grounded on remote_helper.py's newline-delimited
// JSON event protocol.
package scan

import (
	"os"
	"path"
	"time"

	"github.com/pkg/errors"

	"github.com/dariosky/limsync/internal/ignore"
	"github.com/dariosky/limsync/internal/model"
	"github.com/dariosky/limsync/internal/pathnorm"
	"github.com/dariosky/limsync/internal/symlink"
)

// excludedFolders is the hard-coded directory exclude set of §4.4.
var excludedFolders = map[string]bool{
	"node_modules":    true,
	".tox":            true,
	".venv":           true,
	".limsync":        true,
	"__pycache__":     true,
	".pytest_cache":   true,
	".cache":          true,
	".ruff_cache":     true,
}

// excludedFileNames is the hard-coded file exclude set of §4.4.
var excludedFileNames = map[string]bool{
	".DS_Store": true,
	"Icon\r":    true,
}

// progressThrottle is the minimum interval between progress callback
// invocations, per §4.4's "at most every 200 ms".
const progressThrottle = 200 * time.Millisecond

// Progress is invoked at most every 200ms during a scan.
type Progress func(currentRelpath string, dirsScanned, filesSeen int)

// Result is the outcome of a single scan.
type Result struct {
	Records     map[string]model.FileRecord
	DirsScanned int
	FilesSeen   int
	// Errors holds per-entry failures (lstat errors, unreadable directories)
	// that were reported but did not fail the scan.
	Errors []string
}

type localScanner struct {
	root        string
	home        string
	rules       *ignore.Rules
	progress    Progress
	lastReport  time.Time
	dirsScanned int
	filesSeen   int
	errs        []string
	records     map[string]model.FileRecord
}

// LocalScan walks root depth-first, top-down, loading nested .dropboxignore
// files and excluding the hard-coded folder/file sets. A missing root is a
// fatal error; individual lstat failures are appended to Result.Errors
// instead of aborting the scan.
func LocalScan(root string, subtree string, progress Progress) (Result, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return Result{}, errors.Errorf("root not found: %s", root)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = root
	}

	rules := ignore.New(0)
	subtreeRel := normalizeSubtree(subtree)
	primeRulesForSubtree(rules, root, subtreeRel)

	s := &localScanner{
		root:     root,
		home:     home,
		rules:    rules,
		progress: progress,
		records:  make(map[string]model.FileRecord),
	}

	startDir := root
	startRel := "."
	if subtreeRel != "." {
		candidate := path.Join(root, subtreeRel)
		cinfo, cerr := os.Lstat(candidate)
		switch {
		case cerr != nil:
			return Result{Records: s.records, DirsScanned: 0, FilesSeen: 0}, nil
		case cinfo.IsDir():
			startDir = candidate
			startRel = subtreeRel
		default:
			startDir = path.Dir(candidate)
			startRel = path.Dir(subtreeRel)
		}
	}

	if err := s.walk(startDir, startRel); err != nil {
		return Result{}, err
	}

	return Result{
		Records:     s.records,
		DirsScanned: s.dirsScanned,
		FilesSeen:   s.filesSeen,
		Errors:      s.errs,
	}, nil
}

func normalizeSubtree(subtree string) string {
	if subtree == "" || subtree == "." {
		return "."
	}
	return path.Clean(subtree)
}

// primeRulesForSubtree loads .dropboxignore at root and at every ancestor
// directory between root and subtree, per §4.4's "ancestor .dropboxignore
// files ... are still loaded before the walk begins".
func primeRulesForSubtree(rules *ignore.Rules, root, subtreeRel string) {
	rules.LoadIfExists(root, ".")
	if subtreeRel == "." {
		return
	}
	parts := splitNonEmpty(subtreeRel)
	current := "."
	for _, part := range parts[:len(parts)-1] {
		if current == "." {
			current = part
		} else {
			current = current + "/" + part
		}
		rules.LoadIfExists(root, current)
	}
}

func splitNonEmpty(p string) []string {
	var parts []string
	for _, seg := range pathSplit(p) {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}

func pathSplit(p string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			parts = append(parts, p[start:i])
			start = i + 1
		}
	}
	parts = append(parts, p[start:])
	return parts
}

// walk recurses into dirAbs (whose POSIX-form relpath from root is dirRel),
// never following directory symlinks.
func (s *localScanner) walk(dirAbs, dirRel string) error {
	s.dirsScanned++
	s.maybeReportProgress(dirRel)
	s.rules.LoadIfExists(s.root, dirRel)

	entries, err := os.ReadDir(dirAbs)
	if err != nil {
		s.errs = append(s.errs, err.Error())
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		childRel := name
		if dirRel != "." {
			childRel = dirRel + "/" + name
		}
		childAbs := path.Join(dirAbs, name)

		info, err := os.Lstat(childAbs)
		if err != nil {
			s.errs = append(s.errs, err.Error())
			continue
		}

		// A directory symlink is recorded as a symlink below, never
		// recursed into, per §4.4's "not following directory symlinks".
		if info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			if excludedFolders[name] {
				continue
			}
			if s.rules.IsIgnored(childRel, true) {
				continue
			}
			if err := s.walk(childAbs, childRel); err != nil {
				return err
			}
			continue
		}

		if excludedFileNames[name] {
			continue
		}
		if s.rules.IsIgnored(childRel, false) {
			continue
		}

		s.emitEntry(childAbs, childRel, info)
	}

	return nil
}

func (s *localScanner) maybeReportProgress(relpath string) {
	if s.progress == nil {
		return
	}
	now := time.Now()
	if s.lastReport.IsZero() || now.Sub(s.lastReport) >= progressThrottle {
		s.progress(relpath, s.dirsScanned, s.filesSeen)
		s.lastReport = now
	}
}

func (s *localScanner) emitEntry(absPath, relpath string, info os.FileInfo) {
	nodeType := classify(info)
	s.filesSeen++

	record := model.FileRecord{
		Relpath:  pathnorm.Text(relpath),
		NodeType: nodeType,
		Size:     info.Size(),
		MTimeNS:  mtimeNS(absPath, info),
		Mode:     uint32(info.Mode().Perm()),
	}

	if nodeType == model.Symlink {
		target, err := os.Readlink(absPath)
		if err != nil {
			s.errs = append(s.errs, err.Error())
		} else {
			normalized := pathnorm.Text(target)
			key := symlink.TargetCompareKey(s.root, s.home, relpath, &normalized)
			record.LinkTarget = &normalized
			record.LinkTargetKey = &key
		}
	}

	s.records[record.Relpath] = record
}

func classify(info os.FileInfo) model.NodeType {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return model.Symlink
	case info.IsDir():
		return model.Directory
	default:
		return model.File
	}
}

