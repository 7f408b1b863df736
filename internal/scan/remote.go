package scan

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/dariosky/limsync/internal/model"
	"github.com/dariosky/limsync/internal/symlink"
)

// Session is the slice of an SSH exec session RemoteScan needs: a stdin pipe
// to feed the helper script, a stdout pipe to read its NDJSON events from,
// and a wait for the remote process' exit status. Grounded on the
// stdin/stdout pipe pairing of the teacher's agent transport Stream, adapted
// from a long-lived agent process down to a single one-shot helper
// invocation.
type Session interface {
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	Start(command string) error
	Wait() error
}

// SessionOpener opens a new exec session on a pooled SSH connection. It is a
// constructor parameter, mirroring the sshpool Dialer, so tests can inject a
// fake session instead of dialing a real host.
type SessionOpener func() (Session, error)

type remoteEvent struct {
	Event         string  `json:"event"`
	Relpath       string  `json:"relpath"`
	NodeType      string  `json:"node_type"`
	Size          int64   `json:"size"`
	MTimeNS       int64   `json:"mtime_ns"`
	Mode          uint32  `json:"mode"`
	LinkTarget    *string `json:"link_target"`
	LinkTargetKey *string `json:"link_target_key"`
	Owner         *string `json:"owner"`
	Group         *string `json:"group"`
	DirsScanned   int     `json:"dirs_scanned"`
	FilesSeen     int     `json:"files_seen"`
	Errors        int     `json:"errors"`
	Message       string  `json:"message"`
	Path          string  `json:"path"`
}

// RemoteScan opens a session via open, runs the embedded helper script
// against root (and optional subtree) on the remote host, and decodes its
// newline-delimited JSON event stream into a Result. A nonzero exit status
// after stdout has drained is surfaced as an error, with the last few error
// events concatenated, per §4.4.
func RemoteScan(open SessionOpener, root, home, stateDB, subtree string, progress Progress) (Result, error) {
	session, err := open()
	if err != nil {
		return Result{}, errors.Wrap(err, "unable to open remote scan session")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return Result{}, errors.Wrap(err, "unable to open helper stdin")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return Result{}, errors.Wrap(err, "unable to open helper stdout")
	}

	command := remoteHelperCommand(root, stateDB, subtree)
	if err := session.Start(command); err != nil {
		return Result{}, errors.Wrap(err, "unable to start remote helper")
	}

	go func() {
		io.WriteString(stdin, remoteHelperScript)
		stdin.Close()
	}()

	result := Result{Records: make(map[string]model.FileRecord)}
	var recentErrors []string

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var ev remoteEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}

		switch ev.Event {
		case "progress":
			if progress != nil {
				progress(ev.Relpath, ev.DirsScanned, ev.FilesSeen)
			}
		case "record":
			linkTargetKey := ev.LinkTargetKey
			if linkTargetKey == nil && ev.LinkTarget != nil {
				key := symlink.TargetCompareKey(root, home, ev.Relpath, ev.LinkTarget)
				linkTargetKey = &key
			}
			result.Records[ev.Relpath] = model.FileRecord{
				Relpath:       ev.Relpath,
				NodeType:      model.NodeType(ev.NodeType),
				Size:          ev.Size,
				MTimeNS:       ev.MTimeNS,
				Mode:          ev.Mode,
				LinkTarget:    ev.LinkTarget,
				LinkTargetKey: linkTargetKey,
				Owner:         ev.Owner,
				Group:         ev.Group,
			}
		case "error":
			msg := ev.Message
			if ev.Path != "" {
				msg = fmt.Sprintf("%s (%s)", msg, ev.Path)
			}
			result.Errors = append(result.Errors, msg)
			recentErrors = append(recentErrors, msg)
			if len(recentErrors) > 5 {
				recentErrors = recentErrors[1:]
			}
		case "done":
			result.DirsScanned = ev.DirsScanned
			result.FilesSeen = ev.FilesSeen
		}
	}

	waitErr := session.Wait()
	if waitErr != nil {
		return result, errors.Wrapf(waitErr, "remote helper failed: %s", strings.Join(recentErrors, "; "))
	}

	return result, nil
}

func remoteHelperCommand(root, stateDB, subtree string) string {
	cmd := fmt.Sprintf("python3 - --root %s --state-db %s --progress-interval 0.2", shellQuote(root), shellQuote(stateDB))
	if subtree != "" && subtree != "." {
		cmd += " --subtree " + shellQuote(subtree)
	}
	return cmd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// remoteHelperScript is a self-contained Python helper, inlining the ignore
// rule evaluator so it runs on hosts without limsync installed. It mirrors
// remote_helper.py's walk and event protocol.
const remoteHelperScript = `
from __future__ import annotations
import argparse, fnmatch, json, os, sqlite3, stat, sys, time
from pathlib import PurePosixPath

EXCLUDED_FOLDERS = {"node_modules", ".tox", ".venv", ".limsync", "__pycache__", ".pytest_cache", ".cache", ".ruff_cache"}
EXCLUDED_FILE_NAMES = {".DS_Store", "Icon\r"}


def emit(event):
    sys.stdout.write(json.dumps(event, ensure_ascii=True) + "\n")
    sys.stdout.flush()


def node_type(mode):
    if stat.S_ISDIR(mode):
        return "dir"
    if stat.S_ISLNK(mode):
        return "symlink"
    return "file"


def lstat_and_emit(full, relpath):
    try:
        st = os.lstat(full)
    except OSError as exc:
        emit({"event": "error", "message": str(exc), "path": full})
        return False
    ntype = node_type(st.st_mode)
    if ntype == "dir":
        return None
    link_target = None
    if ntype == "symlink":
        try:
            link_target = PurePosixPath(os.readlink(full)).as_posix()
        except OSError:
            link_target = None
    emit({
        "event": "record", "relpath": relpath, "node_type": ntype,
        "size": int(st.st_size), "mtime_ns": int(st.st_mtime_ns),
        "mode": int(stat.S_IMODE(st.st_mode)), "link_target": link_target,
        "link_target_key": None, "owner": None, "group": None,
    })
    return True


class IgnoreRules:
    def __init__(self):
        self._patterns = {}

    def _to_posix(self, p):
        return "." if str(p) == "." else p.as_posix()

    def add_spec(self, base_relpath, lines):
        patterns = [l.strip() for l in lines if l.strip() and not l.strip().startswith("#")]
        if patterns:
            self._patterns[self._to_posix(base_relpath)] = patterns

    def load_if_exists(self, root, dir_relpath):
        rel = "" if str(dir_relpath) == "." else dir_relpath.as_posix()
        candidate = os.path.join(root, rel, ".dropboxignore")
        if not os.path.isfile(candidate):
            return
        try:
            with open(candidate, encoding="utf-8", errors="replace") as f:
                lines = f.read().splitlines()
        except OSError:
            return
        self.add_spec(dir_relpath, lines)

    def _pattern_matches(self, local_target, pattern, anchored):
        target = local_target.rstrip("/")
        if anchored:
            return fnmatch.fnmatch(target, pattern)
        if "/" not in pattern:
            if fnmatch.fnmatch(target, pattern):
                return True
            return any(fnmatch.fnmatch(p, pattern) for p in target.split("/") if p)
        if fnmatch.fnmatch(target, pattern):
            return True
        parts = [p for p in target.split("/") if p]
        for idx in range(1, len(parts)):
            if fnmatch.fnmatch("/".join(parts[idx:]), pattern):
                return True
        return False

    def _match_patterns(self, local_target, is_dir, patterns):
        result = None
        for raw in patterns:
            negate = raw.startswith("!")
            pattern = raw[1:] if negate else raw
            if not pattern:
                continue
            dir_only = pattern.endswith("/")
            if dir_only:
                pattern = pattern.rstrip("/")
                if not is_dir:
                    continue
            anchored = pattern.startswith("/")
            if anchored:
                pattern = pattern.lstrip("/")
            if self._pattern_matches(local_target, pattern, anchored):
                result = not negate
        return result

    def is_ignored(self, relpath, is_dir):
        target = relpath.as_posix()
        if is_dir and not target.endswith("/"):
            target = target + "/"
        ancestors = [PurePosixPath(".")]
        parts = relpath.parts
        for idx in range(len(parts) - 1):
            ancestors.append(PurePosixPath(*parts[: idx + 1]))
        ignored = False
        for ancestor in ancestors:
            anc_key = self._to_posix(ancestor)
            patterns = self._patterns.get(anc_key)
            if not patterns:
                continue
            if anc_key == ".":
                local_target = target
            else:
                prefix = anc_key + "/"
                if not target.startswith(prefix):
                    continue
                local_target = target[len(prefix):]
            matched = self._match_patterns(local_target, is_dir, patterns)
            if matched is not None:
                ignored = matched
        return ignored


def run_scan(root_arg, state_db, progress_interval, subtree=None):
    root = os.path.abspath(os.path.expanduser(root_arg))
    home = os.path.abspath(os.path.expanduser("~"))
    if not os.path.isdir(root):
        emit({"event": "error", "message": "Root not found: " + root})
        return 2

    rules = IgnoreRules()
    subtree_rel = PurePosixPath(".") if not subtree or subtree in (".", "") else PurePosixPath(subtree)
    rules.load_if_exists(root, PurePosixPath("."))
    if subtree_rel != PurePosixPath("."):
        current = PurePosixPath(".")
        for part in subtree_rel.parts[:-1]:
            current = PurePosixPath(part) if current == PurePosixPath(".") else current / part
            rules.load_if_exists(root, current)

    dirs_scanned = 0
    files_seen = 0
    errors = 0
    last_progress = 0.0
    start_root = root
    if subtree_rel != PurePosixPath("."):
        start_root = os.path.join(root, subtree_rel.as_posix())
        if os.path.lexists(start_root) and (os.path.islink(start_root) or not os.path.isdir(start_root)):
            start_root = os.path.dirname(start_root)

    for current_dir, dirs, files in os.walk(start_root, topdown=True, followlinks=False):
        rel_dir = os.path.relpath(os.path.abspath(current_dir), root)
        rel_posix = PurePosixPath("." if rel_dir == "." else rel_dir.replace(os.sep, "/"))
        dirs_scanned += 1
        now = time.monotonic()
        if (now - last_progress) >= progress_interval:
            emit({"event": "progress", "relpath": rel_posix.as_posix(), "dirs_scanned": dirs_scanned, "files_seen": files_seen})
            last_progress = now

        rules.load_if_exists(root, rel_posix)
        kept = []
        for d in dirs:
            if d in EXCLUDED_FOLDERS:
                continue
            child = PurePosixPath(d) if rel_posix == PurePosixPath(".") else rel_posix / d
            if rules.is_ignored(child, is_dir=True):
                continue
            full = os.path.join(os.path.abspath(current_dir), d)
            if os.path.islink(full):
                # os.walk buckets entries into dirs/files using entry.is_dir(),
                # which follows symlinks regardless of the followlinks=False
                # passed to os.walk itself (that flag only controls recursion).
                # Without this guard a live directory symlink would end up in
                # dirs and never get lstat'd or recorded at all. Treat it like
                # a file: lstat, emit as a symlink record, don't recurse.
                outcome = lstat_and_emit(full, child.as_posix())
                if outcome is True:
                    files_seen += 1
                elif outcome is False:
                    errors += 1
                continue
            kept.append(d)
        dirs[:] = kept

        for fn in files:
            if fn in EXCLUDED_FILE_NAMES:
                continue
            child = PurePosixPath(fn) if rel_posix == PurePosixPath(".") else rel_posix / fn
            if rules.is_ignored(child, is_dir=False):
                continue
            full = os.path.join(os.path.abspath(current_dir), fn)
            outcome = lstat_and_emit(full, child.as_posix())
            if outcome is True:
                files_seen += 1
            elif outcome is False:
                errors += 1

    emit({"event": "done", "root": root, "dirs_scanned": dirs_scanned, "files_seen": files_seen, "errors": errors})
    return 0


def main():
    parser = argparse.ArgumentParser()
    parser.add_argument("--root", required=True)
    parser.add_argument("--state-db", default=".limsync/state.sqlite3")
    parser.add_argument("--progress-interval", type=float, default=0.2)
    parser.add_argument("--subtree", default=None)
    args = parser.parse_args()
    sys.exit(run_scan(args.root, args.state_db, args.progress_interval, args.subtree))


if __name__ == "__main__":
    main()
`
