// Package apply implements C10 (§4.10): executing an ordered plan of
// PlanOperations against a source/destination endpoint pair. Grounded on
// planner_apply.py's execute_plan, generalized from that source's
// local<->remote-only branching to the four-transfer-path capability-trait
// design of §4.10: every operation in the loop is written against the Side
// interface, and only copy_between knows about the concrete local/remote
// pairing.
package apply

import (
	"io"
)

// Stat is the side-agnostic subset of filesystem metadata the apply engine
// needs, mirroring the fields planner_apply.py reads off os.stat_result and
// paramiko's SFTPAttributes.
type Stat struct {
	Mode      uint32
	Size      int64
	MTimeNS   int64
	IsSymlink bool
}

// Side is the capability set of §4.10: {lstat, stat, readlink, symlink,
// remove, open_read, open_write, chmod, set_times, ensure_parent}. LocalSide
// and RemoteSide are its two variants; the apply loop never branches on
// which one it holds except inside copy_between.
type Side interface {
	Lstat(relpath string) (Stat, error)
	Stat(relpath string) (Stat, error)
	Readlink(relpath string) (string, error)
	Symlink(target, relpath string) error
	Remove(relpath string) error
	OpenRead(relpath string) (io.ReadCloser, error)
	OpenWrite(relpath string) (io.WriteCloser, error)
	Chmod(relpath string, mode uint32) error
	SetTimes(relpath string, atimeNS, mtimeNS int64) error
	EnsureParent(relpath string) error

	// Root and Home are needed by map_symlink_target_for_destination, which
	// must reason about both endpoints' roots regardless of which is local.
	Root() string
	Home() string
}
