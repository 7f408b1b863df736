//go:build linux

package scan

import (
	"os"

	"golang.org/x/sys/unix"
)

// mtimeNS extracts the modification time at nanosecond precision via a raw
// lstat, mirroring pkg/filesystem's syscall_times_posix.go: os.FileInfo's
// ModTime rounds to whatever resolution the runtime's stat wrapper chooses,
// while unix.Stat_t's Mtim carries the kernel's own precision directly.
func mtimeNS(absPath string, info os.FileInfo) int64 {
	var stat unix.Stat_t
	if err := unix.Lstat(absPath, &stat); err != nil {
		return info.ModTime().UnixNano()
	}
	return stat.Mtim.Sec*1_000_000_000 + stat.Mtim.Nsec
}
