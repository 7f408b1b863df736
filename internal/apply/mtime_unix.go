//go:build linux

package apply

import (
	"os"

	"golang.org/x/sys/unix"
)

// mtimeNS extracts the modification time at nanosecond precision via a raw
// lstat, the same approach internal/scan uses, so a file's recorded mtime
// during scan matches what LocalSide reads back before comparing or copying.
func mtimeNS(absPath string, info os.FileInfo) int64 {
	var stat unix.Stat_t
	if err := unix.Lstat(absPath, &stat); err != nil {
		return info.ModTime().UnixNano()
	}
	return stat.Mtim.Sec*1_000_000_000 + stat.Mtim.Nsec
}
