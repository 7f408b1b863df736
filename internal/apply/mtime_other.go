//go:build !linux

package apply

import "os"

// mtimeNS falls back to os.FileInfo's own modification time on platforms
// where the raw Stat_t layout isn't handled by mtime_unix.go.
func mtimeNS(absPath string, info os.FileInfo) int64 {
	return info.ModTime().UnixNano()
}
