package apply

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// LocalSide implements Side against the local filesystem, grounded on
// planner_apply.py's direct os.* calls for the local half of every
// operation.
type LocalSide struct {
	root string
	home string
}

// NewLocalSide returns a LocalSide rooted at root.
func NewLocalSide(root, home string) *LocalSide {
	return &LocalSide{root: root, home: home}
}

func (s *LocalSide) abs(relpath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relpath))
}

func (s *LocalSide) Root() string { return s.root }
func (s *LocalSide) Home() string { return s.home }

func (s *LocalSide) Lstat(relpath string) (Stat, error) {
	abs := s.abs(relpath)
	info, err := os.Lstat(abs)
	if err != nil {
		return Stat{}, err
	}
	stat := statFromFileInfo(info)
	stat.MTimeNS = mtimeNS(abs, info)
	return stat, nil
}

func (s *LocalSide) Stat(relpath string) (Stat, error) {
	abs := s.abs(relpath)
	info, err := os.Stat(abs)
	if err != nil {
		return Stat{}, err
	}
	stat := statFromFileInfo(info)
	stat.MTimeNS = mtimeNS(abs, info)
	return stat, nil
}

func statFromFileInfo(info os.FileInfo) Stat {
	return Stat{
		Mode:      uint32(info.Mode().Perm()),
		Size:      info.Size(),
		MTimeNS:   info.ModTime().UnixNano(),
		IsSymlink: info.Mode()&os.ModeSymlink != 0,
	}
}

func (s *LocalSide) Readlink(relpath string) (string, error) {
	return os.Readlink(s.abs(relpath))
}

func (s *LocalSide) Symlink(target, relpath string) error {
	path := s.abs(relpath)
	if err := removeIfExists(path); err != nil {
		return err
	}
	return os.Symlink(target, path)
}

func removeIfExists(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Remove(path)
}

func (s *LocalSide) Remove(relpath string) error {
	return os.Remove(s.abs(relpath))
}

func (s *LocalSide) OpenRead(relpath string) (io.ReadCloser, error) {
	return os.Open(s.abs(relpath))
}

func (s *LocalSide) OpenWrite(relpath string) (io.WriteCloser, error) {
	return os.Create(s.abs(relpath))
}

func (s *LocalSide) Chmod(relpath string, mode uint32) error {
	return os.Chmod(s.abs(relpath), os.FileMode(mode))
}

func (s *LocalSide) SetTimes(relpath string, atimeNS, mtimeNS int64) error {
	path := s.abs(relpath)
	return os.Chtimes(path, time.Unix(0, atimeNS), time.Unix(0, mtimeNS))
}

// EnsureParent creates relpath's parent directory chain if missing. Local
// directory creation is cheap and idempotent via MkdirAll; no "known
// directories" cache is needed here (that optimization only matters for
// RemoteSide's per-call SFTP round trips).
func (s *LocalSide) EnsureParent(relpath string) error {
	dir := filepath.Dir(s.abs(relpath))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create parent directory %s", dir)
	}
	return nil
}
