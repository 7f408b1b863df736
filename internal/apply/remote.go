package apply

import (
	"io"
	"os"
	"path"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
)

// knownDirsCacheSize bounds the per-invocation "known remote directories"
// cache; an apply run touching more distinct parent directories than this
// simply re-issues a MkdirAll for the evicted ones, which is idempotent.
const knownDirsCacheSize = 4096

// sftpClient is the slice of *github.com/pkg/sftp.Client RemoteSide depends
// on. *sftp.Client's Open/Create return *sftp.File, which already satisfies
// io.ReadWriteCloser; wrapping it behind this interface (via sftpAdapter)
// lets tests inject a fake instead of dialing a real SSH host.
type sftpClient interface {
	Lstat(p string) (os.FileInfo, error)
	Stat(p string) (os.FileInfo, error)
	ReadLink(p string) (string, error)
	Symlink(target, linkname string) error
	Remove(p string) error
	OpenRead(p string) (io.ReadCloser, error)
	OpenWrite(p string) (io.WriteCloser, error)
	Chmod(p string, mode os.FileMode) error
	Chtimes(p string, atime, mtime time.Time) error
	MkdirAll(p string) error
}

// RemoteSide implements Side over an SFTP session, grounded on
// planner_apply.py's sftp.* calls for the remote half of every operation.
// Remote parent directory creation consults knownDirs to avoid a redundant
// stat round trip per §4.10's "per-SFTP-handle known directories set".
type RemoteSide struct {
	sftp      sftpClient
	root      string
	home      string
	user      string
	host      string
	port      int
	knownDirs *lru.Cache
}

// NewRemoteSide returns a RemoteSide rooted at root, backed by client.
func NewRemoteSide(client sftpClient, root, home, user, host string, port int) *RemoteSide {
	normalizedRoot := path.Clean(root)
	knownDirs := lru.New(knownDirsCacheSize)
	knownDirs.Add("/", true)
	knownDirs.Add(normalizedRoot, true)
	return &RemoteSide{
		sftp:      client,
		root:      normalizedRoot,
		home:      home,
		user:      user,
		host:      host,
		port:      port,
		knownDirs: knownDirs,
	}
}

func (s *RemoteSide) abs(relpath string) string {
	if relpath == "" || relpath == "." {
		return s.root
	}
	return path.Join(s.root, relpath)
}

func (s *RemoteSide) Root() string { return s.root }
func (s *RemoteSide) Home() string { return s.home }

func (s *RemoteSide) Lstat(relpath string) (Stat, error) {
	info, err := s.sftp.Lstat(s.abs(relpath))
	if err != nil {
		return Stat{}, err
	}
	return statFromFileInfo(info), nil
}

func (s *RemoteSide) Stat(relpath string) (Stat, error) {
	info, err := s.sftp.Stat(s.abs(relpath))
	if err != nil {
		return Stat{}, err
	}
	return statFromFileInfo(info), nil
}

func (s *RemoteSide) Readlink(relpath string) (string, error) {
	return s.sftp.ReadLink(s.abs(relpath))
}

func (s *RemoteSide) Symlink(target, relpath string) error {
	p := s.abs(relpath)
	// Swallow the removal error unconditionally, matching
	// _remove_remote_if_exists: a missing prior entry is not a failure.
	_ = s.sftp.Remove(p)
	return s.sftp.Symlink(target, p)
}

func (s *RemoteSide) Remove(relpath string) error {
	return s.sftp.Remove(s.abs(relpath))
}

func (s *RemoteSide) OpenRead(relpath string) (io.ReadCloser, error) {
	return s.sftp.OpenRead(s.abs(relpath))
}

func (s *RemoteSide) OpenWrite(relpath string) (io.WriteCloser, error) {
	return s.sftp.OpenWrite(s.abs(relpath))
}

func (s *RemoteSide) Chmod(relpath string, mode uint32) error {
	return s.sftp.Chmod(s.abs(relpath), os.FileMode(mode))
}

// SetTimes truncates to second precision: SFTP's SETSTAT only exposes
// second-level utime, matching planner_apply.py's comment that "ns precision
// is not available" over SFTP.
func (s *RemoteSide) SetTimes(relpath string, atimeNS, mtimeNS int64) error {
	p := s.abs(relpath)
	return s.sftp.Chtimes(p, time.Unix(atimeNS/1_000_000_000, 0), time.Unix(mtimeNS/1_000_000_000, 0))
}

func (s *RemoteSide) EnsureParent(relpath string) error {
	dir := path.Dir(s.abs(relpath))
	if _, ok := s.knownDirs.Get(dir); ok {
		return nil
	}
	if err := s.sftp.MkdirAll(dir); err != nil {
		return errors.Wrapf(err, "unable to create remote parent directory %s", dir)
	}
	s.knownDirs.Add(dir, true)
	return nil
}
