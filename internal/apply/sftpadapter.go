package apply

import (
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
)

// sftpAdapter wraps a real *sftp.Client so it satisfies sftpClient: its
// Open/Create return *sftp.File, which implements io.ReadWriteCloser, but
// Go's structural typing needs the method signatures spelled out in terms
// of the narrower interfaces RemoteSide depends on.
type sftpAdapter struct {
	client *sftp.Client
}

// NewSFTPAdapter returns an sftpClient backed by a live SFTP session,
// suitable for NewRemoteSide in production; tests construct RemoteSide
// against a fake sftpClient directly instead.
func NewSFTPAdapter(client *sftp.Client) sftpClient {
	return &sftpAdapter{client: client}
}

func (a *sftpAdapter) Lstat(p string) (os.FileInfo, error) { return a.client.Lstat(p) }
func (a *sftpAdapter) Stat(p string) (os.FileInfo, error)  { return a.client.Stat(p) }
func (a *sftpAdapter) ReadLink(p string) (string, error)   { return a.client.ReadLink(p) }
func (a *sftpAdapter) Symlink(target, linkname string) error {
	return a.client.Symlink(target, linkname)
}
func (a *sftpAdapter) Remove(p string) error { return a.client.Remove(p) }
func (a *sftpAdapter) OpenRead(p string) (io.ReadCloser, error) {
	return a.client.Open(p)
}
func (a *sftpAdapter) OpenWrite(p string) (io.WriteCloser, error) {
	return a.client.Create(p)
}
func (a *sftpAdapter) Chmod(p string, mode os.FileMode) error { return a.client.Chmod(p, mode) }
func (a *sftpAdapter) Chtimes(p string, atime, mtime time.Time) error {
	return a.client.Chtimes(p, atime, mtime)
}
func (a *sftpAdapter) MkdirAll(p string) error { return a.client.MkdirAll(p) }
