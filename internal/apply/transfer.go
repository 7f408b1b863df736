package apply

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// copyBetween transfers relpath's bytes from src to dst, selecting the most
// efficient path per §4.10. This is the one place in the package that knows
// about concrete Side implementations; everything else is written against
// the Side interface.
func copyBetween(src, dst Side, relpath string, settings Settings) error {
	srcLocal, srcIsLocal := src.(*LocalSide)
	dstLocal, dstIsLocal := dst.(*LocalSide)

	switch {
	case srcIsLocal && dstIsLocal:
		return bufferedCopy(srcLocal, dstLocal, relpath)
	case srcIsLocal && !dstIsLocal:
		return sftpPut(srcLocal, dst.(*RemoteSide), relpath, settings.SFTPPutConfirm)
	case !srcIsLocal && dstIsLocal:
		return sftpGet(src.(*RemoteSide), dstLocal, relpath)
	default:
		return remoteToRemote(src.(*RemoteSide), dst.(*RemoteSide), relpath)
	}
}

func bufferedCopy(src, dst Side, relpath string) error {
	r, err := src.OpenRead(relpath)
	if err != nil {
		return errors.Wrap(err, "unable to open source for read")
	}
	defer r.Close()

	w, err := dst.OpenWrite(relpath)
	if err != nil {
		return errors.Wrap(err, "unable to open destination for write")
	}
	defer w.Close()

	if _, err := io.Copy(w, r); err != nil {
		return errors.Wrap(err, "unable to copy file contents")
	}
	return nil
}

// sftpPut uploads relpath from src to dst. When confirm is set (§4.10's
// ApplySettings.SFTPPutConfirm) it re-stats both sides afterward and fails
// the operation if the written size doesn't match the source, catching a
// put that was accepted by the SFTP server but truncated in transit.
func sftpPut(src *LocalSide, dst *RemoteSide, relpath string, confirm bool) error {
	if err := bufferedCopy(src, dst, relpath); err != nil {
		return err
	}
	if !confirm {
		return nil
	}
	return confirmPutSize(src, dst, relpath)
}

func confirmPutSize(src, dst Side, relpath string) error {
	srcStat, err := src.Stat(relpath)
	if err != nil {
		return errors.Wrap(err, "unable to stat source for put confirmation")
	}
	dstStat, err := dst.Stat(relpath)
	if err != nil {
		return errors.Wrap(err, "unable to stat destination for put confirmation")
	}
	if dstStat.Size != srcStat.Size {
		return errors.Errorf("put confirmation failed: wrote %d bytes, destination reports %d", srcStat.Size, dstStat.Size)
	}
	return nil
}

func sftpGet(src *RemoteSide, dst *LocalSide, relpath string) error {
	if err := bufferedCopy(src, dst, relpath); err != nil {
		return err
	}
	return nil
}

// remoteToRemote routes through a process-local temporary file: SFTP get
// from src, then SFTP put to dst, deleting the temp file on every exit path,
// per §4.10's remote→remote transfer path.
func remoteToRemote(src, dst *RemoteSide, relpath string) error {
	tmpPath := filepath.Join(os.TempDir(), "limsync-xfer-"+uuid.New().String())
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "unable to create temporary transfer file")
	}
	defer os.Remove(tmpPath)

	r, err := src.OpenRead(relpath)
	if err != nil {
		tmp.Close()
		return errors.Wrap(err, "unable to open remote source for read")
	}
	_, copyErr := io.Copy(tmp, r)
	r.Close()
	closeErr := tmp.Close()
	if copyErr != nil {
		return errors.Wrap(copyErr, "unable to stage remote source")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "unable to finalize staged transfer file")
	}

	staged, err := os.Open(tmpPath)
	if err != nil {
		return errors.Wrap(err, "unable to reopen staged transfer file")
	}
	defer staged.Close()

	w, err := dst.OpenWrite(relpath)
	if err != nil {
		return errors.Wrap(err, "unable to open remote destination for write")
	}
	defer w.Close()

	if _, err := io.Copy(w, staged); err != nil {
		return errors.Wrap(err, "unable to upload staged transfer file")
	}
	return nil
}
