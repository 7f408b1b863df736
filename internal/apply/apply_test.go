package apply

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dariosky/limsync/internal/model"
)

func writeFile(t *testing.T, root, relpath, contents string) {
	t.Helper()
	p := filepath.Join(root, relpath)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFile(t *testing.T, root, relpath string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, relpath))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestExecuteCopyRightTransfersContentModeAndTime(t *testing.T) {
	leftRoot := t.TempDir()
	rightRoot := t.TempDir()
	writeFile(t, leftRoot, "a.txt", "hello")
	if err := os.Chmod(filepath.Join(leftRoot, "a.txt"), 0o640); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	left := NewLocalSide(leftRoot, leftRoot)
	right := NewLocalSide(rightRoot, rightRoot)

	ops := []model.PlanOperation{{Kind: model.CopyRight, Relpath: "a.txt"}}
	result := Execute(left, right, ops, Settings{}, nil)

	if result.SucceededOperations != 1 {
		t.Fatalf("expected 1 success, got %d errors=%v", result.SucceededOperations, result.Errors)
	}
	if !result.CompletedPaths["a.txt"] {
		t.Fatalf("expected a.txt to be completed")
	}
	if got := readFile(t, rightRoot, "a.txt"); got != "hello" {
		t.Fatalf("content mismatch: %q", got)
	}

	info, err := os.Stat(filepath.Join(rightRoot, "a.txt"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("expected mode 0640, got %o", info.Mode().Perm())
	}
}

func TestExecuteCopyLeftRecreatesSymlinkWithMappedTarget(t *testing.T) {
	leftRoot := t.TempDir()
	rightRoot := t.TempDir()
	writeFile(t, rightRoot, "dir/target.txt", "x")
	if err := os.Symlink("target.txt", filepath.Join(rightRoot, "dir/link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	left := NewLocalSide(leftRoot, leftRoot)
	right := NewLocalSide(rightRoot, rightRoot)

	ops := []model.PlanOperation{{Kind: model.CopyLeft, Relpath: "dir/link"}}
	result := Execute(left, right, ops, Settings{}, nil)
	if result.SucceededOperations != 1 {
		t.Fatalf("expected success, errors=%v", result.Errors)
	}

	target, err := os.Readlink(filepath.Join(leftRoot, "dir/link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "target.txt" {
		t.Fatalf("expected relative target.txt, got %q", target)
	}
}

func TestExecuteDeleteLeftAndDeleteRightUnlinkOnly(t *testing.T) {
	leftRoot := t.TempDir()
	rightRoot := t.TempDir()
	writeFile(t, leftRoot, "gone.txt", "x")
	writeFile(t, rightRoot, "alsogone.txt", "y")

	left := NewLocalSide(leftRoot, leftRoot)
	right := NewLocalSide(rightRoot, rightRoot)

	ops := []model.PlanOperation{
		{Kind: model.DeleteLeft, Relpath: "gone.txt"},
		{Kind: model.DeleteRight, Relpath: "alsogone.txt"},
	}
	result := Execute(left, right, ops, Settings{}, nil)
	if result.SucceededOperations != 2 {
		t.Fatalf("expected 2 successes, errors=%v", result.Errors)
	}
	if _, err := os.Stat(filepath.Join(leftRoot, "gone.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected gone.txt removed, err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(rightRoot, "alsogone.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected alsogone.txt removed, err=%v", err)
	}
}

func TestExecuteMetadataUpdateBothQueuedUsesStricterValues(t *testing.T) {
	leftRoot := t.TempDir()
	rightRoot := t.TempDir()
	writeFile(t, leftRoot, "m.txt", "x")
	writeFile(t, rightRoot, "m.txt", "x")

	olderTime := time.Unix(1_000_000, 0)
	newerTime := time.Unix(2_000_000, 0)
	if err := os.Chtimes(filepath.Join(leftRoot, "m.txt"), olderTime, olderTime); err != nil {
		t.Fatalf("chtimes left: %v", err)
	}
	if err := os.Chtimes(filepath.Join(rightRoot, "m.txt"), newerTime, newerTime); err != nil {
		t.Fatalf("chtimes right: %v", err)
	}
	if err := os.Chmod(filepath.Join(leftRoot, "m.txt"), 0o600); err != nil {
		t.Fatalf("chmod left: %v", err)
	}
	if err := os.Chmod(filepath.Join(rightRoot, "m.txt"), 0o644); err != nil {
		t.Fatalf("chmod right: %v", err)
	}

	left := NewLocalSide(leftRoot, leftRoot)
	right := NewLocalSide(rightRoot, rightRoot)

	ops := []model.PlanOperation{
		{Kind: model.MetadataUpdateLeft, Relpath: "m.txt"},
		{Kind: model.MetadataUpdateRight, Relpath: "m.txt"},
	}
	result := Execute(left, right, ops, Settings{}, nil)
	if result.SucceededOperations != 2 {
		t.Fatalf("expected 2 successes, errors=%v", result.Errors)
	}

	leftInfo, err := os.Stat(filepath.Join(leftRoot, "m.txt"))
	if err != nil {
		t.Fatalf("stat left: %v", err)
	}
	rightInfo, err := os.Stat(filepath.Join(rightRoot, "m.txt"))
	if err != nil {
		t.Fatalf("stat right: %v", err)
	}

	if leftInfo.Mode().Perm() != 0o600 {
		t.Fatalf("expected left mode stricter 0600, got %o", leftInfo.Mode().Perm())
	}
	if rightInfo.Mode().Perm() != 0o600 {
		t.Fatalf("expected right mode stricter 0600, got %o", rightInfo.Mode().Perm())
	}
	if !leftInfo.ModTime().Equal(olderTime) {
		t.Fatalf("expected left mtime stricter (older), got %v", leftInfo.ModTime())
	}
	if !rightInfo.ModTime().Equal(olderTime) {
		t.Fatalf("expected right mtime stricter (older), got %v", rightInfo.ModTime())
	}
}

func TestExecuteFailureFormatsMessageAndExcludesPathFromCompleted(t *testing.T) {
	leftRoot := t.TempDir()
	rightRoot := t.TempDir()

	left := NewLocalSide(leftRoot, leftRoot)
	right := NewLocalSide(rightRoot, rightRoot)

	ops := []model.PlanOperation{{Kind: model.CopyRight, Relpath: "missing.txt"}}
	result := Execute(left, right, ops, Settings{}, nil)

	if result.SucceededOperations != 0 {
		t.Fatalf("expected 0 successes")
	}
	if result.CompletedPaths["missing.txt"] {
		t.Fatalf("missing.txt should not be completed")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}
	want := "copy_right missing.txt: "
	if len(result.Errors[0]) < len(want) || result.Errors[0][:len(want)] != want {
		t.Fatalf("error message prefix mismatch: %q", result.Errors[0])
	}
}

func TestExecuteUnsupportedOperationKindIsRecordedNotFatal(t *testing.T) {
	leftRoot := t.TempDir()
	rightRoot := t.TempDir()

	left := NewLocalSide(leftRoot, leftRoot)
	right := NewLocalSide(rightRoot, rightRoot)

	ops := []model.PlanOperation{{Kind: model.PlanOperationKind("future_kind"), Relpath: "x"}}
	result := Execute(left, right, ops, Settings{}, nil)

	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}
	if result.Errors[0] != "future_kind x: unsupported operation kind: future_kind" {
		t.Fatalf("unexpected error: %q", result.Errors[0])
	}
}

func TestProgressCallbackFiresOnFailureAndOnCompletion(t *testing.T) {
	leftRoot := t.TempDir()
	rightRoot := t.TempDir()
	writeFile(t, leftRoot, "ok.txt", "x")

	left := NewLocalSide(leftRoot, leftRoot)
	right := NewLocalSide(rightRoot, rightRoot)

	ops := []model.PlanOperation{
		{Kind: model.CopyRight, Relpath: "missing.txt"},
		{Kind: model.CopyRight, Relpath: "ok.txt"},
	}

	var calls []bool
	Execute(left, right, ops, Settings{ProgressEmitEveryOps: 100, ProgressEmitEveryMS: 100_000}, func(done, total int, op model.PlanOperation, ok bool, opErr error) {
		calls = append(calls, ok)
	})

	if len(calls) != 2 {
		t.Fatalf("expected progress to fire on the failure and on the final op, got %d calls", len(calls))
	}
	if calls[0] != false {
		t.Fatalf("expected first emit to report failure")
	}
	if calls[1] != true {
		t.Fatalf("expected final emit (total reached) to report success")
	}
}

// fakeSFTP is a minimal in-memory sftpClient for exercising RemoteSide's
// code paths without a real SSH/SFTP connection.
type fakeSFTP struct {
	files map[string][]byte
	modes map[string]os.FileMode
	times map[string]time.Time
	links map[string]string
	dirs  map[string]bool

	// truncateWritesTo, when non-zero, simulates a put that silently drops
	// bytes in transit: OpenWrite's Close stores only this many bytes
	// regardless of what was written, so a confirming re-stat catches it.
	truncateWritesTo int
}

func newFakeSFTP() *fakeSFTP {
	return &fakeSFTP{
		files: map[string][]byte{},
		modes: map[string]os.FileMode{},
		times: map[string]time.Time{},
		links: map[string]string{},
		dirs:  map[string]bool{"/": true},
	}
}

type fakeFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return f.modTime }
func (f fakeFileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeFileInfo) Sys() interface{}   { return nil }

func (f *fakeSFTP) Lstat(p string) (os.FileInfo, error) {
	if _, ok := f.links[p]; ok {
		return fakeFileInfo{name: p, mode: os.ModeSymlink | 0o777, modTime: f.times[p]}, nil
	}
	return f.Stat(p)
}

func (f *fakeSFTP) Stat(p string) (os.FileInfo, error) {
	data, ok := f.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return fakeFileInfo{name: p, size: int64(len(data)), mode: f.modes[p], modTime: f.times[p]}, nil
}

func (f *fakeSFTP) ReadLink(p string) (string, error) {
	target, ok := f.links[p]
	if !ok {
		return "", os.ErrNotExist
	}
	return target, nil
}

func (f *fakeSFTP) Symlink(target, linkname string) error {
	delete(f.files, linkname)
	f.links[linkname] = target
	return nil
}

func (f *fakeSFTP) Remove(p string) error {
	if _, ok := f.files[p]; !ok {
		if _, ok := f.links[p]; !ok {
			return os.ErrNotExist
		}
	}
	delete(f.files, p)
	delete(f.links, p)
	return nil
}

type fakeReadCloser struct{ *bytes.Reader }

func (fakeReadCloser) Close() error { return nil }

type fakeWriteCloser struct {
	f    *fakeSFTP
	path string
	buf  bytes.Buffer
}

func (w *fakeWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeWriteCloser) Close() error {
	data := w.buf.Bytes()
	if n := w.f.truncateWritesTo; n > 0 && n < len(data) {
		data = data[:n]
	}
	w.f.files[w.path] = data
	if _, ok := w.f.modes[w.path]; !ok {
		w.f.modes[w.path] = 0o644
	}
	return nil
}

func (f *fakeSFTP) OpenRead(p string) (io.ReadCloser, error) {
	data, ok := f.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return fakeReadCloser{bytes.NewReader(data)}, nil
}

func (f *fakeSFTP) OpenWrite(p string) (io.WriteCloser, error) {
	return &fakeWriteCloser{f: f, path: p}, nil
}

func (f *fakeSFTP) Chmod(p string, mode os.FileMode) error {
	f.modes[p] = mode
	return nil
}

func (f *fakeSFTP) Chtimes(p string, atime, mtime time.Time) error {
	f.times[p] = mtime
	return nil
}

func (f *fakeSFTP) MkdirAll(p string) error {
	f.dirs[p] = true
	return nil
}

func TestExecuteLocalToRemoteCopyUsesSFTPPut(t *testing.T) {
	leftRoot := t.TempDir()
	writeFile(t, leftRoot, "a.txt", "payload")

	left := NewLocalSide(leftRoot, leftRoot)
	fake := newFakeSFTP()
	right := NewRemoteSide(fake, "/remote/root", "/remote/home", "u", "h", 22)

	ops := []model.PlanOperation{{Kind: model.CopyRight, Relpath: "a.txt"}}
	result := Execute(left, right, ops, Settings{}, nil)
	if result.SucceededOperations != 1 {
		t.Fatalf("expected success, errors=%v", result.Errors)
	}
	if string(fake.files["/remote/root/a.txt"]) != "payload" {
		t.Fatalf("unexpected remote content: %q", fake.files["/remote/root/a.txt"])
	}
}

func TestExecuteLocalToRemoteCopyWithPutConfirmSucceedsOnMatchingSize(t *testing.T) {
	leftRoot := t.TempDir()
	writeFile(t, leftRoot, "a.txt", "payload")

	left := NewLocalSide(leftRoot, leftRoot)
	fake := newFakeSFTP()
	right := NewRemoteSide(fake, "/remote/root", "/remote/home", "u", "h", 22)

	ops := []model.PlanOperation{{Kind: model.CopyRight, Relpath: "a.txt"}}
	result := Execute(left, right, ops, Settings{SFTPPutConfirm: true}, nil)
	if result.SucceededOperations != 1 {
		t.Fatalf("expected success, errors=%v", result.Errors)
	}
}

func TestExecuteLocalToRemoteCopyWithPutConfirmFailsOnSizeMismatch(t *testing.T) {
	leftRoot := t.TempDir()
	writeFile(t, leftRoot, "a.txt", "payload")

	left := NewLocalSide(leftRoot, leftRoot)
	fake := newFakeSFTP()
	fake.truncateWritesTo = 1
	right := NewRemoteSide(fake, "/remote/root", "/remote/home", "u", "h", 22)

	ops := []model.PlanOperation{{Kind: model.CopyRight, Relpath: "a.txt"}}
	result := Execute(left, right, ops, Settings{SFTPPutConfirm: true}, nil)
	if result.SucceededOperations != 0 {
		t.Fatalf("expected put confirmation to fail, errors=%v", result.Errors)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly one error, got %v", result.Errors)
	}
}

func TestExecuteRemoteToRemoteCopyStagesThroughTempFile(t *testing.T) {
	srcFake := newFakeSFTP()
	srcFake.files["/src/a.txt"] = []byte("hi")
	srcFake.modes["/src/a.txt"] = 0o644

	dstFake := newFakeSFTP()

	src := NewRemoteSide(srcFake, "/src", "/home", "u", "h1", 22)
	dst := NewRemoteSide(dstFake, "/dst", "/home", "u", "h2", 22)

	ops := []model.PlanOperation{{Kind: model.CopyRight, Relpath: "a.txt"}}
	result := Execute(src, dst, ops, Settings{}, nil)
	if result.SucceededOperations != 1 {
		t.Fatalf("expected success, errors=%v", result.Errors)
	}
	if string(dstFake.files["/dst/a.txt"]) != "hi" {
		t.Fatalf("unexpected staged content: %q", dstFake.files["/dst/a.txt"])
	}
}
