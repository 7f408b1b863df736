package symlink

import "testing"

func strptr(s string) *string { return &s }

func TestTargetCompareKeyInRootAbsolute(t *testing.T) {
	got := TargetCompareKey("/root", "/home/user", "nested/link", strptr("/root/docs/x.txt"))
	if got != "inroot:docs/x.txt" {
		t.Errorf("got %q", got)
	}
}

func TestTargetCompareKeyInRootRelative(t *testing.T) {
	got := TargetCompareKey("/root", "/home/user", "nested/link", strptr("../docs/x.txt"))
	if got != "inroot:docs/x.txt" {
		t.Errorf("got %q", got)
	}
}

func TestTargetCompareKeyHomeRelative(t *testing.T) {
	got := TargetCompareKey("/root", "/home/user", "link", strptr("/home/user/notes.txt"))
	if got != "home:notes.txt" {
		t.Errorf("got %q", got)
	}
}

func TestTargetCompareKeyAbsoluteOutsideHome(t *testing.T) {
	got := TargetCompareKey("/root", "/home/user", "link", strptr("/etc/passwd"))
	if got != "abs:/etc/passwd" {
		t.Errorf("got %q", got)
	}
}

func TestTargetCompareKeyRelativeOutsideRoot(t *testing.T) {
	got := TargetCompareKey("/root", "/home/user", "sub/link", strptr("../../outside.txt"))
	if got != "rel:../../outside.txt" {
		t.Errorf("got %q", got)
	}
}

func TestTargetCompareKeyNilTarget(t *testing.T) {
	if got := TargetCompareKey("/root", "/home/user", "link", nil); got != "" {
		t.Errorf("expected empty key for nil target, got %q", got)
	}
}

func TestMapTargetForDestinationInRoot(t *testing.T) {
	got := MapTargetForDestination(
		"/root", "/home/user", "nested/link", "/root/docs/x.txt",
		"/dest", "/home/other", "nested/link",
	)
	if got != "../docs/x.txt" {
		t.Errorf("got %q", got)
	}
}

func TestMapTargetForDestinationHomeRelative(t *testing.T) {
	got := MapTargetForDestination(
		"/root", "/home/user", "link", "/home/user/notes.txt",
		"/dest", "/home/other", "link",
	)
	if got != "/home/other/notes.txt" {
		t.Errorf("got %q", got)
	}
}

func TestMapTargetForDestinationPassthrough(t *testing.T) {
	got := MapTargetForDestination(
		"/root", "/home/user", "link", "some/unrelated/relative",
		"/dest", "/home/other", "link",
	)
	if got != "some/unrelated/relative" {
		t.Errorf("got %q", got)
	}
}
