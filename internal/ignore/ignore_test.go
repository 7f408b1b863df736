package ignore

import "testing"

func TestSimpleFileIgnoredAtRoot(t *testing.T) {
	r := New(0)
	r.AddSpec(".", []string{"build.log"})

	if !r.IsIgnored("build.log", false) {
		t.Error("expected build.log to be ignored")
	}
	if r.IsIgnored("keep.log", false) {
		t.Error("did not expect keep.log to be ignored")
	}
}

func TestDirOnlyPatternSkipsFiles(t *testing.T) {
	r := New(0)
	r.AddSpec(".", []string{"dist/"})

	if !r.IsIgnored("dist", true) {
		t.Error("expected directory dist to be ignored")
	}
	if r.IsIgnored("dist", false) {
		t.Error("dir-only pattern should not match a file candidate")
	}
}

func TestAnchoredPatternOnlyMatchesFullPath(t *testing.T) {
	r := New(0)
	r.AddSpec(".", []string{"/only_here.txt"})

	if !r.IsIgnored("only_here.txt", false) {
		t.Error("expected anchored root-level match")
	}
	if r.IsIgnored("nested/only_here.txt", false) {
		t.Error("anchored pattern should not match nested path")
	}
}

func TestUnanchoredPatternMatchesAnySegment(t *testing.T) {
	r := New(0)
	r.AddSpec(".", []string{"__pycache__"})

	if !r.IsIgnored("pkg/__pycache__", true) {
		t.Error("expected nested segment match")
	}
}

func TestNestedIgnoreReincludes(t *testing.T) {
	r := New(0)
	r.AddSpec(".", []string{"*.log"})
	r.AddSpec("nested", []string{"!keep.log"})

	if !r.IsIgnored("other.log", false) {
		t.Error("expected other.log ignored by root spec")
	}
	if r.IsIgnored("nested/keep.log", false) {
		t.Error("expected nested/keep.log re-included by deeper spec")
	}
	if !r.IsIgnored("nested/other.log", false) {
		t.Error("expected nested/other.log still ignored (no negation matched)")
	}
}

func TestLastMatchWins(t *testing.T) {
	r := New(0)
	r.AddSpec(".", []string{"*.txt", "!important.txt", "important.txt"})

	if !r.IsIgnored("important.txt", false) {
		t.Error("expected last pattern (re-exclude) to win")
	}
}

func TestBlankAndCommentLinesIgnored(t *testing.T) {
	r := New(0)
	r.AddSpec(".", []string{"", "# a comment", "real.txt"})

	if !r.IsIgnored("real.txt", false) {
		t.Error("expected real.txt ignored")
	}
}
