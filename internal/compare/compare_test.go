package compare

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dariosky/limsync/internal/model"
)

func rec(nodeType model.NodeType, size, mtime int64, mode uint32) model.FileRecord {
	return model.FileRecord{NodeType: nodeType, Size: size, MTimeNS: mtime, Mode: mode}
}

func TestTwoOneSidedFiles(t *testing.T) {
	left := map[string]model.FileRecord{"a.txt": rec(model.File, 123, 1000, 0o644)}
	right := map[string]model.FileRecord{"b.txt": rec(model.File, 234, 1000, 0o644)}

	diffs := Records(left, right, DefaultMTimeToleranceNS)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %d", len(diffs))
	}
	if diffs[0].Relpath != "a.txt" || diffs[0].ContentState != model.OnlyLeft {
		t.Errorf("unexpected first diff: %+v", diffs[0])
	}
	if diffs[1].Relpath != "b.txt" || diffs[1].ContentState != model.OnlyRight {
		t.Errorf("unexpected second diff: %+v", diffs[1])
	}
}

func TestMetadataOnlyModeDrift(t *testing.T) {
	left := map[string]model.FileRecord{"x.txt": rec(model.File, 100, 1000, 0o777)}
	right := map[string]model.FileRecord{"x.txt": rec(model.File, 100, 1000, 0o600)}

	diffs := Records(left, right, DefaultMTimeToleranceNS)
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d", len(diffs))
	}
	d := diffs[0]
	if d.ContentState != model.Identical || d.MetadataState != model.MetadataDifferent {
		t.Fatalf("unexpected states: %+v", d)
	}
	if d.MetadataSource != model.SourceRight {
		t.Errorf("expected source=right (stricter mode), got %q", d.MetadataSource)
	}
	if diff := cmp.Diff([]string{"mode"}, d.MetadataDiff); diff != "" {
		t.Errorf("metadata diff mismatch (-want +got):\n%s", diff)
	}
}

func TestContentConflictNoSuggestion(t *testing.T) {
	left := map[string]model.FileRecord{"x.txt": rec(model.File, 100, 1000, 0o644)}
	right := map[string]model.FileRecord{"x.txt": rec(model.File, 101, 1000, 0o644)}

	diffs := Records(left, right, DefaultMTimeToleranceNS)
	if diffs[0].ContentState != model.Different {
		t.Fatalf("expected Different, got %v", diffs[0].ContentState)
	}
}

func TestSymlinkTargetNormalization(t *testing.T) {
	leftTarget := "inroot:docs/x.txt"
	rightTarget := "inroot:docs/x.txt"
	left := map[string]model.FileRecord{
		"nested/link": {NodeType: model.Symlink, Size: 5, LinkTargetKey: &leftTarget},
	}
	right := map[string]model.FileRecord{
		"nested/link": {NodeType: model.Symlink, Size: 5, LinkTargetKey: &rightTarget},
	}

	diffs := Records(left, right, DefaultMTimeToleranceNS)
	if diffs[0].ContentState != model.Identical || diffs[0].MetadataState != model.MetadataNotApplicable {
		t.Fatalf("unexpected: %+v", diffs[0])
	}
}

func TestComparatorTotality(t *testing.T) {
	left := map[string]model.FileRecord{
		"a": rec(model.File, 1, 1, 0o644),
		"b": rec(model.File, 1, 1, 0o644),
	}
	right := map[string]model.FileRecord{
		"b": rec(model.File, 1, 1, 0o644),
		"c": rec(model.File, 1, 1, 0o644),
	}
	diffs := Records(left, right, DefaultMTimeToleranceNS)
	if len(diffs) != 3 {
		t.Fatalf("expected 3 (union size), got %d", len(diffs))
	}
	for i := 1; i < len(diffs); i++ {
		if diffs[i-1].Relpath >= diffs[i].Relpath {
			t.Fatalf("output not sorted at index %d: %s >= %s", i, diffs[i-1].Relpath, diffs[i].Relpath)
		}
	}
}
