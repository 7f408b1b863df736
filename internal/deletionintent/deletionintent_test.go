package deletionintent

import "testing"

import "github.com/dariosky/limsync/internal/model"

func TestIntentionalDeletionPropagation(t *testing.T) {
	diffs := []model.DiffRecord{
		{Relpath: "x.txt", ContentState: model.OnlyRight},
	}
	previous := map[string]model.ContentState{"x.txt": model.Identical}

	updated := Apply(diffs, previous)
	if updated[0].MetadataSource != model.SourceDeletedOnLeft {
		t.Errorf("expected deleted_on_left, got %q", updated[0].MetadataSource)
	}
}

func TestNewPathsLeftUntouched(t *testing.T) {
	diffs := []model.DiffRecord{
		{Relpath: "new.txt", ContentState: model.OnlyRight},
	}
	updated := Apply(diffs, map[string]model.ContentState{})
	if updated[0].MetadataSource != "" {
		t.Errorf("expected no hint for never-before-seen path, got %q", updated[0].MetadataSource)
	}
}

func TestOnlyLeftPromotesDeletedOnRight(t *testing.T) {
	diffs := []model.DiffRecord{
		{Relpath: "x.txt", ContentState: model.OnlyLeft},
	}
	previous := map[string]model.ContentState{"x.txt": model.Different}
	updated := Apply(diffs, previous)
	if updated[0].MetadataSource != model.SourceDeletedOnRight {
		t.Errorf("expected deleted_on_right, got %q", updated[0].MetadataSource)
	}
}

func TestNonDeletionDiffsUnaffected(t *testing.T) {
	diffs := []model.DiffRecord{
		{Relpath: "x.txt", ContentState: model.Identical},
	}
	previous := map[string]model.ContentState{"x.txt": model.Identical}
	updated := Apply(diffs, previous)
	if updated[0].MetadataSource != "" {
		t.Errorf("expected untouched, got %q", updated[0].MetadataSource)
	}
}
