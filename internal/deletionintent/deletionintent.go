// Package deletionintent implements the overlay of §4.6: it promotes a
// OnlyLeft/OnlyRight diff into an explicit "deleted on side X" hint when the
// previous scan recorded the path as present on both sides. This is the sole
// mechanism by which deletions propagate to the suggested planner.
package deletionintent

import "github.com/dariosky/limsync/internal/model"

func wasPresentOnBothSides(state model.ContentState, known bool) bool {
	if !known {
		return false
	}
	switch state {
	case model.Identical, model.Different, model.Unknown:
		return true
	default:
		return false
	}
}

// Apply returns diffs with metadata_source promoted to a deletion hint where
// previousContentStates shows the path existed on both sides in the prior
// scan. previousContentStates is typically loaded from the review-state
// store's persisted current_diffs.
func Apply(diffs []model.DiffRecord, previousContentStates map[string]model.ContentState) []model.DiffRecord {
	updated := make([]model.DiffRecord, len(diffs))
	for i, diff := range diffs {
		previous, known := previousContentStates[diff.Relpath]
		if !wasPresentOnBothSides(previous, known) {
			updated[i] = diff
			continue
		}

		switch diff.ContentState {
		case model.OnlyRight:
			diff.MetadataSource = model.SourceDeletedOnLeft
		case model.OnlyLeft:
			diff.MetadataSource = model.SourceDeletedOnRight
		}
		updated[i] = diff
	}
	return updated
}
