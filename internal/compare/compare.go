// Package compare implements the comparator (C5, §4.5): a union-join of two
// relpath-keyed scan maps into a sorted list of DiffRecords. Grounded on the
// core synchronization engine's recursive diff logic, generalized here to a
// flat map since limsync's data model is relpath-keyed rather than
// tree-entry-keyed.
package compare

import (
	"fmt"
	"sort"
	"time"

	"github.com/dariosky/limsync/internal/model"
)

// DefaultMTimeToleranceNS is the default modification-time tolerance used
// when callers don't override it (§4.5).
const DefaultMTimeToleranceNS int64 = 2_000_000_000

// Records compares left and right scan results and returns a DiffRecord per
// path in union(left, right), sorted lexicographically by relpath.
func Records(left, right map[string]model.FileRecord, mtimeToleranceNS int64) []model.DiffRecord {
	paths := make([]string, 0, len(left)+len(right))
	seen := make(map[string]struct{}, len(left)+len(right))
	for p := range left {
		paths = append(paths, p)
		seen[p] = struct{}{}
	}
	for p := range right {
		if _, ok := seen[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	diffs := make([]model.DiffRecord, 0, len(paths))
	for _, relpath := range paths {
		l, hasLeft := left[relpath]
		r, hasRight := right[relpath]

		switch {
		case hasLeft && !hasRight:
			diffs = append(diffs, model.DiffRecord{
				Relpath:       relpath,
				ContentState:  model.OnlyLeft,
				MetadataState: model.MetadataNotApplicable,
				LeftSize:      sizePtr(l.Size),
			})
			continue
		case hasRight && !hasLeft:
			diffs = append(diffs, model.DiffRecord{
				Relpath:       relpath,
				ContentState:  model.OnlyRight,
				MetadataState: model.MetadataNotApplicable,
				RightSize:     sizePtr(r.Size),
			})
			continue
		}

		diffs = append(diffs, compareBoth(relpath, l, r, mtimeToleranceNS))
	}

	return diffs
}

func compareBoth(relpath string, left, right model.FileRecord, mtimeToleranceNS int64) model.DiffRecord {
	if left.NodeType != right.NodeType {
		return model.DiffRecord{
			Relpath:         relpath,
			ContentState:    model.Different,
			MetadataState:   model.MetadataDifferent,
			MetadataDiff:    []string{"type"},
			MetadataDetails: []string{fmt.Sprintf("type: %s -> %s", left.NodeType, right.NodeType)},
			LeftSize:        sizePtr(left.Size),
			RightSize:       sizePtr(right.Size),
		}
	}

	metadataDiff, metadataDetails := metadataDiff(left, right, mtimeToleranceNS)
	metadataSource := preferredMetadataSource(left, right, metadataDiff)
	metadataState := model.MetadataIdentical
	if len(metadataDiff) > 0 {
		metadataState = model.MetadataDifferent
	}

	if left.NodeType == model.Symlink {
		leftKey := linkKey(left)
		rightKey := linkKey(right)
		contentState := model.Different
		if leftKey == rightKey {
			contentState = model.Identical
		}
		return model.DiffRecord{
			Relpath:       relpath,
			ContentState:  contentState,
			MetadataState: model.MetadataNotApplicable,
			LeftSize:      sizePtr(left.Size),
			RightSize:     sizePtr(right.Size),
		}
	}

	if left.NodeType != model.File {
		return model.DiffRecord{
			Relpath:         relpath,
			ContentState:    model.Identical,
			MetadataState:   metadataState,
			MetadataDiff:    metadataDiff,
			MetadataDetails: metadataDetails,
			MetadataSource:  metadataSource,
			LeftSize:        sizePtr(left.Size),
			RightSize:       sizePtr(right.Size),
		}
	}

	sameContent := left.Size == right.Size && absInt64(left.MTimeNS-right.MTimeNS) <= mtimeToleranceNS
	var contentState model.ContentState
	switch {
	case sameContent:
		contentState = model.Identical
	case left.Size == right.Size:
		contentState = model.Unknown
	default:
		contentState = model.Different
	}

	return model.DiffRecord{
		Relpath:         relpath,
		ContentState:    contentState,
		MetadataState:   metadataState,
		MetadataDiff:    metadataDiff,
		MetadataDetails: metadataDetails,
		MetadataSource:  metadataSource,
		LeftSize:        sizePtr(left.Size),
		RightSize:       sizePtr(right.Size),
	}
}

func linkKey(r model.FileRecord) string {
	if r.LinkTargetKey != nil {
		return *r.LinkTargetKey
	}
	if r.LinkTarget != nil {
		return *r.LinkTarget
	}
	return ""
}

func metadataDiff(left, right model.FileRecord, mtimeToleranceNS int64) ([]string, []string) {
	var diff []string
	var details []string

	if left.Mode != right.Mode {
		diff = append(diff, "mode")
		details = append(details, fmt.Sprintf("mode: left=0x%03o right=0x%03o", left.Mode, right.Mode))
	}
	if absInt64(left.MTimeNS-right.MTimeNS) > mtimeToleranceNS {
		diff = append(diff, "mtime")
		details = append(details, fmt.Sprintf("mtime: left=%s right=%s", formatMTime(left.MTimeNS), formatMTime(right.MTimeNS)))
	}

	return diff, details
}

func formatMTime(ns int64) string {
	t := time.Unix(0, ns).UTC()
	return t.Format("2006-01-02 15:04:05.000000") + " UTC"
}

func preferredMetadataSource(left, right model.FileRecord, metadataDiff []string) string {
	hasMode := containsString(metadataDiff, "mode")
	hasMTime := containsString(metadataDiff, "mtime")

	if hasMode && left.Mode != right.Mode {
		if left.Mode < right.Mode {
			return model.SourceLeft
		}
		return model.SourceRight
	}
	if hasMTime && left.MTimeNS != right.MTimeNS {
		if left.MTimeNS < right.MTimeNS {
			return model.SourceLeft
		}
		return model.SourceRight
	}
	return ""
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sizePtr(v int64) *int64 {
	return &v
}
