// Package planner implements the pure decision table of C9 (§4.9): turning a
// list of diffs plus per-path action overrides into a deduplicated, ordered
// list of primitive PlanOperations. Grounded on the planning half of
// planner_apply.py, adapted from that source's legacy only_local/only_remote
// naming to the left/right naming spec.md settles on (Open Question 1).
package planner

import "github.com/dariosky/limsync/internal/model"

// BuildPlanOperations converts diffs and actionOverrides into an ordered,
// deduplicated operation list. A missing override defaults to Ignore, which
// contributes no operations.
func BuildPlanOperations(diffs []model.DiffRecord, actionOverrides map[string]model.PlanAction) []model.PlanOperation {
	var ops []model.PlanOperation

	for _, diff := range diffs {
		action, ok := actionOverrides[diff.Relpath]
		if !ok {
			action = model.Ignore
		}
		if action == model.Ignore {
			continue
		}

		ops = append(ops, opsForDiff(diff, action)...)
	}

	return dedupe(ops)
}

func opsForDiff(diff model.DiffRecord, action model.PlanAction) []model.PlanOperation {
	switch diff.ContentState {
	case model.OnlyLeft:
		return onlyLeftOps(diff, action)
	case model.OnlyRight:
		return onlyRightOps(diff, action)
	case model.Different, model.Unknown:
		return conflictOps(diff, action)
	default: // Identical
		return identicalMetadataOps(diff, action)
	}
}

func onlyLeftOps(diff model.DiffRecord, action model.PlanAction) []model.PlanOperation {
	switch action {
	case model.RightWins:
		return []model.PlanOperation{{Kind: model.DeleteLeft, Relpath: diff.Relpath}}
	case model.LeftWins:
		return []model.PlanOperation{{Kind: model.CopyRight, Relpath: diff.Relpath}}
	case model.Suggested:
		if diff.MetadataSource == model.SourceDeletedOnRight {
			return []model.PlanOperation{{Kind: model.DeleteLeft, Relpath: diff.Relpath}}
		}
		return []model.PlanOperation{{Kind: model.CopyRight, Relpath: diff.Relpath}}
	}
	return nil
}

func onlyRightOps(diff model.DiffRecord, action model.PlanAction) []model.PlanOperation {
	switch action {
	case model.LeftWins:
		return []model.PlanOperation{{Kind: model.DeleteRight, Relpath: diff.Relpath}}
	case model.RightWins:
		return []model.PlanOperation{{Kind: model.CopyLeft, Relpath: diff.Relpath}}
	case model.Suggested:
		if diff.MetadataSource == model.SourceDeletedOnLeft {
			return []model.PlanOperation{{Kind: model.DeleteRight, Relpath: diff.Relpath}}
		}
		return []model.PlanOperation{{Kind: model.CopyLeft, Relpath: diff.Relpath}}
	}
	return nil
}

// conflictOps handles Different and Unknown content states: a genuine
// conflict has no suggested resolution, only an explicit side preference.
func conflictOps(diff model.DiffRecord, action model.PlanAction) []model.PlanOperation {
	var ops []model.PlanOperation
	metadataDiffers := diff.MetadataState == model.MetadataDifferent

	switch action {
	case model.LeftWins:
		ops = append(ops, model.PlanOperation{Kind: model.CopyRight, Relpath: diff.Relpath})
		if metadataDiffers {
			ops = append(ops, model.PlanOperation{Kind: model.MetadataUpdateRight, Relpath: diff.Relpath})
		}
	case model.RightWins:
		ops = append(ops, model.PlanOperation{Kind: model.CopyLeft, Relpath: diff.Relpath})
		if metadataDiffers {
			ops = append(ops, model.PlanOperation{Kind: model.MetadataUpdateLeft, Relpath: diff.Relpath})
		}
	case model.Suggested:
		// Content conflicts are never auto-resolved.
	}
	return ops
}

func identicalMetadataOps(diff model.DiffRecord, action model.PlanAction) []model.PlanOperation {
	if diff.MetadataState != model.MetadataDifferent {
		return nil
	}

	switch action {
	case model.LeftWins:
		return []model.PlanOperation{{Kind: model.MetadataUpdateRight, Relpath: diff.Relpath}}
	case model.RightWins:
		return []model.PlanOperation{{Kind: model.MetadataUpdateLeft, Relpath: diff.Relpath}}
	case model.Suggested:
		switch diff.MetadataSource {
		case model.SourceLeft:
			return []model.PlanOperation{{Kind: model.MetadataUpdateRight, Relpath: diff.Relpath}}
		case model.SourceRight:
			return []model.PlanOperation{{Kind: model.MetadataUpdateLeft, Relpath: diff.Relpath}}
		}
	}
	return nil
}

type opKey struct {
	kind    model.PlanOperationKind
	relpath string
}

// dedupe keeps the first occurrence of each (kind, relpath) pair, preserving
// first-generation order.
func dedupe(ops []model.PlanOperation) []model.PlanOperation {
	seen := make(map[opKey]struct{}, len(ops))
	out := make([]model.PlanOperation, 0, len(ops))
	for _, op := range ops {
		key := opKey{op.Kind, op.Relpath}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, op)
	}
	return out
}

// SummarizeOperations returns per-kind counts for ops.
func SummarizeOperations(ops []model.PlanOperation) model.PlanSummary {
	counts := make(map[model.PlanOperationKind]int, 6)
	for _, op := range ops {
		counts[op.Kind]++
	}
	return model.PlanSummary{Counts: counts}
}
