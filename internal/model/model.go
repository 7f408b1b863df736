// Package model defines the data types shared across every core component:
// the tagged variants of §3 and the immutable records built from them. These
// are deliberately closed sum types (Go constants backed by a string type)
// rather than open string dispatch, per the "runtime reflection / duck
// typing -> tagged variants" design note.
package model

// NodeType classifies a scanned filesystem entry.
type NodeType string

const (
	File      NodeType = "file"
	Directory NodeType = "dir"
	Symlink   NodeType = "symlink"
)

// ContentState classifies how two sides' content compare for a given relpath.
type ContentState string

const (
	Identical ContentState = "identical"
	Different ContentState = "different"
	OnlyLeft  ContentState = "only_left"
	OnlyRight ContentState = "only_right"
	Unknown   ContentState = "unknown"
)

// MetadataState classifies how two sides' metadata compare.
type MetadataState string

const (
	MetadataIdentical    MetadataState = "identical"
	MetadataDifferent    MetadataState = "different"
	MetadataNotApplicable MetadataState = "not_applicable"
)

// Metadata-source hint values, including the deletion-intent overlay's
// synthetic hints (§4.6).
const (
	SourceLeft           = "left"
	SourceRight          = "right"
	SourceDeletedOnLeft  = "deleted_on_left"
	SourceDeletedOnRight = "deleted_on_right"
)

// FileRecord is the immutable per-path output of a scan (§3).
type FileRecord struct {
	Relpath       string
	NodeType      NodeType
	Size          int64
	MTimeNS       int64
	Mode          uint32
	LinkTarget    *string
	LinkTargetKey *string
	Owner         *string
	Group         *string
}

// DiffRecord is the immutable output of the comparator (§3), optionally
// annotated by the deletion-intent overlay.
type DiffRecord struct {
	Relpath         string
	ContentState    ContentState
	MetadataState   MetadataState
	MetadataDiff    []string
	MetadataDetails []string
	MetadataSource  string // "" means absent
	LeftSize        *int64
	RightSize       *int64
}

// PlanAction is a user decision attached to a relpath.
type PlanAction string

const (
	LeftWins  PlanAction = "left_wins"
	RightWins PlanAction = "right_wins"
	Ignore    PlanAction = "ignore"
	Suggested PlanAction = "suggested"
)

// PlanOperationKind enumerates the primitive operations a plan is built from.
type PlanOperationKind string

const (
	CopyLeft             PlanOperationKind = "copy_left"
	CopyRight            PlanOperationKind = "copy_right"
	DeleteLeft           PlanOperationKind = "delete_left"
	DeleteRight          PlanOperationKind = "delete_right"
	MetadataUpdateLeft   PlanOperationKind = "metadata_update_left"
	MetadataUpdateRight  PlanOperationKind = "metadata_update_right"
)

// PlanOperation is one primitive step of an execution plan.
type PlanOperation struct {
	Kind    PlanOperationKind
	Relpath string
}

// PlanSummary reports per-kind operation counts.
type PlanSummary struct {
	Counts map[PlanOperationKind]int
}

// Total returns the sum of every per-kind count.
func (s PlanSummary) Total() int {
	var total int
	for _, n := range s.Counts {
		total += n
	}
	return total
}
