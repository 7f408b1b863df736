package apply

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dariosky/limsync/internal/model"
	"github.com/dariosky/limsync/internal/symlink"
)

// Settings controls transfer and progress-emission behavior, mirroring
// ApplySettings in §4.10.
type Settings struct {
	SSHCompression       bool
	SFTPPutConfirm       bool
	ProgressEmitEveryOps int
	ProgressEmitEveryMS  int
}

// ProgressFunc is invoked with (done, total, the operation just attempted,
// whether it succeeded, and its error if not). Per §6 it must be
// non-blocking; the engine never invokes it concurrently.
type ProgressFunc func(done, total int, op model.PlanOperation, ok bool, opErr error)

// ExecuteResult aggregates the outcome of a full plan execution.
type ExecuteResult struct {
	CompletedPaths         map[string]bool
	Errors                 []string
	SucceededOperations    int
	TotalOperations        int
	SucceededOperationKeys map[string]bool
	OperationCounts        map[model.PlanOperationKind]int
	OperationSeconds       map[model.PlanOperationKind]float64
}

func newExecuteResult(total int) *ExecuteResult {
	return &ExecuteResult{
		CompletedPaths:         make(map[string]bool),
		SucceededOperationKeys: make(map[string]bool),
		OperationCounts:        make(map[model.PlanOperationKind]int),
		OperationSeconds:       make(map[model.PlanOperationKind]float64),
		TotalOperations:        total,
	}
}

// Throughput summarizes the run as a human-readable "N ops in Ys (R ops/s)"
// line, the Go equivalent of the original CLI's closing summary line.
func (r *ExecuteResult) Throughput() string {
	var totalSeconds float64
	for _, s := range r.OperationSeconds {
		totalSeconds += s
	}
	count := humanize.Comma(int64(r.SucceededOperations))
	if totalSeconds == 0 {
		return fmt.Sprintf("%s ops", count)
	}
	rate := float64(r.SucceededOperations) / totalSeconds
	return fmt.Sprintf("%s ops in %.2fs (%.1f ops/s)", count, totalSeconds, rate)
}

func operationKey(op model.PlanOperation) string {
	return string(op.Kind) + ":" + op.Relpath
}

// Execute runs ops against left and right in supplied order, grounded on
// planner_apply.py's execute_plan. It never returns an error: per-operation
// failures are recorded in the result and execution continues, per §7's
// "the apply engine never raises, always returns a result".
func Execute(left, right Side, ops []model.PlanOperation, settings Settings, progress ProgressFunc) *ExecuteResult {
	result := newExecuteResult(len(ops))
	pathFailed := make(map[string]bool)

	metadataPending := indexPendingMetadataUpdates(ops)

	throttle := newProgressThrottle(settings, len(ops))

	for i, op := range ops {
		start := time.Now()
		err := executeOne(left, right, op, metadataPending, settings)
		elapsed := time.Since(start).Seconds()

		result.OperationCounts[op.Kind]++
		result.OperationSeconds[op.Kind] += elapsed

		ok := err == nil
		if ok {
			result.SucceededOperations++
			result.SucceededOperationKeys[operationKey(op)] = true
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %s", op.Kind, op.Relpath, err))
			pathFailed[op.Relpath] = true
		}

		if throttle.shouldEmit(i+1, ok) && progress != nil {
			progress(i+1, len(ops), op, ok, err)
		}
	}

	for _, op := range ops {
		if !pathFailed[op.Relpath] {
			result.CompletedPaths[op.Relpath] = true
		}
	}

	return result
}

// indexPendingMetadataUpdates records, per relpath, which metadata-update
// directions are present in the whole plan, so executeOne can detect the
// both-queued case described in §4.10 regardless of which one runs first.
func indexPendingMetadataUpdates(ops []model.PlanOperation) map[string]struct{ left, right bool } {
	index := make(map[string]struct{ left, right bool })
	for _, op := range ops {
		switch op.Kind {
		case model.MetadataUpdateLeft:
			e := index[op.Relpath]
			e.left = true
			index[op.Relpath] = e
		case model.MetadataUpdateRight:
			e := index[op.Relpath]
			e.right = true
			index[op.Relpath] = e
		}
	}
	return index
}

func executeOne(left, right Side, op model.PlanOperation, metadataPending map[string]struct{ left, right bool }, settings Settings) error {
	switch op.Kind {
	case model.CopyRight:
		return copyEntry(left, right, op.Relpath, settings)
	case model.CopyLeft:
		return copyEntry(right, left, op.Relpath, settings)
	case model.DeleteLeft:
		return left.Remove(op.Relpath)
	case model.DeleteRight:
		return right.Remove(op.Relpath)
	case model.MetadataUpdateRight:
		return updateMetadata(left, right, op.Relpath, metadataPending[op.Relpath].left)
	case model.MetadataUpdateLeft:
		return updateMetadata(right, left, op.Relpath, metadataPending[op.Relpath].right)
	default:
		return fmt.Errorf("unsupported operation kind: %s", op.Kind)
	}
}

// copyEntry copies relpath from src to dst. A symlink source is re-created
// as a symlink on the destination with its target remapped; anything else is
// copied byte-for-byte and has its mode/mtime propagated.
func copyEntry(src, dst Side, relpath string, settings Settings) error {
	srcStat, err := src.Lstat(relpath)
	if err != nil {
		return err
	}

	if err := dst.EnsureParent(relpath); err != nil {
		return err
	}

	if srcStat.IsSymlink {
		target, err := src.Readlink(relpath)
		if err != nil {
			return err
		}
		mapped := symlink.MapTargetForDestination(
			src.Root(), src.Home(), relpath, target,
			dst.Root(), dst.Home(), relpath,
		)
		return dst.Symlink(mapped, relpath)
	}

	if err := copyBetween(src, dst, relpath, settings); err != nil {
		return err
	}

	if err := dst.Chmod(relpath, srcStat.Mode); err != nil {
		return err
	}
	return dst.SetTimes(relpath, srcStat.MTimeNS, srcStat.MTimeNS)
}

// updateMetadata propagates mode/mtime from src to dst for relpath. When
// bothQueued is true, the same relpath also has a pending update in the
// opposite direction (only arises during retries, per §4.10): the stricter
// (smaller) of the two sides' mode and mtime is applied instead of a
// straight copy from src.
func updateMetadata(src, dst Side, relpath string, bothQueued bool) error {
	dstStat, err := dst.Lstat(relpath)
	if err != nil {
		return err
	}
	if dstStat.IsSymlink {
		return nil
	}

	srcStat, err := src.Lstat(relpath)
	if err != nil {
		return err
	}
	if srcStat.IsSymlink {
		return nil
	}

	mode := srcStat.Mode
	mtime := srcStat.MTimeNS
	if bothQueued {
		mode = minUint32(mode, dstStat.Mode)
		mtime = minInt64(mtime, dstStat.MTimeNS)
	}

	if err := dst.Chmod(relpath, mode); err != nil {
		return err
	}
	return dst.SetTimes(relpath, mtime, mtime)
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// progressThrottle implements §4.10's four-condition OR: total reached,
// operation failed, N ops completed since last emit, or M ms elapsed.
type progressThrottle struct {
	everyOps   int
	everyMS    int
	total      int
	lastEmit   time.Time
	sinceEmit  int
}

func newProgressThrottle(settings Settings, total int) *progressThrottle {
	return &progressThrottle{
		everyOps: settings.ProgressEmitEveryOps,
		everyMS:  settings.ProgressEmitEveryMS,
		total:    total,
		lastEmit: time.Now(),
	}
}

func (t *progressThrottle) shouldEmit(done int, ok bool) bool {
	t.sinceEmit++

	emit := done >= t.total ||
		!ok ||
		(t.everyOps > 0 && t.sinceEmit >= t.everyOps) ||
		(t.everyMS > 0 && time.Since(t.lastEmit) >= time.Duration(t.everyMS)*time.Millisecond)

	if emit {
		t.sinceEmit = 0
		t.lastEmit = time.Now()
	}
	return emit
}
