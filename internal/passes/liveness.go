package passes

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/orizon-lang/ebpfir/internal/ir"
)

// AnalyzeWrite decides whether the copying write w can become a
// destructive write. The proof obligations, in order:
//
//   - the written array has exactly one use, otherwise it is live
//     elsewhere and the copy must be kept;
//   - that use is an unconditional branch argument (nothing in this
//     function can still observe the pre-write array), or
//   - that use is one arm of an ite whose other arm is w's own base
//     array and whose result feeds only an unconditional branch — the
//     conditionally-updated-array idiom. Here mutating the base is only
//     safe once every remaining plain read of it has been moved ahead of
//     the write; a base use that is not a relocatable read blocks the
//     rewrite.
func AnalyzeWrite(f *ir.Func, w ir.OpID) (WriteVerdict, error) {
	op := f.OpAt(w)
	if op.Kind != ir.OpWrite {
		return WriteVerdict{}, errors.Errorf("op %d is %q, not a write", w, f.OpString(w))
	}
	uses := f.Uses(op.Result)
	if len(uses) != 1 {
		return WriteVerdict{Kind: LiveElsewhere}, nil
	}
	use := uses[0]
	switch f.OpAt(use.Op).Kind {
	case ir.OpBranch:
		return WriteVerdict{Kind: RewritableBranch}, nil
	case ir.OpIte:
		return analyzeMergedWrite(f, w, use)
	}
	return WriteVerdict{Kind: NotApplicable}, nil
}

// analyzeMergedWrite matches
//
//	%wr  = write %v, %A[%i]
//	%ite = ite %c, %wr, %A   (either arm order)
//	br ...(%ite)
//
// and collects the reads of %A that sit at or after the write.
func analyzeMergedWrite(f *ir.Func, w ir.OpID, use ir.Use) (WriteVerdict, error) {
	mergeID := use.Op
	merge := f.OpAt(mergeID)

	// The merged array must itself escape through exactly one
	// unconditional branch.
	mergeUses := f.Uses(merge.Result)
	if len(mergeUses) != 1 || f.OpAt(mergeUses[0].Op).Kind != ir.OpBranch {
		return WriteVerdict{Kind: NotApplicable}, nil
	}

	// The write feeds one arm; the other arm must be the write's own
	// base array.
	var other ir.ValueID
	switch use.Index {
	case ir.IteThen:
		other = merge.Operands[ir.IteElse]
	case ir.IteElse:
		other = merge.Operands[ir.IteThen]
	default:
		return WriteVerdict{Kind: NotApplicable}, nil
	}
	base := f.OpAt(w).Operands[ir.WriteBase]
	if other != base {
		return WriteVerdict{Kind: NotApplicable}, nil
	}

	hoist, ok := relocatableReads(f, base, w, mergeID)
	if !ok {
		return WriteVerdict{Kind: NotApplicable}, nil
	}
	return WriteVerdict{Kind: RewritableMerge, Hoist: hoist}, nil
}

// relocatableReads collects every use of base at or after w, excluding w
// itself and the merge. All of them must be plain reads in w's block whose
// operands are already defined ahead of w; anything else cannot be
// reordered safely.
func relocatableReads(f *ir.Func, base ir.ValueID, w, merge ir.OpID) ([]ir.OpID, bool) {
	wBlock := f.OpAt(w).Block
	wPos := f.Position(w)
	var hoist []ir.OpID
	for _, u := range f.Uses(base) {
		if u.Op == w || u.Op == merge {
			continue
		}
		user := f.OpAt(u.Op)
		if user.Block < wBlock {
			continue
		}
		if user.Block == wBlock && f.Position(u.Op) < wPos {
			continue
		}
		if user.Kind != ir.OpRead || user.Block != wBlock {
			return nil, false
		}
		if !f.CanMoveBefore(u.Op, w) {
			return nil, false
		}
		hoist = append(hoist, u.Op)
	}
	sort.Slice(hoist, func(i, j int) bool {
		return f.Position(hoist[i]) < f.Position(hoist[j])
	})
	return hoist, true
}

// RewriteWriteInPlace applies a Rewritable verdict to w: hoisted reads
// move directly ahead of the write in their original order, then the write
// is replaced by a destructive write with identical operands, its uses
// rewired, and the original erased. A negative verdict leaves the function
// untouched. A use surviving the rewire is ErrStaleUse.
func RewriteWriteInPlace(f *ir.Func, w ir.OpID, verdict WriteVerdict) error {
	if !verdict.Rewritable() {
		return nil
	}
	if verdict.Kind == RewritableMerge {
		for _, read := range verdict.Hoist {
			if err := f.MoveBefore(read, w); err != nil {
				return errors.Wrapf(err, "hoisting read %d ahead of write %d", read, w)
			}
		}
	}
	old := *f.OpAt(w)
	inPlace, err := f.InsertBefore(w, ir.Op{
		Kind:     ir.OpWriteInPlace,
		Operands: append([]ir.ValueID(nil), old.Operands...),
	})
	if err != nil {
		return err
	}
	f.ReplaceAllUses(old.Result, f.Result(inPlace))
	if n := len(f.Uses(old.Result)); n != 0 {
		return errors.Wrapf(ErrStaleUse, "write %d retains %d uses", w, n)
	}
	return f.EraseOp(w)
}

// WriteInPlacePass runs write-liveness analysis over every write in the
// function and rewrites the provably dead copies.
type WriteInPlacePass struct {
	log *slog.Logger
}

// NewWriteInPlacePass returns the pass; a nil logger discards.
func NewWriteInPlacePass(log *slog.Logger) *WriteInPlacePass {
	return &WriteInPlacePass{log: orDiscard(log)}
}

// Run rewrites f in place. The def-use index is revalidated afterwards;
// an inconsistent function aborts the translation.
func (p *WriteInPlacePass) Run(f *ir.Func) error {
	for _, blk := range f.Blocks {
		writes := opsOfKind(f, blk, ir.OpWrite)
		for _, w := range writes {
			verdict, err := AnalyzeWrite(f, w)
			if err != nil {
				return err
			}
			p.log.Debug("write-liveness verdict",
				"block", int(blk.ID), "op", int(w), "verdict", verdict.Kind.String())
			if err := RewriteWriteInPlace(f, w, verdict); err != nil {
				return err
			}
		}
	}
	return errors.Wrap(f.Validate(), "write-in-place pass")
}

// opsOfKind snapshots the ops of kind k in blk so rewrites can mutate the
// block's op list while iterating.
func opsOfKind(f *ir.Func, blk *ir.Block, k ir.OpKind) []ir.OpID {
	var out []ir.OpID
	for _, id := range blk.Ops {
		if f.OpAt(id).Kind == k {
			out = append(out, id)
		}
	}
	return out
}
