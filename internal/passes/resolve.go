package passes

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/orizon-lang/ebpfir/internal/ir"
)

// ClassifyLoadUses decides whether the result of load is consumed
// exclusively as an address. A use is address-typed when the consuming op
// is itself a memory access and the loaded value fills its base slot;
// every other consumption, including the stored-value slot of a store, is
// value-typed. One occurrence can never be both; that exclusivity is
// checked, and its violation reported as an internal fault.
func ClassifyLoadUses(f *ir.Func, load ir.OpID) (LoadVerdict, error) {
	op := f.OpAt(load)
	if op.Kind != ir.OpLoad {
		return KeepAsInteger, errors.Errorf("op %d is %q, not a load", load, f.OpString(load))
	}
	uses := f.Uses(op.Result)
	if len(uses) == 0 {
		// A dead load denotes nothing; keep it unmodified.
		return KeepAsInteger, nil
	}
	for _, u := range uses {
		user := f.OpAt(u.Op)
		if user.Operands[u.Index] != op.Result {
			return KeepAsInteger, errors.Errorf(
				"use list of %s names op %d operand %d, which holds %s",
				op.Result, u.Op, u.Index, user.Operands[u.Index])
		}
		var addrTyped, valueTyped bool
		switch user.Kind {
		case ir.OpLoad, ir.OpStore, ir.OpLoadAddr:
			addrTyped = u.Index == ir.MemBase
			valueTyped = u.Index != ir.MemBase
		default:
			valueTyped = true
		}
		if addrTyped == valueTyped {
			return KeepAsInteger, errors.Errorf(
				"use of %s by op %d is neither address- nor value-typed exclusively", op.Result, u.Op)
		}
		if valueTyped {
			return KeepAsInteger, nil
		}
	}
	return Addressable, nil
}

// RewriteLoadAddr replaces an Addressable full-width load with an
// address-materializing op over the same base and offset, rewires its
// uses, and erases the load. A sub-word load reaching this point is an
// internal inconsistency: a 1/2/4-byte value cannot denote a pointer.
func RewriteLoadAddr(f *ir.Func, load ir.OpID) error {
	old := *f.OpAt(load)
	if old.Width != ir.PointerWidth {
		return errors.Wrapf(ErrSubWordAddress, "load %d has width %d", load, old.Width)
	}
	addr, err := f.InsertBefore(load, ir.Op{
		Kind:     ir.OpLoadAddr,
		Width:    old.Width,
		Operands: append([]ir.ValueID(nil), old.Operands...),
	})
	if err != nil {
		return err
	}
	f.ReplaceAllUses(old.Result, f.Result(addr))
	if n := len(f.Uses(old.Result)); n != 0 {
		return errors.Wrapf(ErrStaleUse, "load %d retains %d uses", load, n)
	}
	return f.EraseOp(load)
}

// ResolveMemoryPass classifies every load in the function and rewrites
// the ones proven to materialize addresses.
type ResolveMemoryPass struct {
	log *slog.Logger
}

// NewResolveMemoryPass returns the pass; a nil logger discards.
func NewResolveMemoryPass(log *slog.Logger) *ResolveMemoryPass {
	return &ResolveMemoryPass{log: orDiscard(log)}
}

// Run rewrites f in place and revalidates the def-use index.
func (p *ResolveMemoryPass) Run(f *ir.Func) error {
	for _, blk := range f.Blocks {
		loads := opsOfKind(f, blk, ir.OpLoad)
		for _, load := range loads {
			verdict, err := ClassifyLoadUses(f, load)
			if err != nil {
				return err
			}
			p.log.Debug("address-use verdict",
				"block", int(blk.ID), "op", int(load), "verdict", verdict.String())
			if verdict != Addressable {
				continue
			}
			if err := RewriteLoadAddr(f, load); err != nil {
				return err
			}
		}
	}
	return errors.Wrap(f.Validate(), "resolve-memory pass")
}
