package ir

import (
	"github.com/pkg/errors"
)

// Validate checks the structural invariants of the function: sorted unique
// block ids, resolvable branch targets with full argument lists, exactly
// one terminator per block in final position, live operands, and a def-use
// index that matches the operand lists in both directions. Passes call it
// after rewriting; a failure is an internal fault, not an input error.
func (f *Func) Validate() error {
	seenUses := make(map[ValueID][]Use)
	for i, blk := range f.Blocks {
		if i > 0 && f.Blocks[i-1].ID >= blk.ID {
			return errors.Errorf("block ids not strictly ascending at bb%d", int(blk.ID))
		}
		if len(blk.Params) != f.NumRegs {
			return errors.Errorf("bb%d has %d params, want %d", int(blk.ID), len(blk.Params), f.NumRegs)
		}
		term := f.Terminator(blk)
		for _, id := range blk.Ops {
			op := &f.ops[id]
			if op.dead {
				return errors.Errorf("bb%d lists erased op %d", int(blk.ID), id)
			}
			if op.Block != blk.ID {
				return errors.Errorf("op %d recorded in bb%d but listed in bb%d", id, int(op.Block), int(blk.ID))
			}
			if op.IsTerminator() && id != term {
				return errors.Errorf("terminator %q not in final position of bb%d", f.OpString(id), int(blk.ID))
			}
			if err := f.validateOperands(id); err != nil {
				return err
			}
			for idx, v := range op.Operands {
				seenUses[v] = append(seenUses[v], Use{Op: id, Index: idx})
			}
		}
		if term == 0 {
			return errors.Errorf("bb%d has no terminator", int(blk.ID))
		}
	}
	return f.validateUses(seenUses)
}

func (f *Func) validateOperands(id OpID) error {
	op := &f.ops[id]
	for idx, v := range op.Operands {
		if !v.Valid() || int(v) >= len(f.values) {
			return errors.Errorf("op %d operand %d is not a value", id, idx)
		}
		if def := f.values[v].def; def.Valid() && f.ops[def].dead {
			return errors.Errorf("op %d operand %d refers to erased op %d", id, idx, def)
		}
	}
	switch op.Kind {
	case OpBranch:
		if err := f.validateEdge(id, op.Target, len(op.Operands)); err != nil {
			return err
		}
	case OpCondBranch:
		if len(op.Operands) != 1+2*f.NumRegs {
			return errors.Errorf("brcond %d carries %d operands, want %d", id, len(op.Operands), 1+2*f.NumRegs)
		}
		if err := f.validateEdge(id, op.Target, f.NumRegs); err != nil {
			return err
		}
		if err := f.validateEdge(id, op.Else, f.NumRegs); err != nil {
			return err
		}
	case OpLoad, OpStore:
		switch op.Width {
		case 1, 2, 4, 8:
		default:
			return errors.Errorf("op %d has width %d, want 1, 2, 4 or 8", id, op.Width)
		}
	}
	return nil
}

func (f *Func) validateEdge(id OpID, target BlockID, nargs int) error {
	dest := f.blockByID[target]
	if dest == nil {
		return errors.Errorf("op %d targets unknown block bb%d", id, int(target))
	}
	if nargs != len(dest.Params) {
		return errors.Errorf("op %d passes %d arguments to bb%d, want %d", id, nargs, int(target), len(dest.Params))
	}
	return nil
}

func (f *Func) validateUses(seen map[ValueID][]Use) error {
	for v := ValueID(1); int(v) < len(f.values); v++ {
		recorded := f.values[v].uses
		actual := seen[v]
		if len(recorded) != len(actual) {
			return errors.Errorf("value %s records %d uses, found %d", v, len(recorded), len(actual))
		}
		counts := make(map[Use]int, len(recorded))
		for _, u := range recorded {
			counts[u]++
		}
		for _, u := range actual {
			counts[u]--
			if counts[u] < 0 {
				return errors.Errorf("value %s is missing recorded use by op %d operand %d", v, u.Op, u.Index)
			}
		}
		for u, n := range counts {
			if n != 0 {
				return errors.Errorf("value %s records a use by op %d operand %d that does not exist", v, u.Op, u.Index)
			}
		}
	}
	return nil
}
