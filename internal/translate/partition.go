// Package translate turns a decoded bpf.Program into an ir.Func: it
// partitions the instruction stream into basic blocks at jump boundaries,
// then lowers each instruction in program order with the register file
// threaded through block parameters.
//
// The input must be forward-jump-only. This is a documented precondition
// of the whole pipeline, not a recoverable condition; programs with loop
// back-edges are rejected outright.
package translate

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/orizon-lang/ebpfir/internal/bpf"
)

// Fatal invariant violations reported by the translator. They wrap the
// offending offsets; match with errors.Is.
var (
	ErrBackwardJump      = errors.New("jump target is not strictly forward")
	ErrNoSuchTarget      = errors.New("jump target outside program")
	ErrBadRegister       = errors.New("register index out of range")
	ErrMissingTerminator = errors.New("no room for a return terminator at function end")
)

// Partition computes the sorted, deduplicated block-start offsets of
// prog. Offset 0 is always a start; every jump target is a start; the
// instruction after a conditional jump is a start (its fallthrough edge).
func Partition(prog bpf.Program) ([]int, error) {
	starts := map[int]bool{0: true}
	for _, li := range prog {
		jmp, ok := li.Ins.(bpf.Jump)
		if !ok {
			continue
		}
		target := jmp.Target.From
		if target <= li.Label.From {
			return nil, errors.Wrapf(ErrBackwardJump, "jump at %d targets %d", li.Label.From, target)
		}
		labeled, ok := prog.At(target)
		if !ok || labeled.Label.From != target {
			return nil, errors.Wrapf(ErrNoSuchTarget, "jump at %d targets %d", li.Label.From, target)
		}
		starts[target] = true
		if jmp.Cond != nil {
			fallthru := li.Label.From + 1
			if _, ok := prog.At(fallthru); !ok {
				return nil, errors.Wrapf(ErrNoSuchTarget,
					"conditional jump at %d has no fallthrough instruction", li.Label.From)
			}
			starts[fallthru] = true
		}
	}
	out := make([]int, 0, len(starts))
	for s := range starts {
		out = append(out, s)
	}
	sort.Ints(out)
	return out, nil
}
