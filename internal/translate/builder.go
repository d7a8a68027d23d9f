package translate

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/orizon-lang/ebpfir/internal/bpf"
	"github.com/orizon-lang/ebpfir/internal/ir"
)

// FuncName is the name given to the translated entry function.
const FuncName = "xdp_entry"

// Builder lowers programs to IR. The logger is injected by the caller;
// nil discards.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a Builder logging through log.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{log: log}
}

// Translate builds the SSA function for prog. Every block takes the full
// register file as parameters; every edge passes it back as arguments.
// The function returns register 0's final value.
func (b *Builder) Translate(prog bpf.Program) (*ir.Func, error) {
	starts, err := Partition(prog)
	if err != nil {
		return nil, err
	}
	b.log.Debug("partitioned program", "instructions", len(prog), "blocks", len(starts))

	st := &lowering{
		log:  b.log,
		fn:   ir.NewFunc(FuncName, bpf.NumRegisters),
		prog: prog,
		regs: make([]ir.ValueID, bpf.NumRegisters),
	}
	for _, s := range starts {
		if _, err := st.fn.AddBlock(ir.BlockID(s)); err != nil {
			return nil, err
		}
	}

	for i, start := range starts {
		end := len(prog)
		last := i == len(starts)-1
		if !last {
			end = starts[i+1]
		}
		if err := st.lowerSegment(start, end, last); err != nil {
			return nil, err
		}
	}
	if err := st.fn.Validate(); err != nil {
		return nil, errors.Wrap(err, "translated function fails validation")
	}
	return st.fn, nil
}

// lowering is the per-translation state: the function being built and the
// current register bindings.
type lowering struct {
	log  *slog.Logger
	fn   *ir.Func
	prog bpf.Program
	cur  *ir.Block
	regs []ir.ValueID
}

// lowerSegment lowers prog[start:end] into the block starting at start.
// Blocks without an explicit jump get a synthesized fallthrough branch;
// the final block gets the function's return.
func (st *lowering) lowerSegment(start, end int, last bool) error {
	st.cur = st.fn.BlockByID(ir.BlockID(start))
	copy(st.regs, st.cur.Params)
	for pc := start; pc < end; pc++ {
		if st.fn.Terminator(st.cur) != 0 {
			// Nothing jumps here, or it would be a block start.
			st.log.Debug("skipping unreachable tail", "block", start, "pc", pc)
			break
		}
		if err := st.lower(st.prog[pc]); err != nil {
			return err
		}
	}
	if st.fn.Terminator(st.cur) != 0 {
		if last {
			// The final value of register 0 would be unreachable.
			return errors.Wrapf(ErrMissingTerminator, "block bb%d", start)
		}
		return nil
	}
	if last {
		st.fn.Append(st.cur, ir.Op{Kind: ir.OpRet, Operands: []ir.ValueID{st.regs[bpf.RegReturn]}})
		return nil
	}
	// Structural fallthrough becomes an explicit edge.
	st.fn.Append(st.cur, ir.Op{
		Kind:     ir.OpBranch,
		Target:   st.nextBlockID(),
		Operands: st.regFile(),
	})
	return nil
}

func (st *lowering) nextBlockID() ir.BlockID {
	for _, blk := range st.fn.Blocks {
		if blk.ID > st.cur.ID {
			return blk.ID
		}
	}
	return st.cur.ID // unreachable: lowerSegment only falls through when a next block exists
}

// lower dispatches one instruction. Kinds outside the lowered subset are
// recognized and skipped on purpose.
func (st *lowering) lower(li bpf.LabeledInstruction) error {
	switch ins := li.Ins.(type) {
	case bpf.Binary:
		return st.lowerBinary(ins)
	case bpf.Unary:
		return st.lowerUnary(ins)
	case bpf.Memory:
		return st.lowerMemory(ins)
	case bpf.LoadMapFd:
		return st.lowerLoadMapFd(ins)
	case bpf.Jump:
		return st.lowerJump(ins, li.Label)
	case bpf.Exit:
		// The function result is materialized once, at function end.
		return nil
	case bpf.Call, bpf.Callx, bpf.Packet, bpf.Atomic,
		bpf.Assume, bpf.Assert, bpf.IncrementLoopCounter, bpf.Undefined:
		st.log.Debug("skipping unlowered instruction", "pc", li.Label.From, "ins", li.Note)
		return nil
	}
	return errors.Errorf("pc %d: unrecognized instruction %T", li.Label.From, li.Ins)
}

var aluKinds = map[bpf.AluOp]ir.AluKind{
	bpf.AluMov: ir.AluMov, bpf.AluMovsx8: ir.AluMovsx8,
	bpf.AluMovsx16: ir.AluMovsx16, bpf.AluMovsx32: ir.AluMovsx32,
	bpf.AluAdd: ir.AluAdd, bpf.AluSub: ir.AluSub, bpf.AluMul: ir.AluMul,
	bpf.AluUDiv: ir.AluUDiv, bpf.AluSDiv: ir.AluSDiv,
	bpf.AluUMod: ir.AluUMod, bpf.AluSMod: ir.AluSMod,
	bpf.AluOr: ir.AluOr, bpf.AluAnd: ir.AluAnd,
	bpf.AluLsh: ir.AluLsh, bpf.AluRsh: ir.AluRsh, bpf.AluArsh: ir.AluArsh,
	bpf.AluXor: ir.AluXor,
}

var swapKinds = map[bpf.UnOp]ir.SwapKind{
	bpf.UnBe16: ir.SwapBe16, bpf.UnBe32: ir.SwapBe32, bpf.UnBe64: ir.SwapBe64,
	bpf.UnLe16: ir.SwapLe16, bpf.UnLe32: ir.SwapLe32, bpf.UnLe64: ir.SwapLe64,
	bpf.UnSwap16: ir.Swap16, bpf.UnSwap32: ir.Swap32, bpf.UnSwap64: ir.Swap64,
}

var cmpPreds = map[bpf.CondOp]ir.CmpPred{
	bpf.CondEq: ir.CmpEq, bpf.CondNe: ir.CmpNe,
	bpf.CondSet: ir.CmpSet, bpf.CondNSet: ir.CmpNSet,
	bpf.CondLt: ir.CmpULt, bpf.CondLe: ir.CmpULe,
	bpf.CondGt: ir.CmpUGt, bpf.CondGe: ir.CmpUGe,
	bpf.CondSLt: ir.CmpSLt, bpf.CondSLe: ir.CmpSLe,
	bpf.CondSGt: ir.CmpSGt, bpf.CondSGe: ir.CmpSGe,
}

func (st *lowering) lowerBinary(ins bpf.Binary) error {
	lhs, err := st.reg(ins.Dst)
	if err != nil {
		return err
	}
	rhs, err := st.operand(ins.Src)
	if err != nil {
		return err
	}
	id := st.fn.Append(st.cur, ir.Op{
		Kind:     ir.OpAlu,
		Alu:      aluKinds[ins.Op],
		Operands: []ir.ValueID{lhs, rhs},
	})
	st.regs[ins.Dst] = st.fn.Result(id)
	return nil
}

func (st *lowering) lowerUnary(ins bpf.Unary) error {
	v, err := st.reg(ins.Dst)
	if err != nil {
		return err
	}
	op := ir.Op{Kind: ir.OpByteSwap, Operands: []ir.ValueID{v}}
	if ins.Op == bpf.UnNeg {
		op = ir.Op{Kind: ir.OpNeg, Operands: []ir.ValueID{v}}
	} else {
		op.Swap = swapKinds[ins.Op]
	}
	id := st.fn.Append(st.cur, op)
	st.regs[ins.Dst] = st.fn.Result(id)
	return nil
}

func (st *lowering) lowerMemory(ins bpf.Memory) error {
	base, err := st.reg(ins.Base)
	if err != nil {
		return err
	}
	off := st.constant(ins.Offset)
	if ins.IsLoad {
		if ins.Value.IsImm {
			return errors.Errorf("load destination must be a register, got immediate %d", ins.Value.Imm)
		}
		if !ins.Value.Reg.Valid() {
			return errors.Wrapf(ErrBadRegister, "load destination %s", ins.Value.Reg)
		}
		id := st.fn.Append(st.cur, ir.Op{
			Kind:     ir.OpLoad,
			Width:    ins.Width,
			Operands: []ir.ValueID{base, off},
		})
		st.regs[ins.Value.Reg] = st.fn.Result(id)
		return nil
	}
	val, err := st.operand(ins.Value)
	if err != nil {
		return err
	}
	st.fn.Append(st.cur, ir.Op{
		Kind:     ir.OpStore,
		Width:    ins.Width,
		Operands: []ir.ValueID{base, off, val},
	})
	return nil
}

func (st *lowering) lowerLoadMapFd(ins bpf.LoadMapFd) error {
	dst, err := st.reg(ins.Dst)
	if err != nil {
		return err
	}
	fd := st.constant(ins.MapFd)
	id := st.fn.Append(st.cur, ir.Op{
		Kind:     ir.OpLoadMap,
		Operands: []ir.ValueID{dst, fd},
	})
	st.regs[ins.Dst] = st.fn.Result(id)
	return nil
}

func (st *lowering) lowerJump(ins bpf.Jump, label bpf.Label) error {
	target := ir.BlockID(ins.Target.From)
	if st.fn.BlockByID(target) == nil {
		return errors.Wrapf(ErrNoSuchTarget, "jump at %d targets %d", label.From, ins.Target.From)
	}
	if ins.Cond == nil {
		st.fn.Append(st.cur, ir.Op{
			Kind:     ir.OpBranch,
			Target:   target,
			Operands: st.regFile(),
		})
		return nil
	}
	lhs, err := st.reg(ins.Cond.Left)
	if err != nil {
		return err
	}
	rhs, err := st.operand(ins.Cond.Right)
	if err != nil {
		return err
	}
	cmp := st.fn.Append(st.cur, ir.Op{
		Kind:     ir.OpCmp,
		Pred:     cmpPreds[ins.Cond.Op],
		Operands: []ir.ValueID{lhs, rhs},
	})
	fallthru := ir.BlockID(label.From + 1)
	if st.fn.BlockByID(fallthru) == nil {
		return errors.Wrapf(ErrNoSuchTarget, "conditional jump at %d has no fallthrough block", label.From)
	}
	operands := append([]ir.ValueID{st.fn.Result(cmp)}, st.regFile()...)
	operands = append(operands, st.regFile()...)
	st.fn.Append(st.cur, ir.Op{
		Kind:     ir.OpCondBranch,
		Target:   target,
		Else:     fallthru,
		Operands: operands,
	})
	return nil
}

func (st *lowering) reg(r bpf.Reg) (ir.ValueID, error) {
	if !r.Valid() {
		return 0, errors.Wrapf(ErrBadRegister, "%s", r)
	}
	return st.regs[r], nil
}

func (st *lowering) operand(o bpf.Operand) (ir.ValueID, error) {
	if o.IsImm {
		return st.constant(o.Imm), nil
	}
	return st.reg(o.Reg)
}

func (st *lowering) constant(v int64) ir.ValueID {
	id := st.fn.Append(st.cur, ir.Op{Kind: ir.OpConst, Imm: v})
	return st.fn.Result(id)
}

func (st *lowering) regFile() []ir.ValueID {
	return append([]ir.ValueID(nil), st.regs...)
}
