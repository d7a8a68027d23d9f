package ir

import (
	"fmt"
	"strings"
)

var aluNames = [...]string{
	AluMov: "mov", AluMovsx8: "movsx8", AluMovsx16: "movsx16", AluMovsx32: "movsx32",
	AluAdd: "add", AluSub: "sub", AluMul: "mul",
	AluUDiv: "udiv", AluSDiv: "sdiv", AluUMod: "umod", AluSMod: "smod",
	AluOr: "or", AluAnd: "and", AluLsh: "lsh", AluRsh: "rsh", AluArsh: "arsh",
	AluXor: "xor",
}

func (k AluKind) String() string {
	if int(k) < len(aluNames) {
		return aluNames[k]
	}
	return "alu?"
}

var swapNames = [...]string{
	SwapBe16: "be16", SwapBe32: "be32", SwapBe64: "be64",
	SwapLe16: "le16", SwapLe32: "le32", SwapLe64: "le64",
	Swap16: "swap16", Swap32: "swap32", Swap64: "swap64",
}

func (k SwapKind) String() string {
	if int(k) < len(swapNames) {
		return swapNames[k]
	}
	return "swap?"
}

var predNames = [...]string{
	CmpEq: "eq", CmpNe: "ne", CmpSet: "set", CmpNSet: "nset",
	CmpULt: "ult", CmpULe: "ule", CmpUGt: "ugt", CmpUGe: "uge",
	CmpSLt: "slt", CmpSLe: "sle", CmpSGt: "sgt", CmpSGe: "sge",
}

func (p CmpPred) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return "cmp?"
}

func (v ValueID) String() string {
	if !v.Valid() {
		return "%?"
	}
	return fmt.Sprintf("%%%d", int32(v))
}

// String renders the function in a readable listing form, one op per
// line, blocks headed by "bbOFFSET(params):".
func (f *Func) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(%d regs) {\n", f.Name, f.NumRegs)
	for _, blk := range f.Blocks {
		b.WriteString(f.blockString(blk))
	}
	b.WriteString("}\n")
	return b.String()
}

func (f *Func) blockString(blk *Block) string {
	var b strings.Builder
	fmt.Fprintf(&b, "bb%d(", int(blk.ID))
	for i, p := range blk.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString("):\n")
	for _, id := range blk.Ops {
		b.WriteString("  ")
		b.WriteString(f.OpString(id))
		b.WriteByte('\n')
	}
	return b.String()
}

// OpString renders a single operation.
func (f *Func) OpString(id OpID) string {
	op := &f.ops[id]
	var b strings.Builder
	if op.Result.Valid() {
		fmt.Fprintf(&b, "%s = ", op.Result)
	}
	switch op.Kind {
	case OpConst:
		fmt.Fprintf(&b, "const %d", op.Imm)
	case OpAlu:
		fmt.Fprintf(&b, "%s %s, %s", op.Alu, op.Operands[0], op.Operands[1])
	case OpByteSwap:
		fmt.Fprintf(&b, "%s %s", op.Swap, op.Operands[0])
	case OpNeg:
		fmt.Fprintf(&b, "neg %s", op.Operands[0])
	case OpCmp:
		fmt.Fprintf(&b, "cmp.%s %s, %s", op.Pred, op.Operands[0], op.Operands[1])
	case OpLoad:
		fmt.Fprintf(&b, "load.%d %s, %s", op.Width, op.Operands[MemBase], op.Operands[MemOff])
	case OpStore:
		fmt.Fprintf(&b, "store.%d %s, %s, %s", op.Width,
			op.Operands[MemBase], op.Operands[MemOff], op.Operands[MemValue])
	case OpLoadMap:
		fmt.Fprintf(&b, "loadmap %s, %s", op.Operands[0], op.Operands[1])
	case OpLoadAddr:
		fmt.Fprintf(&b, "loadaddr %s, %s", op.Operands[MemBase], op.Operands[MemOff])
	case OpRead:
		fmt.Fprintf(&b, "read %s[%s]", op.Operands[0], op.Operands[1])
	case OpWrite:
		fmt.Fprintf(&b, "write %s, %s[%s]",
			op.Operands[WriteValue], op.Operands[WriteBase], op.Operands[WriteIndex])
	case OpWriteInPlace:
		fmt.Fprintf(&b, "write_inplace %s, %s[%s]",
			op.Operands[WriteValue], op.Operands[WriteBase], op.Operands[WriteIndex])
	case OpIte:
		fmt.Fprintf(&b, "ite %s, %s, %s",
			op.Operands[IteCond], op.Operands[IteThen], op.Operands[IteElse])
	case OpBranch:
		fmt.Fprintf(&b, "br bb%d(%s)", int(op.Target), valueList(op.Operands))
	case OpCondBranch:
		n := f.NumRegs
		fmt.Fprintf(&b, "brcond %s, bb%d(%s), bb%d(%s)", op.Operands[0],
			int(op.Target), valueList(op.Operands[1:1+n]),
			int(op.Else), valueList(op.Operands[1+n:]))
	case OpRet:
		fmt.Fprintf(&b, "ret %s", op.Operands[0])
	default:
		b.WriteString("<invalid>")
	}
	return b.String()
}

func valueList(vs []ValueID) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}
