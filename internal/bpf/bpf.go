// Package bpf defines the decoded eBPF instruction model consumed by the
// translator. It mirrors the shape of an already-unmarshaled instruction
// stream: a flat, ordered sequence of labeled instructions over a fixed
// register file. Decoding from ELF object files is a front-end concern and
// lives outside this module.
package bpf

import "fmt"

// Register file conventions. The translator threads all NumRegisters
// registers through every block; indices 0 and 10 are conventions of the
// eBPF ABI and are not enforced here.
const (
	NumRegisters = 11
	RegReturn    = 0
	RegStack     = 10
)

// Reg is a register index in [0, NumRegisters).
type Reg uint8

// Valid reports whether the register index is inside the fixed file.
func (r Reg) Valid() bool { return int(r) < NumRegisters }

func (r Reg) String() string { return fmt.Sprintf("r%d", uint8(r)) }

// Label identifies an instruction by its program-counter offset.
type Label struct {
	From int
}

// Operand is an immediate-or-register source operand.
type Operand struct {
	IsImm bool
	Imm   int64
	Reg   Reg
}

// Imm builds an immediate operand.
func Imm(v int64) Operand { return Operand{IsImm: true, Imm: v} }

// RegOp builds a register operand.
func RegOp(r Reg) Operand { return Operand{Reg: r} }

func (o Operand) String() string {
	if o.IsImm {
		return fmt.Sprintf("%d", o.Imm)
	}
	return o.Reg.String()
}

// AluOp enumerates binary ALU operations.
type AluOp int

const (
	AluMov AluOp = iota
	AluMovsx8
	AluMovsx16
	AluMovsx32
	AluAdd
	AluSub
	AluMul
	AluUDiv
	AluSDiv
	AluUMod
	AluSMod
	AluOr
	AluAnd
	AluLsh
	AluRsh
	AluArsh
	AluXor
)

var aluNames = [...]string{
	AluMov: "mov", AluMovsx8: "movsx8", AluMovsx16: "movsx16", AluMovsx32: "movsx32",
	AluAdd: "add", AluSub: "sub", AluMul: "mul",
	AluUDiv: "div", AluSDiv: "sdiv", AluUMod: "mod", AluSMod: "smod",
	AluOr: "or", AluAnd: "and", AluLsh: "lsh", AluRsh: "rsh", AluArsh: "arsh",
	AluXor: "xor",
}

func (op AluOp) String() string {
	if int(op) < len(aluNames) {
		return aluNames[op]
	}
	return "alu?"
}

// UnOp enumerates unary operations (byte swaps and negation).
type UnOp int

const (
	UnBe16 UnOp = iota
	UnBe32
	UnBe64
	UnLe16
	UnLe32
	UnLe64
	UnSwap16
	UnSwap32
	UnSwap64
	UnNeg
)

var unNames = [...]string{
	UnBe16: "be16", UnBe32: "be32", UnBe64: "be64",
	UnLe16: "le16", UnLe32: "le32", UnLe64: "le64",
	UnSwap16: "swap16", UnSwap32: "swap32", UnSwap64: "swap64",
	UnNeg: "neg",
}

func (op UnOp) String() string {
	if int(op) < len(unNames) {
		return unNames[op]
	}
	return "un?"
}

// JumpCond is the guard of a conditional jump; a nil *JumpCond on Jump
// means the jump is unconditional.
type JumpCond struct {
	Op    CondOp
	Left  Reg
	Right Operand
}

// CondOp enumerates jump comparison predicates.
type CondOp int

const (
	CondEq CondOp = iota
	CondNe
	CondSet
	CondNSet
	CondLt
	CondLe
	CondGt
	CondGe
	CondSLt
	CondSLe
	CondSGt
	CondSGe
)

var condNames = [...]string{
	CondEq: "eq", CondNe: "ne", CondSet: "set", CondNSet: "nset",
	CondLt: "lt", CondLe: "le", CondGt: "gt", CondGe: "ge",
	CondSLt: "slt", CondSLe: "sle", CondSGt: "sgt", CondSGe: "sge",
}

func (op CondOp) String() string {
	if int(op) < len(condNames) {
		return condNames[op]
	}
	return "cond?"
}

// Instruction is the decoded-instruction sum type. The set of kinds is
// sealed; the translator dispatches exhaustively over it.
type Instruction interface {
	isInstruction()
}

// Binary is a two-operand ALU instruction writing Dst.
type Binary struct {
	Op  AluOp
	Dst Reg
	Src Operand
}

// Unary is a single-register instruction rewriting Dst.
type Unary struct {
	Op  UnOp
	Dst Reg
}

// Memory is a load or store of Width bytes at [Base+Offset]. For loads,
// Value must be a register operand naming the destination; for stores it
// is the stored value (register or immediate).
type Memory struct {
	Width  int // 1, 2, 4 or 8
	IsLoad bool
	Base   Reg
	Offset int64
	Value  Operand
}

// LoadMapFd binds a map descriptor into Dst.
type LoadMapFd struct {
	Dst   Reg
	MapFd int64
}

// Jump transfers control to Target, unconditionally when Cond is nil.
type Jump struct {
	Cond   *JumpCond
	Target Label
}

// Exit terminates the program.
type Exit struct{}

// Call is a helper-function call; recognized and skipped by the
// translator.
type Call struct {
	Func int64
}

// Callx is an indirect helper call; recognized and skipped.
type Callx struct {
	Reg Reg
}

// Packet is a legacy packet-access instruction; recognized and skipped.
type Packet struct{}

// Atomic is an atomic read-modify-write; recognized and skipped.
type Atomic struct{}

// Assume is a verifier assumption; recognized and skipped.
type Assume struct{}

// Assert is a verifier assertion; recognized and skipped.
type Assert struct{}

// IncrementLoopCounter is verifier bookkeeping; recognized and skipped.
type IncrementLoopCounter struct{}

// Undefined is a slot the decoder could not classify; recognized and
// skipped.
type Undefined struct{}

func (Binary) isInstruction()               {}
func (Unary) isInstruction()                {}
func (Memory) isInstruction()               {}
func (LoadMapFd) isInstruction()            {}
func (Jump) isInstruction()                 {}
func (Exit) isInstruction()                 {}
func (Call) isInstruction()                 {}
func (Callx) isInstruction()                {}
func (Packet) isInstruction()               {}
func (Atomic) isInstruction()               {}
func (Assume) isInstruction()               {}
func (Assert) isInstruction()               {}
func (IncrementLoopCounter) isInstruction() {}
func (Undefined) isInstruction()            {}

// LabeledInstruction pairs an instruction with its program-counter label
// and an optional diagnostic note from the decoder.
type LabeledInstruction struct {
	Label Label
	Ins   Instruction
	Note  string
}

// Program is the ordered instruction sequence of one section. It is
// read-only once produced by the decoder.
type Program []LabeledInstruction

// At returns the instruction labeled with offset pc.
func (p Program) At(pc int) (LabeledInstruction, bool) {
	if pc < 0 || pc >= len(p) {
		return LabeledInstruction{}, false
	}
	return p[pc], true
}
