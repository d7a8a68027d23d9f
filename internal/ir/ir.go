// Package ir defines the block-structured SSA form produced by the
// translator and rewritten by the analysis passes. Operations live in a
// per-function arena and refer to values by identifier, never by pointer;
// every value carries a recorded use list, so the def-use graph can be
// checked after each rewrite instead of being trusted.
//
// Control-flow merges are expressed as block parameters: every block takes
// the full register file as parameters and every branch edge supplies a
// matching argument list.
package ir

import (
	"github.com/pkg/errors"
)

// ValueID names an SSA value. Zero is the invalid sentinel.
type ValueID int32

// OpID names an operation in the function's arena. Zero is the invalid
// sentinel.
type OpID int32

// BlockID is the program-counter offset of the block's first instruction.
type BlockID int

// Valid reports whether the id refers to a value.
func (v ValueID) Valid() bool { return v != 0 }

// Valid reports whether the id refers to an operation.
func (o OpID) Valid() bool { return o != 0 }

// OpKind enumerates the operation forms of the IR.
type OpKind int

const (
	OpInvalid OpKind = iota

	OpConst    // integer constant; Imm = value
	OpAlu      // binary ALU; Alu = sub-kind; operands LHS, RHS
	OpByteSwap // endianness/byte swap; Swap = sub-kind; operand V
	OpNeg      // arithmetic negation; operand V
	OpCmp      // comparison producing 0/1; Pred = predicate; operands LHS, RHS

	OpLoad     // memory load; Width = 1|2|4|8; operands Base, Offset
	OpStore    // memory store; Width = 1|2|4|8; operands Base, Offset, Value
	OpLoadMap  // map-descriptor load; operands Dst-old, Fd
	OpLoadAddr // address materialization; operands Base, Offset

	OpRead         // array read; operands Base, Index
	OpWrite        // copying array write; operands Value, Base, Index
	OpWriteInPlace // destructive array write; operands Value, Base, Index
	OpIte          // value merge; operands Cond, Then, Else

	OpBranch     // terminator; Target; operands = edge arguments
	OpCondBranch // terminator; Target/Else; operands Cond + taken args + else args
	OpRet        // terminator; operand Value
)

// Operand slot conventions for the memory and array kinds. A value feeding
// one of these slots is address-typed only in the base slot.
const (
	MemBase  = 0 // OpLoad, OpStore, OpLoadAddr
	MemOff   = 1
	MemValue = 2 // OpStore only

	WriteValue = 0 // OpWrite, OpWriteInPlace
	WriteBase  = 1
	WriteIndex = 2

	IteCond = 0
	IteThen = 1
	IteElse = 2
)

// PointerWidth is the only load width that can denote an address.
const PointerWidth = 8

// AluKind enumerates OpAlu sub-kinds.
type AluKind int

const (
	AluMov AluKind = iota
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

// SwapKind enumerates OpByteSwap sub-kinds.
type SwapKind int

const (
	SwapBe16 SwapKind = iota
	SwapBe32
	SwapBe64
	SwapLe16
	SwapLe32
	SwapLe64
	Swap16
	Swap32
	Swap64
)

// CmpPred enumerates OpCmp predicates.
type CmpPred int

const (
	CmpEq CmpPred = iota
	CmpNe
	CmpSet
	CmpNSet
	CmpULt
	CmpULe
	CmpUGt
	CmpUGe
	CmpSLt
	CmpSLe
	CmpSGt
	CmpSGe
)

// Op is one operation in the arena. Operands and the result are value
// ids; Target/Else name successor blocks for the branch kinds.
type Op struct {
	Kind     OpKind
	Block    BlockID
	Operands []ValueID
	Result   ValueID // 0 when the kind produces no value

	Alu   AluKind
	Swap  SwapKind
	Pred  CmpPred
	Width int
	Imm   int64

	Target BlockID // OpBranch, OpCondBranch (taken edge)
	Else   BlockID // OpCondBranch (fallthrough edge)

	dead bool
}

// IsTerminator reports whether the kind ends a block.
func (op *Op) IsTerminator() bool {
	switch op.Kind {
	case OpBranch, OpCondBranch, OpRet:
		return true
	}
	return false
}

// Use records one occurrence of a value as an operand: which operation
// consumes it and at which operand index.
type Use struct {
	Op    OpID
	Index int
}

// Block holds the ordered operation list of one basic block. The last
// entry, once the block is sealed, is its terminator.
type Block struct {
	ID     BlockID
	Params []ValueID // one per register
	Ops    []OpID
}

type valueSlot struct {
	def      OpID    // 0 for block parameters
	defBlock BlockID // block of the defining op or parameter
	index    int     // result slot (ops) or parameter index (params)
	uses     []Use
}

// Func is one translated function: a sorted block list plus the op and
// value arenas shared by all blocks.
type Func struct {
	Name    string
	NumRegs int
	Blocks  []*Block

	blockByID map[BlockID]*Block
	ops       []Op        // index = OpID; slot 0 unused
	values    []valueSlot // index = ValueID; slot 0 unused
}

// NewFunc creates an empty function whose blocks each carry numRegs
// parameters.
func NewFunc(name string, numRegs int) *Func {
	return &Func{
		Name:      name,
		NumRegs:   numRegs,
		blockByID: make(map[BlockID]*Block),
		ops:       make([]Op, 1),
		values:    make([]valueSlot, 1),
	}
}

// AddBlock creates the block with the given id and its parameter values.
// Blocks must be added in ascending id order; ids are unique.
func (f *Func) AddBlock(id BlockID) (*Block, error) {
	if _, ok := f.blockByID[id]; ok {
		return nil, errors.Errorf("duplicate block id %d", id)
	}
	if n := len(f.Blocks); n > 0 && f.Blocks[n-1].ID >= id {
		return nil, errors.Errorf("block id %d not above predecessor %d", id, f.Blocks[n-1].ID)
	}
	b := &Block{ID: id, Params: make([]ValueID, f.NumRegs)}
	for i := range b.Params {
		b.Params[i] = f.newValue(valueSlot{defBlock: id, index: i})
	}
	f.Blocks = append(f.Blocks, b)
	f.blockByID[id] = b
	return b, nil
}

// BlockByID returns the block with the given id, or nil.
func (f *Func) BlockByID(id BlockID) *Block {
	return f.blockByID[id]
}

// Entry returns the first block.
func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// OpAt returns the arena entry for id. The pointer stays valid only until
// the next Append/InsertBefore.
func (f *Func) OpAt(id OpID) *Op {
	return &f.ops[id]
}

// Result returns the value produced by op, or 0.
func (f *Func) Result(id OpID) ValueID {
	return f.ops[id].Result
}

// Uses returns the recorded consumers of v. The slice is shared; callers
// that mutate the function while walking it must copy first.
func (f *Func) Uses(v ValueID) []Use {
	return f.values[v].uses
}

// HasOneUse reports whether v has exactly one recorded use.
func (f *Func) HasOneUse(v ValueID) bool {
	return len(f.values[v].uses) == 1
}

// Def returns the operation defining v, or 0 when v is a block parameter.
func (f *Func) Def(v ValueID) OpID {
	return f.values[v].def
}

// DefBlock returns the block in which v is defined.
func (f *Func) DefBlock(v ValueID) BlockID {
	return f.values[v].defBlock
}

// IsParam reports whether v is a block parameter.
func (f *Func) IsParam(v ValueID) bool {
	return v.Valid() && !f.values[v].def.Valid()
}

func (f *Func) newValue(s valueSlot) ValueID {
	f.values = append(f.values, s)
	return ValueID(len(f.values) - 1)
}

// Append places op at the end of block b, allocating its result value when
// the kind produces one, and records the operand uses.
func (f *Func) Append(b *Block, op Op) OpID {
	return f.insert(b, op, len(b.Ops))
}

// InsertBefore places op immediately before the existing operation pos in
// its block.
func (f *Func) InsertBefore(pos OpID, op Op) (OpID, error) {
	b := f.blockByID[f.ops[pos].Block]
	at := f.position(b, pos)
	if at < 0 {
		return 0, errors.Errorf("op %d not found in block %d", pos, b.ID)
	}
	return f.insert(b, op, at), nil
}

func (f *Func) insert(b *Block, op Op, at int) OpID {
	op.Block = b.ID
	id := OpID(len(f.ops))
	if hasResult(op.Kind) {
		op.Result = f.newValue(valueSlot{def: id, defBlock: b.ID})
	}
	f.ops = append(f.ops, op)
	b.Ops = append(b.Ops, 0)
	copy(b.Ops[at+1:], b.Ops[at:])
	b.Ops[at] = id
	for i, v := range op.Operands {
		f.addUse(v, Use{Op: id, Index: i})
	}
	return id
}

func hasResult(k OpKind) bool {
	switch k {
	case OpConst, OpAlu, OpByteSwap, OpNeg, OpCmp,
		OpLoad, OpLoadMap, OpLoadAddr,
		OpRead, OpWrite, OpWriteInPlace, OpIte:
		return true
	}
	return false
}

func (f *Func) addUse(v ValueID, u Use) {
	f.values[v].uses = append(f.values[v].uses, u)
}

func (f *Func) dropUse(v ValueID, u Use) {
	uses := f.values[v].uses
	for i, have := range uses {
		if have == u {
			f.values[v].uses = append(uses[:i], uses[i+1:]...)
			return
		}
	}
}

// ReplaceAllUses rewires every recorded use of old to new and leaves old
// with an empty use list.
func (f *Func) ReplaceAllUses(old, new ValueID) {
	if old == new {
		return
	}
	uses := f.values[old].uses
	f.values[old].uses = nil
	for _, u := range uses {
		f.ops[u.Op].Operands[u.Index] = new
		f.addUse(new, u)
	}
}

// EraseOp removes id from its block and the def-use index. The result, if
// any, must already be use-free.
func (f *Func) EraseOp(id OpID) error {
	op := &f.ops[id]
	if op.dead {
		return errors.Errorf("op %d erased twice", id)
	}
	if op.Result.Valid() && len(f.values[op.Result].uses) > 0 {
		return errors.Errorf("op %d still has %d uses of its result", id, len(f.values[op.Result].uses))
	}
	b := f.blockByID[op.Block]
	at := f.position(b, id)
	if at < 0 {
		return errors.Errorf("op %d not found in block %d", id, op.Block)
	}
	b.Ops = append(b.Ops[:at], b.Ops[at+1:]...)
	for i, v := range op.Operands {
		f.dropUse(v, Use{Op: id, Index: i})
	}
	op.dead = true
	return nil
}

// position returns the index of id in b.Ops, or -1.
func (f *Func) position(b *Block, id OpID) int {
	for i, have := range b.Ops {
		if have == id {
			return i
		}
	}
	return -1
}

// Position returns the index of id within its own block's op list.
func (f *Func) Position(id OpID) int {
	return f.position(f.blockByID[f.ops[id].Block], id)
}

// ComesBefore reports whether a executes strictly before b. Both must
// belong to the same block.
func (f *Func) ComesBefore(a, b OpID) (bool, error) {
	if f.ops[a].Block != f.ops[b].Block {
		return false, errors.Errorf("ops %d and %d are in different blocks", a, b)
	}
	return f.Position(a) < f.Position(b), nil
}

// CanMoveBefore reports whether relocating id to immediately precede
// before keeps every operand of id defined ahead of its new position.
// Block parameters and defs from other blocks always qualify.
func (f *Func) CanMoveBefore(id, before OpID) bool {
	op := &f.ops[id]
	if op.Block != f.ops[before].Block {
		return false
	}
	limit := f.Position(before)
	for _, v := range op.Operands {
		def := f.values[v].def
		if !def.Valid() || f.ops[def].Block != op.Block {
			continue
		}
		if f.Position(def) >= limit {
			return false
		}
	}
	return true
}

// MoveBefore relocates id to immediately precede before within their
// shared block. The move is validated against the recorded defs of id's
// operands first and rejected if it would break dominance.
func (f *Func) MoveBefore(id, before OpID) error {
	if !f.CanMoveBefore(id, before) {
		return errors.Errorf("moving op %d before op %d would break operand dominance", id, before)
	}
	b := f.blockByID[f.ops[id].Block]
	from := f.position(b, id)
	b.Ops = append(b.Ops[:from], b.Ops[from+1:]...)
	to := f.position(b, before)
	b.Ops = append(b.Ops, 0)
	copy(b.Ops[to+1:], b.Ops[to:])
	b.Ops[to] = id
	return nil
}

// Terminator returns the block's terminating op, or 0 if the block is
// empty or its last op is not a terminator.
func (f *Func) Terminator(b *Block) OpID {
	if len(b.Ops) == 0 {
		return 0
	}
	last := b.Ops[len(b.Ops)-1]
	if !f.ops[last].IsTerminator() {
		return 0
	}
	return last
}
