package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// twoBlockFunc builds bb0 -> bb4 with three registers threaded through.
func twoBlockFunc(t *testing.T) (*Func, *Block, *Block) {
	t.Helper()
	f := NewFunc("test", 3)
	b0, err := f.AddBlock(0)
	require.NoError(t, err)
	b4, err := f.AddBlock(4)
	require.NoError(t, err)
	return f, b0, b4
}

func seal(f *Func, b0, b4 *Block) {
	f.Append(b0, Op{Kind: OpBranch, Target: 4, Operands: append([]ValueID(nil), b0.Params...)})
	f.Append(b4, Op{Kind: OpRet, Operands: []ValueID{b4.Params[0]}})
}

func TestBlockOrderAndParams(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	require.Len(t, b0.Params, 3)
	require.Len(t, b4.Params, 3)
	require.True(t, f.IsParam(b0.Params[0]))
	require.Equal(t, BlockID(0), f.DefBlock(b0.Params[0]))

	_, err := f.AddBlock(4)
	require.Error(t, err, "duplicate id")
	_, err = f.AddBlock(2)
	require.Error(t, err, "ids must be added in ascending order")
}

func TestAppendRecordsUses(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	c := f.Append(b0, Op{Kind: OpConst, Imm: 7})
	cv := f.Result(c)
	alu := f.Append(b0, Op{Kind: OpAlu, Alu: AluAdd, Operands: []ValueID{b0.Params[0], cv}})
	seal(f, b0, b4)

	require.Equal(t, []Use{{Op: alu, Index: 1}}, f.Uses(cv))
	require.True(t, f.HasOneUse(cv))
	require.Equal(t, c, f.Def(cv))
	require.NoError(t, f.Validate())
}

func TestReplaceAllUsesAndErase(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	c1 := f.Append(b0, Op{Kind: OpConst, Imm: 1})
	c2 := f.Append(b0, Op{Kind: OpConst, Imm: 2})
	alu := f.Append(b0, Op{Kind: OpAlu, Alu: AluAdd, Operands: []ValueID{f.Result(c1), f.Result(c1)}})
	seal(f, b0, b4)

	require.Error(t, f.EraseOp(c1), "result still used")

	f.ReplaceAllUses(f.Result(c1), f.Result(c2))
	require.Empty(t, f.Uses(f.Result(c1)))
	require.Len(t, f.Uses(f.Result(c2)), 2)
	require.Equal(t, []ValueID{f.Result(c2), f.Result(c2)}, f.OpAt(alu).Operands)

	require.NoError(t, f.EraseOp(c1))
	require.Error(t, f.EraseOp(c1), "double erase")
	require.NoError(t, f.Validate())
}

func TestMoveBeforeDominance(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	c := f.Append(b0, Op{Kind: OpConst, Imm: 3})
	user := f.Append(b0, Op{Kind: OpAlu, Alu: AluMov, Operands: []ValueID{b0.Params[0], f.Result(c)}})
	other := f.Append(b0, Op{Kind: OpNeg, Operands: []ValueID{b0.Params[1]}})
	seal(f, b0, b4)

	require.Error(t, f.MoveBefore(user, c), "would read the const before it is defined")

	// other only reads a block parameter; it can move anywhere in bb0.
	require.NoError(t, f.MoveBefore(other, c))
	require.Equal(t, 0, f.Position(other))
	before, err := f.ComesBefore(other, c)
	require.NoError(t, err)
	require.True(t, before)
	require.NoError(t, f.Validate())
}

func TestInsertBeforeKeepsOrder(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	c := f.Append(b0, Op{Kind: OpConst, Imm: 9})
	seal(f, b0, b4)

	id, err := f.InsertBefore(c, Op{Kind: OpConst, Imm: 8})
	require.NoError(t, err)
	require.Equal(t, 0, f.Position(id))
	require.Equal(t, 1, f.Position(c))
	require.NoError(t, f.Validate())
}

func TestValidateRejectsMissingTerminator(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	f.Append(b0, Op{Kind: OpBranch, Target: 4, Operands: append([]ValueID(nil), b0.Params...)})
	_ = b4 // bb4 left unterminated
	require.ErrorContains(t, f.Validate(), "no terminator")
}

func TestValidateRejectsBadEdge(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	f.Append(b0, Op{Kind: OpBranch, Target: 17, Operands: append([]ValueID(nil), b0.Params...)})
	f.Append(b4, Op{Kind: OpRet, Operands: []ValueID{b4.Params[0]}})
	require.ErrorContains(t, f.Validate(), "unknown block")

	g, g0, g4 := twoBlockFunc(t)
	g.Append(g0, Op{Kind: OpBranch, Target: 4, Operands: g0.Params[:2]})
	g.Append(g4, Op{Kind: OpRet, Operands: []ValueID{g4.Params[0]}})
	require.ErrorContains(t, g.Validate(), "arguments")
}

func TestValidateRejectsCorruptedUseList(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	c := f.Append(b0, Op{Kind: OpConst, Imm: 5})
	f.Append(b0, Op{Kind: OpNeg, Operands: []ValueID{f.Result(c)}})
	seal(f, b0, b4)
	require.NoError(t, f.Validate())

	// Drop the recorded use behind the operand's back.
	f.values[f.Result(c)].uses = nil
	require.Error(t, f.Validate())
}

func TestValidateRejectsTerminatorMidBlock(t *testing.T) {
	f, b0, b4 := twoBlockFunc(t)
	seal(f, b0, b4)
	// Slip a const in after the branch.
	f.Append(b0, Op{Kind: OpConst, Imm: 1})
	require.ErrorContains(t, f.Validate(), "final position")
}
