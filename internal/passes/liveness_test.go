package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/ebpfir/internal/ir"
)

// arrayFunc builds an empty two-block function with three registers; the
// caller fills bb0 and must branch to bb8.
func arrayFunc(t *testing.T) (*ir.Func, *ir.Block, *ir.Block) {
	t.Helper()
	f := ir.NewFunc("mem", 3)
	b0, err := f.AddBlock(0)
	require.NoError(t, err)
	b8, err := f.AddBlock(8)
	require.NoError(t, err)
	f.Append(b8, ir.Op{Kind: ir.OpRet, Operands: []ir.ValueID{b8.Params[0]}})
	return f, b0, b8
}

func branchTo8(f *ir.Func, b0 *ir.Block, args ...ir.ValueID) ir.OpID {
	return f.Append(b0, ir.Op{Kind: ir.OpBranch, Target: 8, Operands: args})
}

func liveOps(f *ir.Func) int {
	n := 0
	for _, blk := range f.Blocks {
		n += len(blk.Ops)
	}
	return n
}

func kindOps(f *ir.Func, kind ir.OpKind) []ir.OpID {
	var out []ir.OpID
	for _, blk := range f.Blocks {
		for _, id := range blk.Ops {
			if f.OpAt(id).Kind == kind {
				out = append(out, id)
			}
		}
	}
	return out
}

func TestAnalyzeWriteLiveElsewhere(t *testing.T) {
	f, b0, _ := arrayFunc(t)
	p := b0.Params
	w := f.Append(b0, ir.Op{Kind: ir.OpWrite, Operands: []ir.ValueID{p[0], p[1], p[2]}})
	// Two readers: a read of the written array and the branch.
	f.Append(b0, ir.Op{Kind: ir.OpRead, Operands: []ir.ValueID{f.Result(w), p[2]}})
	branchTo8(f, b0, p[0], f.Result(w), p[2])
	require.NoError(t, f.Validate())

	verdict, err := AnalyzeWrite(f, w)
	require.NoError(t, err)
	require.Equal(t, LiveElsewhere, verdict.Kind)

	// A negative verdict must leave the function untouched.
	before := f.String()
	require.NoError(t, RewriteWriteInPlace(f, w, verdict))
	require.Equal(t, before, f.String())
}

func TestAnalyzeWriteBranchAndRewrite(t *testing.T) {
	f, b0, _ := arrayFunc(t)
	p := b0.Params
	w := f.Append(b0, ir.Op{Kind: ir.OpWrite, Operands: []ir.ValueID{p[0], p[1], p[2]}})
	wres := f.Result(w)
	branchTo8(f, b0, p[0], wres, p[2])
	require.NoError(t, f.Validate())

	verdict, err := AnalyzeWrite(f, w)
	require.NoError(t, err)
	require.Equal(t, RewritableBranch, verdict.Kind)

	opsBefore := liveOps(f)
	require.NoError(t, RewriteWriteInPlace(f, w, verdict))
	require.NoError(t, f.Validate())

	require.Equal(t, opsBefore, liveOps(f), "replace, not add")
	require.Empty(t, kindOps(f, ir.OpWrite))
	require.Empty(t, f.Uses(wres))

	wip := kindOps(f, ir.OpWriteInPlace)
	require.Len(t, wip, 1)
	require.Equal(t, []ir.ValueID{p[0], p[1], p[2]}, f.OpAt(wip[0]).Operands)
}

func mergeFunc(t *testing.T, writeInThen bool) (*ir.Func, ir.OpID, ir.OpID, ir.OpID) {
	f, b0, _ := arrayFunc(t)
	p := b0.Params
	before := f.Append(b0, ir.Op{Kind: ir.OpRead, Operands: []ir.ValueID{p[1], p[2]}})
	w := f.Append(b0, ir.Op{Kind: ir.OpWrite, Operands: []ir.ValueID{p[0], p[1], p[2]}})
	after := f.Append(b0, ir.Op{Kind: ir.OpRead, Operands: []ir.ValueID{p[1], p[2]}})
	arms := []ir.ValueID{f.Result(w), p[1]}
	if !writeInThen {
		arms = []ir.ValueID{p[1], f.Result(w)}
	}
	m := f.Append(b0, ir.Op{Kind: ir.OpIte, Operands: []ir.ValueID{p[0], arms[0], arms[1]}})
	branchTo8(f, b0, f.Result(before), f.Result(m), f.Result(after))
	require.NoError(t, f.Validate())
	return f, w, m, after
}

func TestAnalyzeWriteMergeBothArmOrders(t *testing.T) {
	for _, writeInThen := range []bool{true, false} {
		f, w, _, after := mergeFunc(t, writeInThen)
		verdict, err := AnalyzeWrite(f, w)
		require.NoError(t, err)
		require.Equal(t, RewritableMerge, verdict.Kind)
		require.Equal(t, []ir.OpID{after}, verdict.Hoist,
			"only the read after the write needs hoisting")
	}
}

func TestRewriteMergeHoistsReads(t *testing.T) {
	f, w, m, after := mergeFunc(t, true)
	wres := f.Result(w)
	base := f.OpAt(w).Operands[ir.WriteBase]

	verdict, err := AnalyzeWrite(f, w)
	require.NoError(t, err)
	require.NoError(t, RewriteWriteInPlace(f, w, verdict))
	require.NoError(t, f.Validate())

	wip := kindOps(f, ir.OpWriteInPlace)
	require.Len(t, wip, 1)
	require.Empty(t, f.Uses(wres))

	// Every read of the base array now sits strictly before the
	// destructive write.
	for _, read := range kindOps(f, ir.OpRead) {
		if f.OpAt(read).Operands[0] != base {
			continue
		}
		before, err := f.ComesBefore(read, wip[0])
		require.NoError(t, err)
		require.True(t, before)
	}
	require.Less(t, f.Position(after), f.Position(wip[0]))

	// The merge now selects between the mutated array and its base.
	require.Equal(t, f.Result(wip[0]), f.OpAt(m).Operands[ir.IteThen])
	require.Equal(t, base, f.OpAt(m).Operands[ir.IteElse])
}

func TestAnalyzeWriteMergeNotApplicable(t *testing.T) {
	t.Run("other arm is not the base", func(t *testing.T) {
		f, b0, _ := arrayFunc(t)
		p := b0.Params
		w := f.Append(b0, ir.Op{Kind: ir.OpWrite, Operands: []ir.ValueID{p[0], p[1], p[2]}})
		m := f.Append(b0, ir.Op{Kind: ir.OpIte, Operands: []ir.ValueID{p[0], f.Result(w), p[2]}})
		branchTo8(f, b0, p[0], f.Result(m), p[2])
		require.NoError(t, f.Validate())

		verdict, err := AnalyzeWrite(f, w)
		require.NoError(t, err)
		require.Equal(t, NotApplicable, verdict.Kind)
	})

	t.Run("merge feeds more than a branch", func(t *testing.T) {
		f, b0, _ := arrayFunc(t)
		p := b0.Params
		w := f.Append(b0, ir.Op{Kind: ir.OpWrite, Operands: []ir.ValueID{p[0], p[1], p[2]}})
		m := f.Append(b0, ir.Op{Kind: ir.OpIte, Operands: []ir.ValueID{p[0], f.Result(w), p[1]}})
		r := f.Append(b0, ir.Op{Kind: ir.OpRead, Operands: []ir.ValueID{f.Result(m), p[2]}})
		branchTo8(f, b0, f.Result(r), f.Result(m), p[2])
		require.NoError(t, f.Validate())

		verdict, err := AnalyzeWrite(f, w)
		require.NoError(t, err)
		require.Equal(t, NotApplicable, verdict.Kind)
	})

	t.Run("non-read use of the base after the write", func(t *testing.T) {
		f, b0, _ := arrayFunc(t)
		p := b0.Params
		w := f.Append(b0, ir.Op{Kind: ir.OpWrite, Operands: []ir.ValueID{p[0], p[1], p[2]}})
		m := f.Append(b0, ir.Op{Kind: ir.OpIte, Operands: []ir.ValueID{p[0], f.Result(w), p[1]}})
		alu := f.Append(b0, ir.Op{Kind: ir.OpAlu, Alu: ir.AluMov, Operands: []ir.ValueID{p[1], p[0]}})
		branchTo8(f, b0, f.Result(alu), f.Result(m), p[2])
		require.NoError(t, f.Validate())

		verdict, err := AnalyzeWrite(f, w)
		require.NoError(t, err)
		require.Equal(t, NotApplicable, verdict.Kind)
	})

	t.Run("read depends on a value defined after the write", func(t *testing.T) {
		f, b0, _ := arrayFunc(t)
		p := b0.Params
		w := f.Append(b0, ir.Op{Kind: ir.OpWrite, Operands: []ir.ValueID{p[0], p[1], p[2]}})
		idx := f.Append(b0, ir.Op{Kind: ir.OpConst, Imm: 4})
		r := f.Append(b0, ir.Op{Kind: ir.OpRead, Operands: []ir.ValueID{p[1], f.Result(idx)}})
		m := f.Append(b0, ir.Op{Kind: ir.OpIte, Operands: []ir.ValueID{p[0], f.Result(w), p[1]}})
		branchTo8(f, b0, f.Result(r), f.Result(m), p[2])
		require.NoError(t, f.Validate())

		verdict, err := AnalyzeWrite(f, w)
		require.NoError(t, err)
		require.Equal(t, NotApplicable, verdict.Kind)
	})
}

func TestAnalyzeWriteSingleNonBranchUse(t *testing.T) {
	f, b0, _ := arrayFunc(t)
	p := b0.Params
	w := f.Append(b0, ir.Op{Kind: ir.OpWrite, Operands: []ir.ValueID{p[0], p[1], p[2]}})
	r := f.Append(b0, ir.Op{Kind: ir.OpRead, Operands: []ir.ValueID{f.Result(w), p[2]}})
	branchTo8(f, b0, p[0], f.Result(r), p[2])
	require.NoError(t, f.Validate())

	verdict, err := AnalyzeWrite(f, w)
	require.NoError(t, err)
	require.Equal(t, NotApplicable, verdict.Kind)
}

func TestAnalyzeWriteRejectsNonWrite(t *testing.T) {
	f, b0, _ := arrayFunc(t)
	p := b0.Params
	r := f.Append(b0, ir.Op{Kind: ir.OpRead, Operands: []ir.ValueID{p[1], p[2]}})
	branchTo8(f, b0, p[0], f.Result(r), p[2])

	_, err := AnalyzeWrite(f, r)
	require.Error(t, err)
}

func TestWriteInPlacePassRun(t *testing.T) {
	f, _, _, _ := mergeFunc(t, true)
	pass := NewWriteInPlacePass(nil)
	require.NoError(t, pass.Run(f))
	require.Empty(t, kindOps(f, ir.OpWrite))
	require.Len(t, kindOps(f, ir.OpWriteInPlace), 1)

	// A second run finds nothing to rewrite.
	before := f.String()
	require.NoError(t, pass.Run(f))
	require.Equal(t, before, f.String())
}
