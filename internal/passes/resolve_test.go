package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/ebpfir/internal/bpf"
	"github.com/orizon-lang/ebpfir/internal/ir"
	"github.com/orizon-lang/ebpfir/internal/translate"
)

func translateSrc(t *testing.T, src string) *ir.Func {
	t.Helper()
	prog, err := bpf.ParseProgram(src)
	require.NoError(t, err)
	fn, err := translate.NewBuilder(nil).Translate(prog)
	require.NoError(t, err)
	return fn
}

func soleLoad(t *testing.T, f *ir.Func) ir.OpID {
	t.Helper()
	loads := kindOps(f, ir.OpLoad)
	require.Len(t, loads, 1)
	return loads[0]
}

func TestClassifyLoadUsedOnlyAsBase(t *testing.T) {
	fn := translateSrc(t, `
		ldxdw r1, [r0+0]
		stxdw [r1+0], r2
		stxdw [r1+8], r3
		exit
	`)
	verdict, err := ClassifyLoadUses(fn, soleLoad(t, fn))
	require.NoError(t, err)
	require.Equal(t, Addressable, verdict)
}

func TestClassifyLoadUsedAsStoredValue(t *testing.T) {
	// One use is a store base, the other the stored value.
	fn := translateSrc(t, `
		ldxdw r1, [r0+0]
		stxdw [r1+0], r2
		stxdw [r2+8], r1
		exit
	`)
	verdict, err := ClassifyLoadUses(fn, soleLoad(t, fn))
	require.NoError(t, err)
	require.Equal(t, KeepAsInteger, verdict)
}

func TestClassifyLoadFeedingAlu(t *testing.T) {
	fn := translateSrc(t, `
		ldxdw r1, [r0+0]
		add r1, 4
		exit
	`)
	verdict, err := ClassifyLoadUses(fn, soleLoad(t, fn))
	require.NoError(t, err)
	require.Equal(t, KeepAsInteger, verdict)
}

func TestClassifyLoadFeedingAnotherLoadBase(t *testing.T) {
	fn := translateSrc(t, `
		ldxdw r1, [r0+0]
		ldxdw r2, [r1+16]
		exit
	`)
	loads := kindOps(fn, ir.OpLoad)
	require.Len(t, loads, 2)
	verdict, err := ClassifyLoadUses(fn, loads[0])
	require.NoError(t, err)
	require.Equal(t, Addressable, verdict)
}

func TestClassifyDeadLoad(t *testing.T) {
	fn := translateSrc(t, "ldxdw r1, [r0+0]\nexit\n")
	verdict, err := ClassifyLoadUses(fn, soleLoad(t, fn))
	require.NoError(t, err)
	require.Equal(t, KeepAsInteger, verdict)
}

func TestClassifyRejectsNonLoad(t *testing.T) {
	fn := translateSrc(t, "mov r0, 1\nexit\n")
	alus := kindOps(fn, ir.OpAlu)
	require.Len(t, alus, 1)
	_, err := ClassifyLoadUses(fn, alus[0])
	require.Error(t, err)
}

func TestResolveMemoryRewritesFullWidthLoad(t *testing.T) {
	fn := translateSrc(t, `
		ldxdw r1, [r0+0]
		stxdw [r1+8], r2
		exit
	`)
	load := soleLoad(t, fn)
	base := fn.OpAt(load).Operands[ir.MemBase]
	off := fn.OpAt(load).Operands[ir.MemOff]

	require.NoError(t, NewResolveMemoryPass(nil).Run(fn))
	require.Empty(t, kindOps(fn, ir.OpLoad))

	addrs := kindOps(fn, ir.OpLoadAddr)
	require.Len(t, addrs, 1)
	require.Equal(t, []ir.ValueID{base, off}, fn.OpAt(addrs[0]).Operands)

	stores := kindOps(fn, ir.OpStore)
	require.Len(t, stores, 1)
	require.Equal(t, fn.Result(addrs[0]), fn.OpAt(stores[0]).Operands[ir.MemBase])
}

func TestResolveMemoryLeavesIntegerLoads(t *testing.T) {
	fn := translateSrc(t, `
		ldxdw r1, [r0+0]
		add r1, 4
		exit
	`)
	before := fn.String()
	require.NoError(t, NewResolveMemoryPass(nil).Run(fn))
	require.Equal(t, before, fn.String())
}

func TestResolveMemorySubWordAddressFault(t *testing.T) {
	// A 4-byte load with exclusively address-typed uses is an internal
	// inconsistency, not a silent skip.
	fn := translateSrc(t, `
		ldxw r1, [r0+0]
		stxdw [r1+0], r2
		stxdw [r1+8], r3
		exit
	`)
	err := NewResolveMemoryPass(nil).Run(fn)
	require.ErrorIs(t, err, ErrSubWordAddress)
}

func TestRewriteLoadAddrRejectsSubWord(t *testing.T) {
	fn := translateSrc(t, `
		ldxh r1, [r0+0]
		stxdw [r1+0], r2
		exit
	`)
	err := RewriteLoadAddr(fn, soleLoad(t, fn))
	require.ErrorIs(t, err, ErrSubWordAddress)
}

func TestPipelineEndToEnd(t *testing.T) {
	prog, err := bpf.ParseProgram(`
		ldxdw r1, [r0+0]
		stxdw [r1+8], r2
		exit
	`)
	require.NoError(t, err)
	fn, err := NewPipeline(nil, DefaultFlags()).Run(prog)
	require.NoError(t, err)
	require.Empty(t, kindOps(fn, ir.OpLoad))
	require.Len(t, kindOps(fn, ir.OpLoadAddr), 1)
}

func TestPassOrderCommutes(t *testing.T) {
	src := `
		ldxdw r1, [r0+0]
		stxdw [r1+8], r2
		ldxw r3, [r0+16]
		add r3, 1
		exit
	`
	ab := translateSrc(t, src)
	require.NoError(t, NewWriteInPlacePass(nil).Run(ab))
	require.NoError(t, NewResolveMemoryPass(nil).Run(ab))

	ba := translateSrc(t, src)
	require.NoError(t, NewResolveMemoryPass(nil).Run(ba))
	require.NoError(t, NewWriteInPlacePass(nil).Run(ba))

	require.Equal(t, ab.String(), ba.String())
}
