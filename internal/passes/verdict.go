// Package passes implements the two sound rewrite pipelines over a
// translated ir.Func: write-in-place (copy-eliminating array writes) and
// memory resolution (loads used purely as addresses). Both split analysis
// from rewriting: the analyzer proves a verdict, the rewriter applies it.
// Negative verdicts are ordinary results; the op is simply left alone.
package passes

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/orizon-lang/ebpfir/internal/ir"
)

// Internal-consistency faults. A rewrite that trips one of these has a
// bug or was fed corrupted IR; translation of the function is aborted.
var (
	ErrStaleUse       = errors.New("rewrite left a stale use of the replaced result")
	ErrSubWordAddress = errors.New("sub-word load classified as an address")
)

// WriteVerdictKind is the outcome of write-liveness analysis.
type WriteVerdictKind int

const (
	// LiveElsewhere: the written array has more than one reader; the
	// copy must stay.
	LiveElsewhere WriteVerdictKind = iota
	// NotApplicable: single use, but not a shape we can prove safe.
	NotApplicable
	// RewritableBranch: the only use is an unconditional branch argument.
	RewritableBranch
	// RewritableMerge: the conditionally-updated-array idiom, with all
	// conflicting reads relocatable ahead of the write.
	RewritableMerge
)

func (k WriteVerdictKind) String() string {
	switch k {
	case LiveElsewhere:
		return "live-elsewhere"
	case NotApplicable:
		return "not-applicable"
	case RewritableBranch:
		return "rewritable/branch"
	case RewritableMerge:
		return "rewritable/merge"
	}
	return "verdict?"
}

// WriteVerdict carries the analysis outcome for one write op. For
// RewritableMerge, Hoist lists the plain reads of the base array that must
// move ahead of the write, in their current block order.
type WriteVerdict struct {
	Kind  WriteVerdictKind
	Hoist []ir.OpID
}

// Rewritable reports whether the verdict permits an in-place rewrite.
func (v WriteVerdict) Rewritable() bool {
	return v.Kind == RewritableBranch || v.Kind == RewritableMerge
}

// LoadVerdict is the outcome of address-use classification.
type LoadVerdict int

const (
	// KeepAsInteger: at least one use consumes the loaded value as data.
	KeepAsInteger LoadVerdict = iota
	// Addressable: every use consumes the loaded value as a base address.
	Addressable
)

func (v LoadVerdict) String() string {
	if v == Addressable {
		return "addressable"
	}
	return "keep-as-integer"
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return log
}
