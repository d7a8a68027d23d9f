package passes

import (
	"golang.org/x/exp/slog"

	"github.com/orizon-lang/ebpfir/internal/bpf"
	"github.com/orizon-lang/ebpfir/internal/ir"
	"github.com/orizon-lang/ebpfir/internal/translate"
)

// Flags selects which rewrite passes the pipeline runs after translation.
// The two pipelines touch disjoint op kinds and commute; the order here is
// not significant.
type Flags struct {
	WriteInPlace  bool
	ResolveMemory bool
}

// DefaultFlags enables both rewrite passes.
func DefaultFlags() Flags {
	return Flags{WriteInPlace: true, ResolveMemory: true}
}

// Pipeline drives translation and the rewrite passes over one program.
// It owns the produced function exclusively until Run returns.
type Pipeline struct {
	log   *slog.Logger
	flags Flags
}

// NewPipeline returns a pipeline; a nil logger discards.
func NewPipeline(log *slog.Logger, flags Flags) *Pipeline {
	return &Pipeline{log: orDiscard(log), flags: flags}
}

// Run translates prog and applies the enabled passes sequentially. Any
// error is fatal for this function body; there is no partial output.
func (p *Pipeline) Run(prog bpf.Program) (*ir.Func, error) {
	fn, err := translate.NewBuilder(p.log).Translate(prog)
	if err != nil {
		return nil, err
	}
	if p.flags.WriteInPlace {
		if err := NewWriteInPlacePass(p.log).Run(fn); err != nil {
			return nil, err
		}
	}
	if p.flags.ResolveMemory {
		if err := NewResolveMemoryPass(p.log).Run(fn); err != nil {
			return nil, err
		}
	}
	return fn, nil
}
