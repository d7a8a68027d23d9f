package bpf

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseProgram assembles a small line-oriented textual form into a
// Program, one instruction per line, ';' starting a comment. It exists so
// the CLI and tests can feed the translator without the ELF front end.
//
//	mov r1, 42        alu with immediate
//	add r1, r2        alu with register
//	neg r3            unary
//	ldxdw r1, [r0+0]  load (b/h/w/dw = 1/2/4/8 bytes)
//	stxdw [r1+8], r2  store from register
//	stw [r1+4], 7     store immediate
//	lddw r1, map 3    map descriptor load
//	ja 10             unconditional jump to absolute offset
//	jeq r1, 0, 10     conditional jump to absolute offset
//	exit              program exit
//	call 6            helper call (skipped by the translator)
func ParseProgram(src string) (Program, error) {
	var prog Program
	for lineno, raw := range strings.Split(src, "\n") {
		line := raw
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ins, err := parseInstruction(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d: %q", lineno+1, strings.TrimSpace(raw))
		}
		prog = append(prog, LabeledInstruction{
			Label: Label{From: len(prog)},
			Ins:   ins,
			Note:  strings.TrimSpace(raw),
		})
	}
	return prog, nil
}

var aluByName = map[string]AluOp{
	"mov": AluMov, "movsx8": AluMovsx8, "movsx16": AluMovsx16, "movsx32": AluMovsx32,
	"add": AluAdd, "sub": AluSub, "mul": AluMul,
	"div": AluUDiv, "sdiv": AluSDiv, "mod": AluUMod, "smod": AluSMod,
	"or": AluOr, "and": AluAnd, "lsh": AluLsh, "rsh": AluRsh, "arsh": AluArsh,
	"xor": AluXor,
}

var unByName = map[string]UnOp{
	"be16": UnBe16, "be32": UnBe32, "be64": UnBe64,
	"le16": UnLe16, "le32": UnLe32, "le64": UnLe64,
	"swap16": UnSwap16, "swap32": UnSwap32, "swap64": UnSwap64,
	"neg": UnNeg,
}

var condByName = map[string]CondOp{
	"jeq": CondEq, "jne": CondNe, "jset": CondSet, "jnset": CondNSet,
	"jlt": CondLt, "jle": CondLe, "jgt": CondGt, "jge": CondGe,
	"jslt": CondSLt, "jsle": CondSLe, "jsgt": CondSGt, "jsge": CondSGe,
}

var widthBySuffix = map[string]int{"b": 1, "h": 2, "w": 4, "dw": 8}

func parseInstruction(line string) (Instruction, error) {
	fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
	mnemonic, args := fields[0], fields[1:]

	switch {
	case mnemonic == "exit":
		return wantArgs(Exit{}, args, 0)
	case mnemonic == "call":
		if len(args) != 1 {
			return nil, errors.Errorf("call takes one argument, got %d", len(args))
		}
		fn, err := parseInt(args[0])
		if err != nil {
			return nil, err
		}
		return Call{Func: fn}, nil
	case mnemonic == "ja":
		if len(args) != 1 {
			return nil, errors.Errorf("ja takes one argument, got %d", len(args))
		}
		target, err := parseInt(args[0])
		if err != nil {
			return nil, err
		}
		return Jump{Target: Label{From: int(target)}}, nil
	case mnemonic == "lddw" && len(args) == 3 && args[1] == "map":
		dst, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		fd, err := parseInt(args[2])
		if err != nil {
			return nil, err
		}
		return LoadMapFd{Dst: dst, MapFd: fd}, nil
	}

	if op, ok := condByName[mnemonic]; ok {
		if len(args) != 3 {
			return nil, errors.Errorf("%s takes three arguments, got %d", mnemonic, len(args))
		}
		left, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		right, err := parseOperand(args[1])
		if err != nil {
			return nil, err
		}
		target, err := parseInt(args[2])
		if err != nil {
			return nil, err
		}
		return Jump{
			Cond:   &JumpCond{Op: op, Left: left, Right: right},
			Target: Label{From: int(target)},
		}, nil
	}

	if op, ok := unByName[mnemonic]; ok {
		if len(args) != 1 {
			return nil, errors.Errorf("%s takes one register, got %d arguments", mnemonic, len(args))
		}
		dst, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		return Unary{Op: op, Dst: dst}, nil
	}

	if op, ok := aluByName[mnemonic]; ok {
		if len(args) != 2 {
			return nil, errors.Errorf("%s takes two arguments, got %d", mnemonic, len(args))
		}
		dst, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		src, err := parseOperand(args[1])
		if err != nil {
			return nil, err
		}
		return Binary{Op: op, Dst: dst, Src: src}, nil
	}

	if strings.HasPrefix(mnemonic, "ldx") {
		width, ok := widthBySuffix[mnemonic[3:]]
		if !ok {
			return nil, errors.Errorf("unknown load width in %q", mnemonic)
		}
		if len(args) != 2 {
			return nil, errors.Errorf("%s takes a register and an address, got %d arguments", mnemonic, len(args))
		}
		dst, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		base, off, err := parseAddr(args[1])
		if err != nil {
			return nil, err
		}
		return Memory{Width: width, IsLoad: true, Base: base, Offset: off, Value: RegOp(dst)}, nil
	}

	if strings.HasPrefix(mnemonic, "stx") || strings.HasPrefix(mnemonic, "st") {
		suffix := strings.TrimPrefix(strings.TrimPrefix(mnemonic, "stx"), "st")
		width, ok := widthBySuffix[suffix]
		if !ok {
			return nil, errors.Errorf("unknown store width in %q", mnemonic)
		}
		if len(args) != 2 {
			return nil, errors.Errorf("%s takes an address and a value, got %d arguments", mnemonic, len(args))
		}
		base, off, err := parseAddr(args[0])
		if err != nil {
			return nil, err
		}
		val, err := parseOperand(args[1])
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(mnemonic, "stx") && val.IsImm {
			return nil, errors.Errorf("%s stores from a register, got immediate %d", mnemonic, val.Imm)
		}
		return Memory{Width: width, IsLoad: false, Base: base, Offset: off, Value: val}, nil
	}

	return nil, errors.Errorf("unknown mnemonic %q", mnemonic)
}

func wantArgs(ins Instruction, args []string, n int) (Instruction, error) {
	if len(args) != n {
		return nil, errors.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return ins, nil
}

func parseReg(s string) (Reg, error) {
	if !strings.HasPrefix(s, "r") {
		return 0, errors.Errorf("expected register, got %q", s)
	}
	n, err := strconv.ParseUint(s[1:], 10, 8)
	if err != nil || !Reg(n).Valid() {
		return 0, errors.Errorf("bad register %q", s)
	}
	return Reg(n), nil
}

func parseOperand(s string) (Operand, error) {
	if strings.HasPrefix(s, "r") {
		r, err := parseReg(s)
		if err != nil {
			return Operand{}, err
		}
		return RegOp(r), nil
	}
	v, err := parseInt(s)
	if err != nil {
		return Operand{}, err
	}
	return Imm(v), nil
}

// parseAddr accepts "[rN+off]" and "[rN-off]"; a bare "[rN]" means offset 0.
func parseAddr(s string) (Reg, int64, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return 0, 0, errors.Errorf("expected [reg+off] address, got %q", s)
	}
	inner := s[1 : len(s)-1]
	sep := strings.IndexAny(inner, "+-")
	if sep < 0 {
		r, err := parseReg(inner)
		return r, 0, err
	}
	r, err := parseReg(inner[:sep])
	if err != nil {
		return 0, 0, err
	}
	off, err := parseInt(inner[sep:])
	if err != nil {
		return 0, 0, err
	}
	return r, off, nil
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 0, 64)
	if err != nil {
		return 0, errors.Errorf("bad integer %q", s)
	}
	return v, nil
}
