package dialect

import "galevm/bytecode"

// regNum maps a bytecode.Reg to the low three bits of its x86-64 register
// number (0-7), the part that goes into a ModRM field. The allocator's
// pool includes R8-R11, which map to 0-3 here; the encoders below set the
// matching REX.R/REX.B extension bit for them via needsRexB.
// VarLoc.StackOff is always RBP relative.
func regNum(r bytecode.Reg) byte {
	switch r {
	case bytecode.RAX:
		return 0
	case bytecode.RCX:
		return 1
	case bytecode.RDX:
		return 2
	case bytecode.RBX:
		return 3
	case bytecode.RSI:
		return 6
	case bytecode.RDI:
		return 7
	case bytecode.R8:
		return 0
	case bytecode.R9:
		return 1
	case bytecode.R10:
		return 2
	case bytecode.R11:
		return 3
	default:
		return 0
	}
}

// needsRexB reports whether r is one of R8-R11, requiring REX.B.
func needsRexB(r bytecode.Reg) bool {
	switch r {
	case bytecode.R8, bytecode.R9, bytecode.R10, bytecode.R11:
		return true
	default:
		return false
	}
}

const rbpEncoding = 5

// rex builds a REX prefix byte. w selects 64-bit operand size (always true
// here - every Var is a 64-bit word); r/x/b are the extension bits for the
// ModRM reg, SIB index, and ModRM rm/base fields respectively.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

func putU32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

// movRegReg emits `mov dst, src` (both 64-bit GPRs).
func movRegReg(e bytecode.Emitter, dst, src bytecode.Reg) {
	e.Emit(rex(true, needsRexB(src), false, needsRexB(dst)), 0x89, modrm(3, regNum(src), regNum(dst)))
}

// movRegImm64 emits `movabs dst, imm`.
func movRegImm64(e bytecode.Emitter, dst bytecode.Reg, imm uint64) {
	e.Emit(rex(true, false, false, needsRexB(dst)), 0xB8+regNum(dst))
	e.EmitU64(imm)
}

// movRegStack emits `mov dst, [rbp+off]`.
func movRegStack(e bytecode.Emitter, dst bytecode.Reg, off int32) {
	e.Emit(rex(true, needsRexB(dst), false, false), 0x8B, modrm(2, regNum(dst), rbpEncoding))
	e.EmitU32(uint32(off))
}

// movStackReg emits `mov [rbp+off], src`.
func movStackReg(e bytecode.Emitter, off int32, src bytecode.Reg) {
	e.Emit(rex(true, needsRexB(src), false, false), 0x89, modrm(2, regNum(src), rbpEncoding))
	e.EmitU32(uint32(off))
}

// loadOperand materializes Var v into scratch register r, from wherever
// e.Loc(v) says it currently lives.
func loadOperand(e bytecode.Emitter, v bytecode.Var, r bytecode.Reg) {
	loc := e.Loc(v)
	if loc.InRegister {
		if loc.Reg != r {
			movRegReg(e, r, loc.Reg)
		}
		return
	}
	movRegStack(e, r, loc.StackOff)
}

// storeResult writes scratch register r into Var dest's current location.
func storeResult(e bytecode.Emitter, dest bytecode.Var, r bytecode.Reg) {
	loc := e.Loc(dest)
	if loc.InRegister {
		if loc.Reg != r {
			movRegReg(e, loc.Reg, r)
		}
		return
	}
	movStackReg(e, loc.StackOff, r)
}

func addRegReg(e bytecode.Emitter, dst, src bytecode.Reg) {
	e.Emit(rex(true, needsRexB(src), false, needsRexB(dst)), 0x01, modrm(3, regNum(src), regNum(dst)))
}

func subRegReg(e bytecode.Emitter, dst, src bytecode.Reg) {
	e.Emit(rex(true, needsRexB(src), false, needsRexB(dst)), 0x29, modrm(3, regNum(src), regNum(dst)))
}

// imulRegReg emits `imul dst, src` (two-operand form, 0F AF).
func imulRegReg(e bytecode.Emitter, dst, src bytecode.Reg) {
	e.Emit(rex(true, needsRexB(dst), false, needsRexB(src)), 0x0F, 0xAF, modrm(3, regNum(dst), regNum(src)))
}

func cmpRegReg(e bytecode.Emitter, a, b bytecode.Reg) {
	e.Emit(rex(true, needsRexB(b), false, needsRexB(a)), 0x39, modrm(3, regNum(b), regNum(a)))
}

// setccReg emits `setcc r8` then zero-extends into the full register, for
// cc in {0x94 (sete), 0x9C (setl)}. A REX prefix is always emitted for the
// setcc step, even with no extension bits set: without one, an 8-bit
// operand referring to register number 4-7 addresses AH/CH/DH/BH instead
// of SPL/BPL/SIL/DIL, and the emitter's scratch pair is RSI/RDI.
func setccReg(e bytecode.Emitter, cc byte, dst bytecode.Reg) {
	e.Emit(rex(false, false, false, needsRexB(dst)), 0x0F, cc, modrm(3, 0, regNum(dst)))
	e.Emit(rex(true, needsRexB(dst), false, needsRexB(dst)), 0x0F, 0xB6, modrm(3, regNum(dst), regNum(dst)))
}

const (
	ccEqual = 0x94
	ccLess  = 0x9C
)

func testRegReg(e bytecode.Emitter, a, b bytecode.Reg) {
	e.Emit(rex(true, needsRexB(b), false, needsRexB(a)), 0x85, modrm(3, regNum(b), regNum(a)))
}

// jmpRel32 emits `jmp rel32` and returns the code offset of the 4-byte
// displacement, for the caller to record a fixup against.
func jmpRel32(e bytecode.Emitter) int {
	e.Emit(0xE9)
	at := e.Pos()
	e.EmitU32(0)
	return at
}

// jccRel32 emits `jcc rel32` for a tttn condition code (the second byte
// of the two-byte Jcc opcode, e.g. 0x84 == je) and returns the fixup
// offset.
func jccRel32(e bytecode.Emitter, tttn byte) int {
	e.Emit(0x0F, tttn)
	at := e.Pos()
	e.EmitU32(0)
	return at
}

const (
	jccJE  = 0x84
	jccJNE = 0x85
)

// notReg emits a logical `val == 0` into dst via cmp+sete, since the
// engine's bool is a 0/1 word rather than a bitwise-invertible flag.
func notReg(e bytecode.Emitter, dst bytecode.Reg) {
	e.Emit(rex(true, false, false, needsRexB(dst)), 0x83, modrm(3, 7, regNum(dst)))
	e.Emit(0x00)
	setccReg(e, ccEqual, dst)
}
