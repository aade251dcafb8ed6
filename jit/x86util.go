package jit

import "galevm/bytecode"

// This file holds the small set of x86-64 encoding helpers the compile
// orchestration (prologue/epilogue/call emission) needs directly, in the
// same hand-rolled style as dialect/x86enc.go (which lowers individual
// opcodes, not the function-level frame and call machinery). The two
// encoders are kept separate rather than shared because they operate at
// different levels: dialect's only ever addresses the Reg enum's ten
// allocator-visible registers, while this one also needs RSP/RBP/R12/R13,
// which never appear as a Var's location.

const (
	rRAX = 0
	rRCX = 1
	rRDX = 2
	rRBX = 3
	rRSP = 4
	rRBP = 5
	rRSI = 6
	rRDI = 7
	rR8  = 8
	rR9  = 9
	rR10 = 10
	rR11 = 11
	rR12 = 12
	rR13 = 13
)

func regEnc(r bytecode.Reg) byte {
	switch r {
	case bytecode.RAX:
		return rRAX
	case bytecode.RCX:
		return rRCX
	case bytecode.RDX:
		return rRDX
	case bytecode.RBX:
		return rRBX
	case bytecode.RSI:
		return rRSI
	case bytecode.RDI:
		return rRDI
	case bytecode.R8:
		return rR8
	case bytecode.R9:
		return rR9
	case bytecode.R10:
		return rR10
	case bytecode.R11:
		return rR11
	default:
		return rRAX
	}
}

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

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | rm&7 }

func ext(n byte) bool { return n >= 8 }

func emit(buf *[]byte, b ...byte) { *buf = append(*buf, b...) }

func emitU32(buf *[]byte, v uint32) {
	*buf = append(*buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func emitU64(buf *[]byte, v uint64) {
	emitU32(buf, uint32(v))
	emitU32(buf, uint32(v>>32))
}

// movRegRegRaw emits `mov dst, src` between two raw (non-bytecode.Reg)
// encodings, e.g. involving RBP/RSP/R12/R13.
func movRegRegRaw(buf *[]byte, dst, src byte) {
	emit(buf, rex(true, ext(src), false, ext(dst)), 0x89, modrm(3, src&7, dst&7))
}

func movRegImm64Raw(buf *[]byte, dst byte, imm uint64) {
	emit(buf, rex(true, false, false, ext(dst)), 0xB8+(dst&7))
	emitU64(buf, imm)
}

func movRegStackRaw(buf *[]byte, dst byte, base byte, off int32) {
	emit(buf, rex(true, ext(dst), false, ext(base)), 0x8B, modrm(2, dst&7, base&7))
	if base&7 == rRSP {
		// rm=100 is the SIB escape; 0x24 encodes "base only, no index".
		emit(buf, 0x24)
	}
	emitU32(buf, uint32(off))
}

func movStackRegRaw(buf *[]byte, base byte, off int32, src byte) {
	emit(buf, rex(true, ext(src), false, ext(base)), 0x89, modrm(2, src&7, base&7))
	if base&7 == rRSP {
		emit(buf, 0x24)
	}
	emitU32(buf, uint32(off))
}

func pushRegRaw(buf *[]byte, r byte) {
	if ext(r) {
		emit(buf, 0x41)
	}
	emit(buf, 0x50+(r&7))
}

func popRegRaw(buf *[]byte, r byte) {
	if ext(r) {
		emit(buf, 0x41)
	}
	emit(buf, 0x58+(r&7))
}

// callRegRaw emits `call r` (near, register-indirect).
func callRegRaw(buf *[]byte, r byte) {
	if ext(r) {
		emit(buf, 0x41)
	}
	emit(buf, 0xFF, modrm(3, 2, r&7))
}

func subRspImm32(buf *[]byte, n uint32) {
	emit(buf, rex(true, false, false, false), 0x81, modrm(3, 5, rRSP))
	emitU32(buf, n)
}

func addRspImm32(buf *[]byte, n uint32) {
	emit(buf, rex(true, false, false, false), 0x81, modrm(3, 0, rRSP))
	emitU32(buf, n)
}
