package jit

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble decodes code (as produced by Compile, via CompiledFn.Code)
// back into one line of Intel-syntax text per instruction, the same
// sanity check a JIT author runs by hand against objdump output before
// trusting a new Emit implementation.
func Disassemble(code []byte) ([]string, error) {
	var lines []string
	off := 0
	for off < len(code) {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return lines, fmt.Errorf("jit: disassemble at offset %d: %w", off, err)
		}
		lines = append(lines, fmt.Sprintf("%04x  %s", off, x86asm.IntelSyntax(inst, uint64(off), nil)))
		off += inst.Len
	}
	return lines, nil
}

// String mnemonics joined on newlines, for quick printf-debugging.
func DisassembleString(code []byte) (string, error) {
	lines, err := Disassemble(code)
	return strings.Join(lines, "\n"), err
}
