package dialect

// Compact op codes used by OpSize/Emplace's fixed 8-byte encoding: 1 byte
// opcode + up to 3 Var bytes + a 4-byte little-endian tail (an immediate,
// a relative instruction offset, or padding, depending on the opcode).
// Operands that don't fit this envelope (a constant-pool name, a tuple of
// more than one element) report an OpSize of 0 and have an Emplace that
// writes nothing, meaning "this instruction has no compact form, keep
// only its AST form."
const (
	opNop byte = iota
	opLbl
	opConstU64
	opConstBool
	opMov
	opLoadFnAddr
	opEq
	opLt
	opSub
	opAdd
	opMul
	opNot
	opRet
	opPrint
	opCall
	opJmp
	opJmpIf
	opJmpIfNot
	opTup
	opIdx
	opAlloc
	opLoad
	opStore
	opLoadC
	opPanic
)
