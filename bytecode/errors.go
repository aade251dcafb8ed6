package bytecode

import "errors"

// Runtime error taxonomy (spec.md §7 category 3): these are fatal to the
// owning VM instance. Load/type/JIT errors are defined in their owning
// packages (loader, jit) since they are recoverable at the embedder
// level and carry their own structured context.
var (
	ErrProgramFinished    = errors.New("vm: ran out of instructions")
	ErrSegmentationFault  = errors.New("vm: segmentation fault")
	ErrIllegalOperation   = errors.New("vm: illegal operation")
	ErrUnknownInstruction = errors.New("vm: instruction not recognized")
	ErrDivisionByZero     = errors.New("vm: division by zero")
	ErrUninitializedRead  = errors.New("vm: read of uninitialized value")
	ErrUnknownFunction    = errors.New("vm: call to unresolved function")
	ErrUserPanic          = errors.New("vm: panic instruction")
)
