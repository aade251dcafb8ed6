package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// codeBuffer is a pinned, executable memory region holding one compiled
// function's machine code. The heap's "never relocates" guarantee has a
// counterpart here: once makeExecutable has been called, the buffer's
// address never changes and is safe to hand out as a function pointer
// (spec.md §4.J). The mmap-an-anonymous-region approach is grounded on
// other_examples/wudi-hey's executable-memory allocator; that example
// maps RWX in a single call, where this one maps RW and flips to RX via
// mprotect once emission finishes, since nothing here ever needs the
// region writable and executable at the same time. The calls go through
// golang.org/x/sys/unix, the same package ymm135-go/cmd_local depends
// on, rather than hand-rolled syscall.Syscall numbers.
type codeBuffer struct {
	region []byte
	addr   uintptr
}

// allocExecutable reserves size bytes of RW memory via mmap. The region
// starts non-executable so the emitter can write into it normally;
// makeExecutable flips it to RX once code generation finishes.
func allocExecutable(size int) (*codeBuffer, error) {
	if size == 0 {
		size = 4096
	}
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap failed: %w", err)
	}
	return &codeBuffer{region: region, addr: uintptr(unsafe.Pointer(&region[0]))}, nil
}

// bytes exposes a writable view over the buffer, for the emitter to append
// machine code into during compilation.
func (c *codeBuffer) bytes() []byte {
	return c.region
}

// makeExecutable switches the region from RW to RX via mprotect, the point
// at which the buffer becomes safe to jump into.
func (c *codeBuffer) makeExecutable() error {
	if err := unix.Mprotect(c.region, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("jit: mprotect failed: %w", err)
	}
	return nil
}

// free releases the region via munmap. Nothing in this engine calls it:
// every compiled function stays mapped for the VM's lifetime.
func (c *codeBuffer) free() error {
	if err := unix.Munmap(c.region); err != nil {
		return fmt.Errorf("jit: munmap failed: %w", err)
	}
	return nil
}

// entry returns the buffer's base address as a callable function pointer.
func (c *codeBuffer) entry() uintptr { return c.addr }
