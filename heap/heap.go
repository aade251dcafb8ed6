// Package heap implements the engine's single contiguous byte arena.
//
// The arena only grows and never relocates: the backing array is
// preallocated at its maximum capacity up front, so every pointer handed
// out by Allocate stays valid for the lifetime of the Heap. Code compiled
// by the JIT is allowed to materialize raw addresses into this arena and
// rely on them surviving across calls (see jit.State) - that guarantee
// would not hold if Allocate ever reallocated the backing slice.
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOutOfBounds is returned by IndexBytes when an address falls
	// outside the live extent of the arena.
	ErrOutOfBounds = errors.New("heap: address out of bounds")
	// ErrExhausted is returned (and, from the VM's point of view, is
	// fatal) when Allocate would need to grow the arena past its
	// configured maximum capacity.
	ErrExhausted = errors.New("heap: capacity exhausted")
)

// DefaultCapacity is used when a VM is constructed without an explicit
// heap size: a fixed 1 MiB arena.
const DefaultCapacity = 1 << 20 // 1 MiB

// Heap is a flat, append-only byte arena. It is owned by exactly one VM
// instance and mutated only by the interpreter or JIT-compiled code
// currently running on that VM's thread (see SPEC_FULL.md §5).
type Heap struct {
	buf  []byte // len == cap == capacity; `used` tracks the live extent
	used uint64
}

// New preallocates a Heap with room for `capacity` bytes. The backing
// array is sized to capacity immediately so growth never reallocates.
// The first word is reserved: no allocation is ever handed out at
// address 0, so managed code (and the CLI's argv array) can use 0 as a
// null sentinel.
func New(capacity uint64) *Heap {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return &Heap{buf: make([]byte, capacity), used: 8}
}

// Len returns the number of bytes currently allocated.
func (h *Heap) Len() uint64 { return h.used }

// Cap returns the arena's fixed maximum capacity.
func (h *Heap) Cap() uint64 { return uint64(len(h.buf)) }

// Allocate reserves `size` fresh bytes and returns a pointer to the start
// of the new region. It never relocates existing data; once the arena's
// capacity would be exceeded it fails fatally rather than reallocate,
// since reallocating would invalidate every pointer already handed out to
// managed or JIT-compiled code.
func (h *Heap) Allocate(size uint64) (uint64, error) {
	if size > h.Cap()-h.used {
		return 0, fmt.Errorf("%w: requested %d, have %d of %d", ErrExhausted, size, h.Cap()-h.used, h.Cap())
	}
	ptr := h.used
	h.used += size
	return ptr, nil
}

// Free is a stub: this engine never reclaims heap memory (see
// SPEC_FULL.md Non-goals - no garbage collector).
func (h *Heap) Free(ptr uint64) {}

// IndexBytes performs pointer arithmetic with a bounds check against the
// live extent of the arena.
func (h *Heap) IndexBytes(ptr, n uint64) (uint64, error) {
	addr := ptr + n
	if addr > h.used || addr < ptr {
		return 0, fmt.Errorf("%w: %d+%d", ErrOutOfBounds, ptr, n)
	}
	return addr, nil
}

func (h *Heap) bounds(ptr, width uint64) error {
	if ptr+width > h.used || ptr+width < ptr {
		return fmt.Errorf("%w: access [%d,%d)", ErrOutOfBounds, ptr, ptr+width)
	}
	return nil
}

// StoreU8, StoreU16, StoreU32 and StoreU64 write an unaligned little
// endian value at ptr. LoadU8..LoadU64 are their readers. Go has no
// direct equivalent of a generic store<T>/load<T> pair over raw memory
// without resorting to unsafe, so the engine exposes one accessor per
// width instead (see DESIGN.md).
func (h *Heap) StoreU8(ptr uint64, v uint8) error {
	if err := h.bounds(ptr, 1); err != nil {
		return err
	}
	h.buf[ptr] = v
	return nil
}

func (h *Heap) LoadU8(ptr uint64) (uint8, error) {
	if err := h.bounds(ptr, 1); err != nil {
		return 0, err
	}
	return h.buf[ptr], nil
}

func (h *Heap) StoreU16(ptr uint64, v uint16) error {
	if err := h.bounds(ptr, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(h.buf[ptr:], v)
	return nil
}

func (h *Heap) LoadU16(ptr uint64) (uint16, error) {
	if err := h.bounds(ptr, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(h.buf[ptr:]), nil
}

func (h *Heap) StoreU32(ptr uint64, v uint32) error {
	if err := h.bounds(ptr, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(h.buf[ptr:], v)
	return nil
}

func (h *Heap) LoadU32(ptr uint64) (uint32, error) {
	if err := h.bounds(ptr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(h.buf[ptr:]), nil
}

func (h *Heap) StoreU64(ptr uint64, v uint64) error {
	if err := h.bounds(ptr, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(h.buf[ptr:], v)
	return nil
}

func (h *Heap) LoadU64(ptr uint64) (uint64, error) {
	if err := h.bounds(ptr, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(h.buf[ptr:]), nil
}

// StoreString writes an 8-byte length header followed by s's bytes and a
// trailing NUL, starting at ptr. The caller is responsible for having
// allocated enough room (see bytecode.Type.Size for sized strings).
func (h *Heap) StoreString(ptr uint64, s string) error {
	total := 8 + uint64(len(s)) + 1
	if err := h.bounds(ptr, total); err != nil {
		return err
	}
	if err := h.StoreU64(ptr, uint64(len(s))); err != nil {
		return err
	}
	copy(h.buf[ptr+8:], s)
	h.buf[ptr+8+uint64(len(s))] = 0
	return nil
}

// LoadString reads back a length-prefixed, NUL-terminated string written
// by StoreString or by store_string in a loaded constant pool.
func (h *Heap) LoadString(ptr uint64) (string, error) {
	n, err := h.LoadU64(ptr)
	if err != nil {
		return "", err
	}
	if err := h.bounds(ptr+8, n); err != nil {
		return "", err
	}
	return string(h.buf[ptr+8 : ptr+8+n]), nil
}

// RawBytes exposes a read/write view of [ptr, ptr+n) without a bounds
// check beyond what the caller already established; used by instructions
// that need to materialize a slice (e.g. building the CLI argv array).
func (h *Heap) RawBytes(ptr, n uint64) []byte {
	return h.buf[ptr : ptr+n]
}

// HeapDump renders a hex dump of the live extent of the arena, for use by
// the debugger's `memdump` command (see SPEC_FULL.md §6).
func (h *Heap) HeapDump() string {
	var b strings.Builder
	for off := uint64(0); off < h.used; off += 16 {
		end := off + 16
		if end > h.used {
			end = h.used
		}
		fmt.Fprintf(&b, "%08x  ", off)
		for i := off; i < end; i++ {
			fmt.Fprintf(&b, "%02x ", h.buf[i])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
