package bytecode

import (
	"fmt"

	"galevm/heap"
)

// AllocateType reserves room for one value of type t on h, writing the
// 8-byte length header sized arrays and strings carry (and, for sized
// strings, zeroing the trailing NUL slot) per spec.md §4.A.
func AllocateType(h *heap.Heap, t Type) (uint64, error) {
	size, ok := t.Size()
	if !ok {
		return 0, fmt.Errorf("bytecode: cannot allocate unsized type %s", t)
	}
	ptr, err := h.Allocate(size)
	if err != nil {
		return 0, err
	}
	switch t.Kind {
	case KArray:
		if err := h.StoreU64(ptr, t.Sz.N); err != nil {
			return 0, err
		}
	case KStr:
		if err := h.StoreU64(ptr, t.Sz.N); err != nil {
			return 0, err
		}
		if err := h.StoreU8(ptr+8+t.Sz.N, 0); err != nil {
			return 0, err
		}
	}
	return ptr, nil
}
