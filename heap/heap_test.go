package heap

import (
	"errors"
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%s", format), args...)
	}
}

func TestAllocateNeverReturnsNull(t *testing.T) {
	h := New(0)
	p, err := h.Allocate(8)
	assert(t, err == nil, "allocate: %v", err)
	assert(t, p != 0, "first allocation handed out the null address")
}

func TestStoreLoadRoundTrip(t *testing.T) {
	h := New(0)
	p, err := h.Allocate(32)
	assert(t, err == nil, "allocate: %v", err)

	assert(t, h.StoreU64(p, 0xDEADBEEFCAFE) == nil, "store failed")
	v, err := h.LoadU64(p)
	assert(t, err == nil, "load: %v", err)
	assert(t, v == 0xDEADBEEFCAFE, "loaded %x", v)

	// Unaligned access is allowed by design.
	assert(t, h.StoreU64(p+1, 42) == nil, "unaligned store failed")
	v, err = h.LoadU64(p + 1)
	assert(t, err == nil, "unaligned load: %v", err)
	assert(t, v == 42, "unaligned loaded %d", v)
}

func TestIndexBytesBounds(t *testing.T) {
	h := New(0)
	p, _ := h.Allocate(16)
	_, err := h.IndexBytes(p, 16)
	assert(t, err == nil, "index to the end must succeed: %v", err)
	_, err = h.IndexBytes(p, 17)
	assert(t, errors.Is(err, ErrOutOfBounds), "want ErrOutOfBounds, got %v", err)
}

func TestAllocatePastCapacityFails(t *testing.T) {
	h := New(64)
	_, err := h.Allocate(32)
	assert(t, err == nil, "first allocate: %v", err)
	_, err = h.Allocate(64)
	assert(t, errors.Is(err, ErrExhausted), "want ErrExhausted, got %v", err)
	// The failed allocation must not have consumed anything.
	_, err = h.Allocate(8)
	assert(t, err == nil, "arena corrupted by failed allocate: %v", err)
}

func TestStoreStringRoundTrip(t *testing.T) {
	h := New(0)
	s := "hello, arena"
	p, err := h.Allocate(8 + uint64(len(s)) + 1)
	assert(t, err == nil, "allocate: %v", err)
	assert(t, h.StoreString(p, s) == nil, "store string failed")

	got, err := h.LoadString(p)
	assert(t, err == nil, "load string: %v", err)
	assert(t, got == s, "round-tripped %q", got)

	// NUL terminator sits right after the bytes.
	b, err := h.LoadU8(p + 8 + uint64(len(s)))
	assert(t, err == nil, "load terminator: %v", err)
	assert(t, b == 0, "terminator = %d", b)
}
