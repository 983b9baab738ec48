package coop

// StackAllocator provides the byte region backing a coroutine's payload and
// scratch area. Two policies are built in (mmap and heap); a third,
// user-supplied implementation may be passed via WithStackAllocator.
//
// Allocate must return a nil region on failure rather than panicking — the
// spawner turns that into a spawn failure (see Runtime.Spawn).
type StackAllocator interface {
	// Allocate returns a region of exactly size bytes, 16-byte aligned at
	// the high end, or nil on failure.
	Allocate(size int) []byte
	// Release returns a region previously obtained from Allocate. The
	// runtime calls it once per region: when the slot's coroutine retires,
	// or from Runtime.DestroyAll for slots still live. A retired slot's
	// region is not kept for reuse; the next Spawn that takes the slot from
	// the free list allocates a new region.
	Release(region []byte)
}

const stackAlign = 16

// alignSize rounds size up to a multiple of stackAlign, matching the
// original implementation's "stack is required to be 16-byte aligned"
// rounding of the payload size.
func alignSize(size int) int {
	return (size + stackAlign - 1) &^ (stackAlign - 1)
}
