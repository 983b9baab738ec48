package coop

// heapAllocator backs coroutine stacks with ordinary Go heap allocations.
// This is the generic allocation policy from spec §4.1(b); it has no
// third-party equivalent worth reaching for — a byte slice from make() is
// already exactly "a contiguous, aligned, writable region", and the Go
// allocator already guarantees alignment well beyond 16 bytes for slices of
// this size.
type heapAllocator struct{}

// HeapAllocator returns the plain heap-allocation StackAllocator policy.
func HeapAllocator() StackAllocator { return heapAllocator{} }

func (heapAllocator) Allocate(size int) []byte {
	if size <= 0 {
		return nil
	}
	return make([]byte, size)
}

func (heapAllocator) Release([]byte) {
	// Left to the garbage collector; nothing to release explicitly.
}
