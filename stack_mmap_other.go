//go:build !linux && !darwin

package coop

// MmapAllocator is unavailable on this platform; it falls back to the heap
// policy so callers that explicitly request it still get a working
// allocator rather than a build failure.
func MmapAllocator() StackAllocator { return HeapAllocator() }

func defaultAllocator() StackAllocator { return HeapAllocator() }
