//go:build linux || darwin

package coop

import "golang.org/x/sys/unix"

// mmapAllocator backs coroutine stacks with anonymous, private, read/write
// pages obtained via mmap(2) — the default policy on unix targets, matching
// the original implementation's COROUTINE_STACK_MMAP policy.
type mmapAllocator struct{}

// MmapAllocator returns the anonymous-mmap StackAllocator policy.
func MmapAllocator() StackAllocator { return mmapAllocator{} }

func (mmapAllocator) Allocate(size int) []byte {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}
	return region
}

func (mmapAllocator) Release(region []byte) {
	if len(region) == 0 {
		return
	}
	_ = unix.Munmap(region)
}

func defaultAllocator() StackAllocator { return MmapAllocator() }
